package types

import (
	"github.com/valyala/fasthttp"
)

type FastHTTPHandler func(ctx *fasthttp.RequestCtx)

// RouteParam returns a path parameter captured by the router.
func RouteParam(ctx *fasthttp.RequestCtx, name string) string {
	if value, ok := ctx.UserValue(name).(string); ok {
		return value
	}
	return ""
}
