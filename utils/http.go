package utils

import "github.com/valyala/fasthttp"

func NoCache(ctx *fasthttp.RequestCtx) {
	ctx.Response.Header.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	ctx.Response.Header.Set("Pragma", "no-cache")
	ctx.Response.Header.Set("Expires", "0")
}

func propagateRequestID(ctx *fasthttp.RequestCtx) {
	if requestID := ctx.Request.Header.Peek("X-Request-ID"); len(requestID) > 0 {
		ctx.Response.Header.SetBytesV("X-Request-ID", requestID)
	}
}

func CreateErrorResponse(ctx *fasthttp.RequestCtx) {
	ctx.SetStatusCode(fasthttp.StatusInternalServerError)
	ctx.SetContentType("text/html; charset=utf-8")
	NoCache(ctx)
	propagateRequestID(ctx)

	ctx.SetBodyString(`<!doctype html><html><body><h1>500</h1><p>Terjadi kesalahan tak terduga.</p></body></html>`)
}

func CreateJSONError(ctx *fasthttp.RequestCtx, status int, message string) {
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	NoCache(ctx)
	propagateRequestID(ctx)

	body, err := Marshal(map[string]string{
		"error":   fasthttp.StatusMessage(status),
		"message": message,
	})
	if err != nil {
		ctx.SetBodyString(`{"error":"Internal Server Error"}`)
		return
	}
	ctx.SetBody(body)
}

// Redirect issues a 303 so that a POSTed form is followed by a GET.
func Redirect(ctx *fasthttp.RequestCtx, location string) {
	NoCache(ctx)
	ctx.Redirect(location, fasthttp.StatusSeeOther)
}
