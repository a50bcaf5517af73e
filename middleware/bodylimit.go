package middleware

import (
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-desa/types"
	"github.com/saiset-co/sai-desa/utils"
)

type BodyLimitMiddleware struct {
	logger          types.Logger
	metrics         types.MetricsManager
	bodyLimitConfig *BodyLimitConfig
	weight          int
}

type BodyLimitConfig struct {
	MaxBodySize int `json:"max_body_size"`
}

func NewBodyLimitMiddleware(item *types.MiddlewareItemConfig, logger types.Logger, metrics types.MetricsManager) *BodyLimitMiddleware {
	bodyLimitConfig := &BodyLimitConfig{MaxBodySize: 1024 * 1024}

	if params := paramsOf(item); params != nil {
		if err := utils.UnmarshalConfig(params, bodyLimitConfig); err != nil {
			logger.Error("Failed to unmarshal BodyLimit middleware config", zap.Error(err))
		}
	}

	return &BodyLimitMiddleware{
		logger:          logger,
		metrics:         metrics,
		bodyLimitConfig: bodyLimitConfig,
		weight:          weightOf(item, 40),
	}
}

func (bl *BodyLimitMiddleware) Name() string { return "body-limit" }
func (bl *BodyLimitMiddleware) Weight() int  { return bl.weight }

func (bl *BodyLimitMiddleware) Handle(ctx *fasthttp.RequestCtx, next func(*fasthttp.RequestCtx), _ *types.RouteConfig) {
	if ctx.IsGet() || ctx.IsHead() {
		next(ctx)
		return
	}

	size := ctx.Request.Header.ContentLength()
	if size <= 0 {
		size = len(ctx.PostBody())
	}

	if size > bl.bodyLimitConfig.MaxBodySize {
		bl.logger.Warn("Request body too large",
			zap.ByteString("path", ctx.Path()),
			zap.Int("size", size),
			zap.Int("limit", bl.bodyLimitConfig.MaxBodySize))

		ctx.SetConnectionClose()
		utils.CreateJSONError(ctx, fasthttp.StatusRequestEntityTooLarge, types.ErrBodyTooLarge.Error())
		return
	}

	next(ctx)
}
