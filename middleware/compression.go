package middleware

import (
	"bytes"
	"compress/gzip"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-desa/types"
	"github.com/saiset-co/sai-desa/utils"
)

const (
	AlgorithmGzip   = "gzip"
	AlgorithmBrotli = "br"

	DefaultLevel        = 6
	DefaultThreshold    = 1024
	MinCompressionRatio = 0.05
)

type CompressionMiddleware struct {
	logger            types.Logger
	metrics           types.MetricsManager
	compressionConfig *CompressionConfig
	weight            int
}

type CompressionConfig struct {
	Level        int      `json:"level"`
	Threshold    int      `json:"threshold"`
	AllowedTypes []string `json:"allowed_types"`
}

func NewCompressionMiddleware(item *types.MiddlewareItemConfig, logger types.Logger, metrics types.MetricsManager) *CompressionMiddleware {
	compressionConfig := &CompressionConfig{
		Level:     DefaultLevel,
		Threshold: DefaultThreshold,
		AllowedTypes: []string{
			"text/*",
			"application/json",
			"application/javascript",
		},
	}

	if params := paramsOf(item); params != nil {
		if err := utils.UnmarshalConfig(params, compressionConfig); err != nil {
			logger.Error("Failed to unmarshal Compression middleware config", zap.Error(err))
		}
	}

	if compressionConfig.Level < 1 || compressionConfig.Level > 9 {
		logger.Warn("Invalid compression level, using default", zap.Int("level", compressionConfig.Level))
		compressionConfig.Level = DefaultLevel
	}

	return &CompressionMiddleware{
		logger:            logger,
		metrics:           metrics,
		compressionConfig: compressionConfig,
		weight:            weightOf(item, 50),
	}
}

func (c *CompressionMiddleware) Name() string { return "compression" }
func (c *CompressionMiddleware) Weight() int  { return c.weight }

// Handle prefers brotli over gzip when the client accepts both.
func (c *CompressionMiddleware) Handle(ctx *fasthttp.RequestCtx, next func(*fasthttp.RequestCtx), _ *types.RouteConfig) {
	algorithm := negotiate(ctx.Request.Header.Peek("Accept-Encoding"))

	next(ctx)

	if algorithm == "" || len(ctx.Response.Header.Peek("Content-Encoding")) > 0 {
		return
	}

	body := ctx.Response.Body()
	if len(body) < c.compressionConfig.Threshold || !c.allowed(ctx.Response.Header.ContentType()) {
		return
	}

	compressed, err := c.compress(algorithm, body)
	if err != nil {
		c.logger.Warn("Compression failed", zap.String("algorithm", algorithm), zap.Error(err))
		return
	}

	if 1.0-float64(len(compressed))/float64(len(body)) < MinCompressionRatio {
		return
	}

	ctx.Response.SetBody(compressed)
	ctx.Response.Header.Set("Content-Encoding", algorithm)
	ctx.Response.Header.Add("Vary", "Accept-Encoding")
}

func negotiate(acceptEncoding []byte) string {
	switch {
	case len(acceptEncoding) == 0:
		return ""
	case bytes.Contains(acceptEncoding, []byte(AlgorithmBrotli)):
		return AlgorithmBrotli
	case bytes.Contains(acceptEncoding, []byte(AlgorithmGzip)):
		return AlgorithmGzip
	}
	return ""
}

func (c *CompressionMiddleware) allowed(contentType []byte) bool {
	ct := string(contentType)
	if semicolon := strings.IndexByte(ct, ';'); semicolon != -1 {
		ct = ct[:semicolon]
	}
	ct = strings.ToLower(strings.TrimSpace(ct))

	for _, allowed := range c.compressionConfig.AllowedTypes {
		if allowed == ct {
			return true
		}
		if prefix, ok := strings.CutSuffix(allowed, "*"); ok && strings.HasPrefix(ct, prefix) {
			return true
		}
	}
	return false
}

func (c *CompressionMiddleware) compress(algorithm string, body []byte) ([]byte, error) {
	var buf bytes.Buffer

	switch algorithm {
	case AlgorithmBrotli:
		w := brotli.NewWriterLevel(&buf, c.compressionConfig.Level)
		if _, err := w.Write(body); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	default:
		w, err := gzip.NewWriterLevel(&buf, c.compressionConfig.Level)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(body); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}
