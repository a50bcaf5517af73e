package portal

import (
	"context"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-desa/backend"
	"github.com/saiset-co/sai-desa/cache"
	"github.com/saiset-co/sai-desa/types"
)

const (
	KeyDesaConfig   = "desa_config"
	KeyHomeArticles = "home_articles"
)

// ConfigProvider serves the village configuration from the 24h cache.
type ConfigProvider struct {
	api    *backend.API
	cache  *cache.Timed[backend.DesaConfig]
	logger types.Logger
}

func (p *ConfigProvider) Get(ctx context.Context) (*backend.DesaConfig, error) {
	cfg, err := p.cache.Fetch(ctx, KeyDesaConfig, p.fetch)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Update writes through to the backend and drops the cached copy.
func (p *ConfigProvider) Update(ctx context.Context, api *backend.API, cfg *backend.DesaConfig) error {
	if err := api.UpdateDesaConfig(ctx, cfg); err != nil {
		return err
	}
	return p.Invalidate(ctx)
}

func (p *ConfigProvider) Invalidate(ctx context.Context) error {
	return p.cache.Invalidate(ctx, KeyDesaConfig)
}

func (p *ConfigProvider) Refresh(ctx context.Context) error {
	if _, err := p.cache.Refresh(ctx, KeyDesaConfig, p.fetch); err != nil {
		return types.WrapError(err, "refresh desa config")
	}
	p.logger.Debug("Desa config refreshed")
	return nil
}

func (p *ConfigProvider) fetch(ctx context.Context) (backend.DesaConfig, error) {
	cfg, err := p.api.DesaConfig(ctx)
	if err != nil {
		return backend.DesaConfig{}, err
	}
	return *cfg, nil
}

// ArticleProvider serves the newest published articles shown on the home
// page from the 30m cache.
type ArticleProvider struct {
	api    *backend.API
	cache  *cache.Timed[[]backend.Article]
	limit  int
	logger types.Logger
}

func (p *ArticleProvider) Home(ctx context.Context) ([]backend.Article, error) {
	return p.cache.Fetch(ctx, KeyHomeArticles, p.fetch)
}

func (p *ArticleProvider) Invalidate(ctx context.Context) error {
	return p.cache.Invalidate(ctx, KeyHomeArticles)
}

func (p *ArticleProvider) Refresh(ctx context.Context) error {
	articles, err := p.cache.Refresh(ctx, KeyHomeArticles, p.fetch)
	if err != nil {
		return types.WrapError(err, "refresh home articles")
	}
	p.logger.Debug("Home articles refreshed", zap.Int("count", len(articles)))
	return nil
}

func (p *ArticleProvider) fetch(ctx context.Context) ([]backend.Article, error) {
	articles, err := p.api.PublishedArticles(ctx)
	if err != nil {
		return nil, err
	}
	if p.limit > 0 && len(articles) > p.limit {
		articles = articles[:p.limit]
	}
	return articles, nil
}
