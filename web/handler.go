package web

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"html/template"
	"io/fs"
	"path"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-desa/backend"
	"github.com/saiset-co/sai-desa/infographic"
	"github.com/saiset-co/sai-desa/middleware"
	"github.com/saiset-co/sai-desa/portal"
	"github.com/saiset-co/sai-desa/textfmt"
	"github.com/saiset-co/sai-desa/types"
	"github.com/saiset-co/sai-desa/utils"
)

//go:embed templates/*.html
var templateFS embed.FS

const loginPath = "/admin/login"

// Handler renders the public site and the admin dashboard from the portal
// state.
type Handler struct {
	base      context.Context
	state     *portal.State
	logger    types.Logger
	validate  *validator.Validate
	templates map[string]*template.Template
	now       func() time.Time
}

type Option func(*Handler)

func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

// page is the data handed to every template.
type page struct {
	Title   string
	Path    string
	Desa    *backend.DesaConfig
	Session *portal.Session
	Error   *pageError
	Notice  string
	Data    interface{}
}

// pageError is the visible failure state of a page section.
type pageError struct {
	Message string
	Retry   string
}

// New parses the embedded templates. Backend calls made while serving run
// under ctx.
func New(ctx context.Context, state *portal.State, logger types.Logger, opts ...Option) (*Handler, error) {
	h := &Handler{
		base:     ctx,
		state:    state,
		logger:   logger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(h)
	}

	templates, err := h.parseTemplates()
	if err != nil {
		return nil, err
	}
	h.templates = templates

	return h, nil
}

func (h *Handler) parseTemplates() (map[string]*template.Template, error) {
	funcs := template.FuncMap{
		"rupiah":  infographic.Rupiah,
		"number":  infographic.Number,
		"decimal": infographic.Decimal,
		"idm":     infographic.IDMStatus,
		"richtext": func(text string) template.HTML {
			return textfmt.RenderHTML(h.state.Text.Parse(text))
		},
		"field": func(r backend.Record, name string) string { return r.String(name) },
	}

	pages, err := fs.Glob(templateFS, "templates/*.html")
	if err != nil {
		return nil, err
	}

	templates := make(map[string]*template.Template, len(pages))
	for _, file := range pages {
		name := strings.TrimSuffix(path.Base(file), ".html")
		if strings.HasPrefix(name, "_") {
			continue
		}

		tmpl, err := template.New(name).Funcs(funcs).ParseFS(templateFS, "templates/_*.html", file)
		if err != nil {
			return nil, types.WrapError(err, "parse template "+name)
		}
		templates[name] = tmpl
	}

	return templates, nil
}

// Register declares every route on router. Admin routes other than login and
// logout require the auth middleware.
func (h *Handler) Register(router types.HTTPRouter) {
	router.GET("/", h.Home)
	router.GET("/profil", h.Profile)
	router.GET("/infografis", h.Infographics)
	router.GET("/apbdes", h.Budget)
	router.GET("/artikel", h.Articles)
	router.GET("/artikel/{id}", h.Article)
	router.GET("/peta", h.Map)
	router.GET("/layanan/surat", h.LetterForm)
	router.POST("/layanan/surat", h.SubmitLetter).WithMiddlewares("rate-limit")
	router.GET("/pengaduan", h.ComplaintForm)
	router.POST("/pengaduan", h.SubmitComplaint).WithMiddlewares("rate-limit")

	router.GET(loginPath, h.LoginForm)
	router.POST(loginPath, h.Login).WithMiddlewares("rate-limit")
	router.POST("/admin/logout", h.Logout)

	admin := router.Group("/admin").WithMiddlewares("auth")
	admin.GET("", h.Dashboard)
	admin.GET("/konfigurasi", h.ConfigForm)
	admin.POST("/konfigurasi", h.SaveConfig)
	admin.POST("/pengaduan/{id}/status", h.ComplaintStatus)
	admin.GET("/{resource}", h.ResourceList)
	admin.POST("/{resource}", h.ResourceCreate)
	admin.GET("/{resource}/baru", h.ResourceNew)
	admin.GET("/{resource}/{id}", h.ResourceEdit)
	admin.POST("/{resource}/{id}", h.ResourceUpdate)
	admin.POST("/{resource}/{id}/hapus", h.ResourceDelete)
}

func (h *Handler) NotFound(ctx *fasthttp.RequestCtx) {
	h.render(ctx, fasthttp.StatusNotFound, "notfound", h.publicPage(ctx, "Halaman tidak ditemukan"))
}

func (h *Handler) render(ctx *fasthttp.RequestCtx, status int, name string, p *page) {
	tmpl, ok := h.templates[name]
	if !ok {
		h.logger.Error("Unknown template", zap.String("template", name))
		utils.CreateErrorResponse(ctx)
		return
	}

	p.Path = string(ctx.Path())

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "layout", p); err != nil {
		h.logger.Error("Template execution failed", zap.String("template", name), zap.Error(err))
		utils.CreateErrorResponse(ctx)
		return
	}

	ctx.SetStatusCode(status)
	ctx.SetContentType("text/html; charset=utf-8")
	utils.NoCache(ctx)
	ctx.SetBody(buf.Bytes())
}

// publicPage prepares a page with the cached village configuration. A
// missing configuration still renders with a generic name.
func (h *Handler) publicPage(ctx *fasthttp.RequestCtx, title string) *page {
	cfg, err := h.state.Config.Get(h.base)
	if err != nil {
		h.logger.Warn("Desa config unavailable", zap.Error(err))
		cfg = &backend.DesaConfig{NamaDesa: "Desa"}
	}

	return &page{Title: title, Desa: cfg}
}

func (h *Handler) adminPage(ctx *fasthttp.RequestCtx, title string) *page {
	p := h.publicPage(ctx, title)
	p.Session = middleware.SessionFrom(ctx)
	return p
}

// failed turns a backend failure into the page's error state.
func (h *Handler) failed(ctx *fasthttp.RequestCtx, p *page, err error) int {
	h.logger.Warn("Backend request failed", zap.ByteString("path", ctx.Path()), zap.Error(err))

	p.Error = &pageError{
		Message: describe(err),
		Retry:   string(ctx.RequestURI()),
	}

	var apiErr *backend.APIError
	if errors.As(err, &apiErr) && apiErr.Status == fasthttp.StatusNotFound {
		return fasthttp.StatusNotFound
	}
	return fasthttp.StatusBadGateway
}

// unauthorized handles a backend 401 on an admin call: the session is
// dropped and the browser is sent to the login page.
func (h *Handler) unauthorized(ctx *fasthttp.RequestCtx, err error) bool {
	if !backend.IsUnauthorized(err) {
		return false
	}

	h.state.Unauthorized(h.base, middleware.SessionFrom(ctx))
	middleware.ClearSessionCookie(ctx, h.state)
	utils.Redirect(ctx, loginPath)
	return true
}

func describe(err error) string {
	var apiErr *backend.APIError
	switch {
	case errors.As(err, &apiErr):
		return apiErr.Message
	case errors.Is(err, types.ErrCircuitBreakerOpen):
		return "Layanan data desa sedang tidak tersedia. Silakan coba beberapa saat lagi."
	default:
		return "Gagal memuat data dari server desa."
	}
}
