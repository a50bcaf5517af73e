package web

import (
	"errors"
	"sort"
	"strconv"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-desa/backend"
	"github.com/saiset-co/sai-desa/middleware"
	"github.com/saiset-co/sai-desa/types"
	"github.com/saiset-co/sai-desa/utils"
)

func (h *Handler) LoginForm(ctx *fasthttp.RequestCtx) {
	p := h.publicPage(ctx, "Masuk Admin")
	p.Data = &form{Fields: loginFields}
	h.render(ctx, fasthttp.StatusOK, "login", p)
}

func (h *Handler) Login(ctx *fasthttp.RequestCtx) {
	f := readForm(ctx, loginFields)

	if check(h.validate, f) {
		resp, err := h.state.API.Login(h.base, &backend.LoginRequest{
			Username: f.Value("username"),
			Password: f.Value("password"),
		})

		switch {
		case err == nil:
			session, err := h.state.Sessions.Create(h.base, resp.Token, resp.User)
			if err != nil {
				h.logger.Error("Failed to create session", zap.Error(err))
				utils.CreateErrorResponse(ctx)
				return
			}

			h.logger.Info("Admin signed in", zap.String("user", resp.User.Username))
			middleware.SetSessionCookie(ctx, h.state, session.ID)
			utils.Redirect(ctx, "/admin")
			return

		case h.rejectedLogin(f, err):

		default:
			p := h.publicPage(ctx, "Masuk Admin")
			f.Values["password"] = ""
			p.Data = f
			h.render(ctx, h.failed(ctx, p, err), "login", p)
			return
		}
	}

	f.Values["password"] = ""

	p := h.publicPage(ctx, "Masuk Admin")
	p.Data = f
	h.render(ctx, fasthttp.StatusUnprocessableEntity, "login", p)
}

// rejectedLogin shows the backend's answer to bad credentials verbatim.
func (h *Handler) rejectedLogin(f *form, err error) bool {
	var apiErr *backend.APIError
	if !errors.As(err, &apiErr) || apiErr.Status >= fasthttp.StatusInternalServerError {
		return false
	}

	absorb(f, apiErr)
	return true
}

func (h *Handler) Logout(ctx *fasthttp.RequestCtx) {
	if id := string(ctx.Request.Header.Cookie(h.state.SessionCookie())); id != "" {
		if err := h.state.Sessions.Destroy(h.base, id); err != nil {
			h.logger.Warn("Failed to destroy session", zap.Error(err))
		}
	}

	middleware.ClearSessionCookie(ctx, h.state)
	utils.Redirect(ctx, loginPath)
}

func (h *Handler) Dashboard(ctx *fasthttp.RequestCtx) {
	p := h.adminPage(ctx, "Dasbor")
	year := h.year(ctx, p.Desa)

	dashboard, err := h.state.Dashboard(h.base, h.state.Admin(p.Session), year)
	if err != nil {
		if h.unauthorized(ctx, err) {
			return
		}
		h.render(ctx, h.failed(ctx, p, err), "dashboard", p)
		return
	}

	p.Data = dashboard
	h.render(ctx, fasthttp.StatusOK, "dashboard", p)
}

type resourceData struct {
	Resource *backend.Resource
	Columns  []string
	Records  []backend.Record
	Form     *form
	ID       string
	Statuses []string
}

// resource resolves {resource}; unknown names answer 404.
func (h *Handler) resource(ctx *fasthttp.RequestCtx) (*backend.Resource, bool) {
	res, ok := backend.LookupResource(types.RouteParam(ctx, "resource"))
	if !ok {
		h.NotFound(ctx)
		return nil, false
	}
	return res, true
}

func (h *Handler) ResourceList(ctx *fasthttp.RequestCtx) {
	res, ok := h.resource(ctx)
	if !ok {
		return
	}

	p := h.adminPage(ctx, res.Title)
	if ctx.QueryArgs().Has("tersimpan") {
		p.Notice = "Perubahan tersimpan."
	}

	var query map[string]string
	if res.YearQuery {
		query = map[string]string{"tahun": strconv.Itoa(h.year(ctx, p.Desa))}
	}

	data := resourceData{Resource: res}
	if res.Name == "pengaduan" {
		data.Statuses = complaintStatuses
	}

	records, err := h.state.Admin(p.Session).List(h.base, res, query)
	if err != nil {
		if h.unauthorized(ctx, err) {
			return
		}
		p.Data = data
		h.render(ctx, h.failed(ctx, p, err), "resource_list", p)
		return
	}

	data.Records = records
	data.Columns = columns(res, records)

	p.Data = data
	h.render(ctx, fasthttp.StatusOK, "resource_list", p)
}

// columns are the form fields of the resource, or for read-only resources
// the union of the keys the backend returned.
func columns(res *backend.Resource, records []backend.Record) []string {
	if fields := fieldsFor(res, false); len(fields) > 0 {
		cols := make([]string, 0, len(fields))
		for _, f := range fields {
			cols = append(cols, f.Name)
		}
		return cols
	}

	seen := make(map[string]bool)
	for _, r := range records {
		for key := range r {
			if key != "id" {
				seen[key] = true
			}
		}
	}

	cols := make([]string, 0, len(seen))
	for key := range seen {
		cols = append(cols, key)
	}
	sort.Strings(cols)
	return cols
}

func (h *Handler) ResourceNew(ctx *fasthttp.RequestCtx) {
	res, ok := h.resource(ctx)
	if !ok {
		return
	}
	if res.ReadOnly {
		h.NotFound(ctx)
		return
	}

	p := h.adminPage(ctx, res.Title)
	p.Data = resourceData{Resource: res, Form: &form{Fields: fieldsFor(res, true)}}
	h.render(ctx, fasthttp.StatusOK, "resource_form", p)
}

func (h *Handler) ResourceCreate(ctx *fasthttp.RequestCtx) {
	res, ok := h.resource(ctx)
	if !ok {
		return
	}
	if res.ReadOnly {
		h.NotFound(ctx)
		return
	}

	f := readForm(ctx, fieldsFor(res, true))
	session := middleware.SessionFrom(ctx)

	if check(h.validate, f) {
		err := h.state.Admin(session).Create(h.base, res, record(f))
		if h.saved(ctx, res, f, err) {
			return
		}
	}

	p := h.adminPage(ctx, res.Title)
	p.Data = resourceData{Resource: res, Form: f}
	h.render(ctx, fasthttp.StatusUnprocessableEntity, "resource_form", p)
}

func (h *Handler) ResourceEdit(ctx *fasthttp.RequestCtx) {
	res, ok := h.resource(ctx)
	if !ok {
		return
	}
	if res.ReadOnly || res.NoUpdate {
		h.NotFound(ctx)
		return
	}

	id := types.RouteParam(ctx, "id")
	p := h.adminPage(ctx, res.Title)

	rec, err := h.state.Admin(p.Session).Get(h.base, res, id)
	if err != nil {
		if h.unauthorized(ctx, err) {
			return
		}
		p.Data = resourceData{Resource: res, ID: id, Form: &form{Fields: fieldsFor(res, false)}}
		h.render(ctx, h.failed(ctx, p, err), "resource_form", p)
		return
	}

	p.Data = resourceData{Resource: res, ID: id, Form: formFromRecord(fieldsFor(res, false), rec)}
	h.render(ctx, fasthttp.StatusOK, "resource_form", p)
}

func (h *Handler) ResourceUpdate(ctx *fasthttp.RequestCtx) {
	res, ok := h.resource(ctx)
	if !ok {
		return
	}
	if res.ReadOnly || res.NoUpdate {
		h.NotFound(ctx)
		return
	}

	id := types.RouteParam(ctx, "id")
	f := readForm(ctx, fieldsFor(res, false))
	session := middleware.SessionFrom(ctx)

	if check(h.validate, f) {
		err := h.state.Admin(session).Update(h.base, res, id, record(f))
		if h.saved(ctx, res, f, err) {
			return
		}
	}

	p := h.adminPage(ctx, res.Title)
	p.Data = resourceData{Resource: res, ID: id, Form: f}
	h.render(ctx, fasthttp.StatusUnprocessableEntity, "resource_form", p)
}

func (h *Handler) ResourceDelete(ctx *fasthttp.RequestCtx) {
	res, ok := h.resource(ctx)
	if !ok {
		return
	}
	if res.ReadOnly {
		h.NotFound(ctx)
		return
	}

	id := types.RouteParam(ctx, "id")
	session := middleware.SessionFrom(ctx)

	if err := h.state.Admin(session).Delete(h.base, res, id); err != nil {
		if h.unauthorized(ctx, err) {
			return
		}
		p := h.adminPage(ctx, res.Title)
		p.Data = resourceData{Resource: res}
		h.render(ctx, h.failed(ctx, p, err), "resource_list", p)
		return
	}

	h.changed(res)
	utils.Redirect(ctx, "/admin/"+res.Name+"?tersimpan=1")
}

// saved finishes a create or update. It reports false when the form has to
// be shown again with the backend's validation messages.
func (h *Handler) saved(ctx *fasthttp.RequestCtx, res *backend.Resource, f *form, err error) bool {
	if err == nil {
		h.changed(res)
		utils.Redirect(ctx, "/admin/"+res.Name+"?tersimpan=1")
		return true
	}

	if h.unauthorized(ctx, err) {
		return true
	}

	if h.rejected(f, err) {
		return false
	}

	p := h.adminPage(ctx, res.Title)
	p.Data = resourceData{Resource: res, Form: f, ID: types.RouteParam(ctx, "id")}
	h.render(ctx, h.failed(ctx, p, err), "resource_form", p)
	return true
}

func (h *Handler) changed(res *backend.Resource) {
	if res.Name == "artikel" {
		h.state.ArticleChanged(h.base)
	}
}

func (h *Handler) ComplaintStatus(ctx *fasthttp.RequestCtx) {
	id := types.RouteParam(ctx, "id")
	status := string(ctx.PostArgs().Peek("status"))

	if err := h.validate.Var(status, "required,oneof=baru diproses selesai ditolak"); err != nil {
		utils.Redirect(ctx, "/admin/pengaduan")
		return
	}

	session := middleware.SessionFrom(ctx)
	if err := h.state.Admin(session).UpdateComplaintStatus(h.base, id, status); err != nil {
		if h.unauthorized(ctx, err) {
			return
		}
		res, _ := backend.LookupResource("pengaduan")
		p := h.adminPage(ctx, "Pengaduan")
		p.Data = resourceData{Resource: res, Statuses: complaintStatuses}
		h.render(ctx, h.failed(ctx, p, err), "resource_list", p)
		return
	}

	utils.Redirect(ctx, "/admin/pengaduan?tersimpan=1")
}

func (h *Handler) ConfigForm(ctx *fasthttp.RequestCtx) {
	p := h.adminPage(ctx, "Konfigurasi Desa")
	if ctx.QueryArgs().Has("tersimpan") {
		p.Notice = "Konfigurasi tersimpan."
	}

	cfg, err := h.state.Admin(p.Session).DesaConfig(h.base)
	if err != nil {
		if h.unauthorized(ctx, err) {
			return
		}
		p.Data = &form{Fields: configFields}
		h.render(ctx, h.failed(ctx, p, err), "konfigurasi", p)
		return
	}

	f, err := configForm(cfg)
	if err != nil {
		h.logger.Error("Failed to convert desa config", zap.Error(err))
		utils.CreateErrorResponse(ctx)
		return
	}

	p.Data = f
	h.render(ctx, fasthttp.StatusOK, "konfigurasi", p)
}

func (h *Handler) SaveConfig(ctx *fasthttp.RequestCtx) {
	f := readForm(ctx, configFields)
	session := middleware.SessionFrom(ctx)

	if check(h.validate, f) {
		cfg, err := desaConfig(f)
		if err != nil {
			f.Message = "Konfigurasi tidak valid: " + err.Error()
		} else {
			err = h.state.Config.Update(h.base, h.state.Admin(session), cfg)
			switch {
			case err == nil:
				utils.Redirect(ctx, "/admin/konfigurasi?tersimpan=1")
				return
			case h.unauthorized(ctx, err):
				return
			case !h.rejected(f, err):
				p := h.adminPage(ctx, "Konfigurasi Desa")
				p.Data = f
				h.render(ctx, h.failed(ctx, p, err), "konfigurasi", p)
				return
			}
		}
	}

	p := h.adminPage(ctx, "Konfigurasi Desa")
	p.Data = f
	h.render(ctx, fasthttp.StatusUnprocessableEntity, "konfigurasi", p)
}

func configForm(cfg *backend.DesaConfig) (*form, error) {
	raw, err := utils.Marshal(cfg)
	if err != nil {
		return nil, err
	}

	var rec backend.Record
	if err := utils.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}

	f := formFromRecord(configFields, rec)
	for _, fl := range configFields {
		if fl.Kind == kindNumber && f.Values[fl.Name] == "0" {
			f.Values[fl.Name] = ""
		}
	}
	return f, nil
}

func desaConfig(f *form) (*backend.DesaConfig, error) {
	raw, err := utils.Marshal(record(f))
	if err != nil {
		return nil, err
	}

	var cfg backend.DesaConfig
	if err := utils.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
