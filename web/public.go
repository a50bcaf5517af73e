package web

import (
	"errors"
	"strconv"

	"github.com/valyala/fasthttp"
	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/sai-desa/backend"
	"github.com/saiset-co/sai-desa/infographic"
	"github.com/saiset-co/sai-desa/types"
	"github.com/saiset-co/sai-desa/utils"
)

type homeData struct {
	Articles []backend.Article
}

func (h *Handler) Home(ctx *fasthttp.RequestCtx) {
	p := h.publicPage(ctx, "Beranda")
	status := fasthttp.StatusOK

	articles, err := h.state.Articles.Home(h.base)
	if err != nil {
		status = h.failed(ctx, p, err)
	}

	p.Data = homeData{Articles: articles}
	h.render(ctx, status, "home", p)
}

func (h *Handler) Profile(ctx *fasthttp.RequestCtx) {
	p := h.publicPage(ctx, "Profil Desa")
	h.render(ctx, fasthttp.StatusOK, "profil", p)
}

type infographicsData struct {
	Population infographic.Population
	IDM        []backend.IDMScore
	Latest     backend.IDMScore
	HasIDM     bool
}

func (h *Handler) Infographics(ctx *fasthttp.RequestCtx) {
	p := h.publicPage(ctx, "Infografis")

	var (
		stats  *backend.PopulationStats
		scores []backend.IDMScore
	)

	g, gCtx := errgroup.WithContext(h.base)
	g.Go(func() (err error) {
		stats, err = h.state.API.PopulationStats(gCtx)
		return err
	})
	g.Go(func() (err error) {
		scores, err = h.state.API.IDM(gCtx)
		return err
	})

	if err := g.Wait(); err != nil {
		h.render(ctx, h.failed(ctx, p, err), "infografis", p)
		return
	}

	data := infographicsData{
		Population: infographic.NewPopulation(stats),
		IDM:        infographic.IDMSeries(scores),
	}
	data.Latest, data.HasIDM = infographic.LatestIDM(scores)

	p.Data = data
	h.render(ctx, fasthttp.StatusOK, "infografis", p)
}

type budgetData struct {
	Budget infographic.Budget
	Years  []int
}

func (h *Handler) Budget(ctx *fasthttp.RequestCtx) {
	p := h.publicPage(ctx, "APBDesa")
	year := h.year(ctx, p.Desa)

	var income, expense []backend.BudgetEntry

	g, gCtx := errgroup.WithContext(h.base)
	g.Go(func() (err error) {
		income, err = h.state.API.Income(gCtx, year)
		return err
	})
	g.Go(func() (err error) {
		expense, err = h.state.API.Expense(gCtx, year)
		return err
	})

	status := fasthttp.StatusOK
	if err := g.Wait(); err != nil {
		status = h.failed(ctx, p, err)
	}

	current := h.now().Year()
	years := make([]int, 0, 5)
	for y := current; y > current-5; y-- {
		years = append(years, y)
	}

	p.Data = budgetData{Budget: infographic.NewBudget(year, income, expense), Years: years}
	h.render(ctx, status, "apbdes", p)
}

func (h *Handler) Articles(ctx *fasthttp.RequestCtx) {
	p := h.publicPage(ctx, "Artikel")
	status := fasthttp.StatusOK

	articles, err := h.state.API.PublishedArticles(h.base)
	if err != nil {
		status = h.failed(ctx, p, err)
	}

	p.Data = articles
	h.render(ctx, status, "artikel", p)
}

func (h *Handler) Article(ctx *fasthttp.RequestCtx) {
	id := types.RouteParam(ctx, "id")
	if _, err := strconv.ParseInt(id, 10, 64); err != nil {
		h.NotFound(ctx)
		return
	}

	p := h.publicPage(ctx, "Artikel")

	article, err := h.state.API.Article(h.base, id)
	if err != nil {
		if errors.Is(err, types.ErrBackendNotFound) {
			h.NotFound(ctx)
			return
		}
		h.render(ctx, h.failed(ctx, p, err), "artikel_detail", p)
		return
	}

	p.Title = article.Judul
	p.Data = article
	h.render(ctx, fasthttp.StatusOK, "artikel_detail", p)
}

type mapData struct {
	Facilities []backend.Facility
	Potentials []backend.Potential
}

// Map lists the places shown on the village map. Drawing the map itself is
// left to the browser.
func (h *Handler) Map(ctx *fasthttp.RequestCtx) {
	p := h.publicPage(ctx, "Peta Desa")

	var data mapData

	g, gCtx := errgroup.WithContext(h.base)
	g.Go(func() (err error) {
		data.Facilities, err = h.state.API.Facilities(gCtx)
		return err
	})
	g.Go(func() (err error) {
		data.Potentials, err = h.state.API.Potentials(gCtx)
		return err
	})

	status := fasthttp.StatusOK
	if err := g.Wait(); err != nil {
		status = h.failed(ctx, p, err)
	}

	p.Data = data
	h.render(ctx, status, "peta", p)
}

func (h *Handler) LetterForm(ctx *fasthttp.RequestCtx) {
	p := h.publicPage(ctx, "Layanan Surat")
	if ctx.QueryArgs().Has("terkirim") {
		p.Notice = "Permohonan surat terkirim. Petugas desa akan menghubungi Anda."
	}

	p.Data = &form{Fields: letterFields}
	h.render(ctx, fasthttp.StatusOK, "surat", p)
}

func (h *Handler) SubmitLetter(ctx *fasthttp.RequestCtx) {
	f := readForm(ctx, letterFields)

	if check(h.validate, f) {
		req := &backend.LetterRequest{
			Nama:       f.Value("nama"),
			NIK:        f.Value("nik"),
			JenisSurat: f.Value("jenis_surat"),
			Keperluan:  f.Value("keperluan"),
			Telepon:    f.Value("telepon"),
		}

		err := h.state.API.RequestLetter(h.base, req)
		if err == nil {
			utils.Redirect(ctx, "/layanan/surat?terkirim=1")
			return
		}
		if !h.rejected(f, err) {
			p := h.publicPage(ctx, "Layanan Surat")
			p.Data = f
			h.render(ctx, h.failed(ctx, p, err), "surat", p)
			return
		}
	}

	p := h.publicPage(ctx, "Layanan Surat")
	p.Data = f
	h.render(ctx, fasthttp.StatusUnprocessableEntity, "surat", p)
}

func (h *Handler) ComplaintForm(ctx *fasthttp.RequestCtx) {
	p := h.publicPage(ctx, "Pengaduan Warga")
	if ctx.QueryArgs().Has("terkirim") {
		p.Notice = "Pengaduan Anda sudah kami terima. Terima kasih."
	}

	p.Data = &form{Fields: complaintFields}
	h.render(ctx, fasthttp.StatusOK, "pengaduan", p)
}

func (h *Handler) SubmitComplaint(ctx *fasthttp.RequestCtx) {
	f := readForm(ctx, complaintFields)

	if check(h.validate, f) {
		req := &backend.ComplaintRequest{
			Nama:   f.Value("nama"),
			Kontak: f.Value("kontak"),
			Judul:  f.Value("judul"),
			Isi:    f.Value("isi"),
		}

		err := h.state.API.SubmitComplaint(h.base, req)
		if err == nil {
			utils.Redirect(ctx, "/pengaduan?terkirim=1")
			return
		}
		if !h.rejected(f, err) {
			p := h.publicPage(ctx, "Pengaduan Warga")
			p.Data = f
			h.render(ctx, h.failed(ctx, p, err), "pengaduan", p)
			return
		}
	}

	p := h.publicPage(ctx, "Pengaduan Warga")
	p.Data = f
	h.render(ctx, fasthttp.StatusUnprocessableEntity, "pengaduan", p)
}

// rejected reports whether the backend refused the submission as invalid and
// copies its messages onto the form.
func (h *Handler) rejected(f *form, err error) bool {
	var apiErr *backend.APIError
	if !errors.As(err, &apiErr) {
		return false
	}

	switch apiErr.Status {
	case fasthttp.StatusBadRequest, fasthttp.StatusUnprocessableEntity, fasthttp.StatusConflict:
		absorb(f, apiErr)
		return true
	}
	return false
}

// year picks ?tahun=, then the configured budget year, then the current year.
func (h *Handler) year(ctx *fasthttp.RequestCtx, cfg *backend.DesaConfig) int {
	if y, err := ctx.QueryArgs().GetUint("tahun"); err == nil && y >= 1900 && y <= 9999 {
		return y
	}
	if cfg != nil && cfg.TahunAnggaran > 0 {
		return cfg.TahunAnggaran
	}
	return h.now().Year()
}
