package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"net/url"
	"strconv"

	"github.com/pkg/errors"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-desa/types"
	"github.com/saiset-co/sai-desa/utils"
)

const (
	pathDesaConfig = "/api/desa-config"
	pathStats      = "/api/penduduk/statistik"
	pathArticles   = "/api/artikel"
	pathIncome     = "/api/apbdes/pendapatan"
	pathExpense    = "/api/apbdes/belanja"
	pathIDM        = "/api/idm"
	pathComplaints = "/api/pengaduan"
	pathUsers      = "/api/users"
	pathFacilities = "/api/fasilitas"
	pathPotentials = "/api/potensi"
	pathLetters    = "/api/surat"
	pathLogin      = "/api/auth/login"
)

// API is the typed view of the village backend. A zero token means an
// anonymous caller; WithToken derives an admin view.
type API struct {
	client types.HTTPClient
	config *types.BackendConfig
	logger types.Logger
	token  string
}

func New(client types.HTTPClient, config *types.BackendConfig, logger types.Logger) *API {
	return &API{
		client: client,
		config: config,
		logger: logger,
	}
}

func (a *API) WithToken(token string) *API {
	clone := *a
	clone.token = token
	return &clone
}

func (a *API) DesaConfig(ctx context.Context) (*DesaConfig, error) {
	var out DesaConfig
	if err := a.do(ctx, fasthttp.MethodGet, pathDesaConfig, nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *API) UpdateDesaConfig(ctx context.Context, cfg *DesaConfig) error {
	return a.do(ctx, fasthttp.MethodPut, pathDesaConfig, cfg, nil, nil)
}

// PopulationStats retries with exponential delay since the dashboard depends
// on it.
func (a *API) PopulationStats(ctx context.Context) (*PopulationStats, error) {
	opts := &types.CallOptions{
		Retry:   a.config.StatsRetries,
		Backoff: a.config.RetryBackoff,
	}

	var out PopulationStats
	if err := a.do(ctx, fasthttp.MethodGet, pathStats, nil, opts, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *API) PublishedArticles(ctx context.Context) ([]Article, error) {
	return a.articles(ctx, map[string]string{"status": "published"})
}

func (a *API) Articles(ctx context.Context) ([]Article, error) {
	return a.articles(ctx, nil)
}

func (a *API) articles(ctx context.Context, query map[string]string) ([]Article, error) {
	var out []Article
	if err := a.do(ctx, fasthttp.MethodGet, pathArticles, nil, &types.CallOptions{Query: query}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *API) Article(ctx context.Context, id string) (*Article, error) {
	var out Article
	if err := a.do(ctx, fasthttp.MethodGet, pathArticles+"/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *API) Income(ctx context.Context, year int) ([]BudgetEntry, error) {
	return a.budget(ctx, pathIncome, year)
}

func (a *API) Expense(ctx context.Context, year int) ([]BudgetEntry, error) {
	return a.budget(ctx, pathExpense, year)
}

func (a *API) budget(ctx context.Context, path string, year int) ([]BudgetEntry, error) {
	var opts *types.CallOptions
	if year > 0 {
		opts = &types.CallOptions{Query: map[string]string{"tahun": strconv.Itoa(year)}}
	}

	var out []BudgetEntry
	if err := a.do(ctx, fasthttp.MethodGet, path, nil, opts, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *API) IDM(ctx context.Context) ([]IDMScore, error) {
	var out []IDMScore
	if err := a.do(ctx, fasthttp.MethodGet, pathIDM, nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *API) Complaints(ctx context.Context) ([]Complaint, error) {
	var out []Complaint
	if err := a.do(ctx, fasthttp.MethodGet, pathComplaints, nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *API) SubmitComplaint(ctx context.Context, req *ComplaintRequest) error {
	return a.do(ctx, fasthttp.MethodPost, pathComplaints, req, nil, nil)
}

func (a *API) UpdateComplaintStatus(ctx context.Context, id, status string) error {
	return a.do(ctx, fasthttp.MethodPut, pathComplaints+"/"+url.PathEscape(id)+"/status", &StatusUpdate{Status: status}, nil, nil)
}

func (a *API) Users(ctx context.Context) ([]User, error) {
	var out []User
	if err := a.do(ctx, fasthttp.MethodGet, pathUsers, nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *API) Facilities(ctx context.Context) ([]Facility, error) {
	var out []Facility
	if err := a.do(ctx, fasthttp.MethodGet, pathFacilities, nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *API) Potentials(ctx context.Context) ([]Potential, error) {
	var out []Potential
	if err := a.do(ctx, fasthttp.MethodGet, pathPotentials, nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *API) RequestLetter(ctx context.Context, req *LetterRequest) error {
	return a.do(ctx, fasthttp.MethodPost, pathLetters, req, nil, nil)
}

func (a *API) Login(ctx context.Context, req *LoginRequest) (*LoginResponse, error) {
	var out LoginResponse
	if err := a.do(ctx, fasthttp.MethodPost, pathLogin, req, nil, &out); err != nil {
		return nil, err
	}
	if out.Token == "" {
		return nil, errors.WithStack(types.Errorf(types.ErrBackendDecodeFailed, "login response without token"))
	}
	return &out, nil
}

func (a *API) List(ctx context.Context, res *Resource, query map[string]string) ([]Record, error) {
	var out []Record
	if err := a.do(ctx, fasthttp.MethodGet, res.Path, nil, &types.CallOptions{Query: query}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *API) Get(ctx context.Context, res *Resource, id string) (Record, error) {
	var out Record
	if err := a.do(ctx, fasthttp.MethodGet, res.ItemPath(id), nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *API) Create(ctx context.Context, res *Resource, record Record) error {
	if res.ReadOnly {
		return types.Errorf(types.ErrResourceReadOnly, "%s", res.Name)
	}
	return a.do(ctx, fasthttp.MethodPost, res.Path, record, nil, nil)
}

func (a *API) Update(ctx context.Context, res *Resource, id string, record Record) error {
	if res.ReadOnly || res.NoUpdate {
		return types.Errorf(types.ErrResourceReadOnly, "%s", res.Name)
	}
	return a.do(ctx, fasthttp.MethodPut, res.ItemPath(id), record, nil, nil)
}

func (a *API) Delete(ctx context.Context, res *Resource, id string) error {
	if res.ReadOnly {
		return types.Errorf(types.ErrResourceReadOnly, "%s", res.Name)
	}
	return a.do(ctx, fasthttp.MethodDelete, res.ItemPath(id), nil, nil, nil)
}

func (a *API) do(ctx context.Context, method, path string, body interface{}, opts *types.CallOptions, target interface{}) error {
	if a.token != "" {
		if opts == nil {
			opts = &types.CallOptions{}
		}
		headers := make(map[string]string, len(opts.Headers)+1)
		for k, v := range opts.Headers {
			headers[k] = v
		}
		headers["Authorization"] = "Bearer " + a.token
		opts.Headers = headers
	}

	respBody, status, err := a.client.Call(ctx, method, path, body, opts)
	if err != nil {
		a.logger.Warn("Backend call failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", status),
			zap.Error(err))
		return errors.WithStack(types.WrapError(err, method+" "+path))
	}

	if status < 200 || status >= 300 {
		return errors.WithStack(newAPIError(status, respBody))
	}

	if target == nil {
		return nil
	}

	if err := decode(respBody, target); err != nil {
		return errors.WithStack(types.Errorf(types.ErrBackendDecodeFailed, "%s %s: %v", method, path, err))
	}

	return nil
}

type envelope struct {
	Data json.RawMessage `json:"data"`
}

// decode accepts either a bare payload or one wrapped in {"data": ...}.
func decode(body []byte, target interface{}) error {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil
	}

	if trimmed[0] == '{' {
		var env envelope
		if err := utils.Unmarshal(trimmed, &env); err == nil && len(env.Data) > 0 && !bytes.Equal(env.Data, []byte("null")) {
			return utils.Unmarshal([]byte(env.Data), target)
		}
	}

	return utils.Unmarshal(trimmed, target)
}
