// Package backendtest runs a scripted village backend on an in-memory
// listener.
package backendtest

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"

	"github.com/saiset-co/sai-desa/client"
	"github.com/saiset-co/sai-desa/logger"
	"github.com/saiset-co/sai-desa/types"
	"github.com/saiset-co/sai-desa/utils"
)

const BaseURL = "http://backend.test"

type Request struct {
	Method string
	Path   string
	Query  string
	Auth   string
	Body   []byte
}

type Server struct {
	mu       sync.Mutex
	handlers map[string]fasthttp.RequestHandler
	requests []Request
	ln       *fasthttputil.InmemoryListener
	server   *fasthttp.Server
}

func New(t testing.TB) *Server {
	t.Helper()

	s := &Server{
		handlers: make(map[string]fasthttp.RequestHandler),
		ln:       fasthttputil.NewInmemoryListener(),
	}
	s.server = &fasthttp.Server{Handler: s.handle}

	go func() { _ = s.server.Serve(s.ln) }()
	t.Cleanup(func() {
		_ = s.server.Shutdown()
		_ = s.ln.Close()
	})

	return s
}

// Handle registers handler for "METHOD /path" (query string excluded).
func (s *Server) Handle(method, path string, handler fasthttp.RequestHandler) {
	s.mu.Lock()
	s.handlers[method+" "+path] = handler
	s.mu.Unlock()
}

// JSON answers method and path with payload marshalled as JSON.
func (s *Server) JSON(method, path string, status int, payload interface{}) {
	body, err := utils.Marshal(payload)
	if err != nil {
		panic(err)
	}

	s.Handle(method, path, func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(status)
		ctx.SetContentType("application/json")
		ctx.SetBody(body)
	})
}

func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// Count returns how many requests hit method and path.
func (s *Server) Count(method, path string) int {
	n := 0
	for _, r := range s.Requests() {
		if r.Method == method && r.Path == path {
			n++
		}
	}
	return n
}

func (s *Server) Dial(string) (net.Conn, error) {
	return s.ln.Dial()
}

// Config returns a backend configuration pointing at the fake server with
// short retry delays.
func (s *Server) Config() *types.BackendConfig {
	return &types.BackendConfig{
		BaseURL:      BaseURL,
		Timeout:      2 * time.Second,
		StatsRetries: 2,
		RetryBackoff: 5 * time.Millisecond,
	}
}

// Client builds an HTTP client wired to the fake server.
func (s *Server) Client(t testing.TB, config *types.BackendConfig) *client.HTTPClient {
	t.Helper()

	if config == nil {
		config = s.Config()
	}

	c, err := client.NewHTTPClient("backend", config, logger.NewNop(), client.WithDial(s.Dial))
	if err != nil {
		t.Fatalf("backend client: %v", err)
	}
	t.Cleanup(c.Close)

	return c
}

func (s *Server) handle(ctx *fasthttp.RequestCtx) {
	method := string(ctx.Method())
	path := string(ctx.Path())

	s.mu.Lock()
	s.requests = append(s.requests, Request{
		Method: method,
		Path:   path,
		Query:  string(ctx.QueryArgs().QueryString()),
		Auth:   string(ctx.Request.Header.Peek("Authorization")),
		Body:   append([]byte(nil), ctx.PostBody()...),
	})
	handler, ok := s.handlers[method+" "+path]
	s.mu.Unlock()

	if !ok {
		ctx.SetStatusCode(fasthttp.StatusNotFound)
		ctx.SetBodyString(`{"message":"not found"}`)
		return
	}

	handler(ctx)
}
