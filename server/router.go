package server

import (
	"sort"
	"strings"
	"sync"

	"github.com/saiset-co/sai-desa/types"
)

const maxMiddlewareSliceSize = 100

var methodIndex = map[string]uint8{
	"GET":     0,
	"POST":    1,
	"PUT":     2,
	"DELETE":  3,
	"PATCH":   4,
	"HEAD":    5,
	"OPTIONS": 6,
}

// Router resolves static paths through a map and parameterized paths
// ("/artikel/{id}") through a segment trie. Static segments win over
// parameters at the same depth.
type Router struct {
	mu            sync.RWMutex
	root          *routeNode
	staticRoutes  map[string]*types.RouteInfo
	pendingRoutes []types.RouteBuilder
	patterns      map[string]*types.RouteInfo
}

type routeNode struct {
	staticChildren map[string]*routeNode
	paramChild     *routeNode
	paramName      string
	routes         map[uint8]*types.RouteInfo
}

func newNode() *routeNode {
	return &routeNode{
		staticChildren: make(map[string]*routeNode),
		routes:         make(map[uint8]*types.RouteInfo),
	}
}

func NewRouter() *Router {
	return &Router{
		root:         newNode(),
		staticRoutes: make(map[string]*types.RouteInfo),
		patterns:     make(map[string]*types.RouteInfo),
	}
}

func (r *Router) Add(method, path string, handler types.FastHTTPHandler, config *types.RouteConfig) {
	methodIdx, ok := methodIndex[method]
	if !ok || handler == nil {
		return
	}

	if config == nil {
		config = &types.RouteConfig{}
	}
	info := &types.RouteInfo{Handler: handler, Config: config}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.patterns[method+" "+path] = info

	if !strings.Contains(path, "{") {
		r.staticRoutes[method+" "+path] = info
		return
	}

	node := r.root
	for _, segment := range splitPath(path) {
		if strings.HasPrefix(segment, "{") && strings.HasSuffix(segment, "}") {
			if node.paramChild == nil {
				node.paramChild = newNode()
				node.paramChild.paramName = segment[1 : len(segment)-1]
			}
			node = node.paramChild
			continue
		}

		child, exists := node.staticChildren[segment]
		if !exists {
			child = newNode()
			node.staticChildren[segment] = child
		}
		node = child
	}

	node.routes[methodIdx] = info
}

// Lookup finds the route for method and path along with captured parameters.
func (r *Router) Lookup(method, path string) (*types.RouteInfo, map[string]string) {
	methodIdx, ok := methodIndex[method]
	if !ok {
		return nil, nil
	}

	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if info, exists := r.staticRoutes[method+" "+path]; exists {
		return info, nil
	}

	params := make(map[string]string)
	node := r.find(r.root, splitPath(path), params)
	if node == nil {
		return nil, nil
	}

	info, exists := node.routes[methodIdx]
	if !exists {
		return nil, nil
	}

	return info, params
}

func (r *Router) find(node *routeNode, segments []string, params map[string]string) *routeNode {
	if len(segments) == 0 {
		if len(node.routes) == 0 {
			return nil
		}
		return node
	}

	segment := segments[0]

	if child, exists := node.staticChildren[segment]; exists {
		if found := r.find(child, segments[1:], params); found != nil {
			return found
		}
	}

	if node.paramChild != nil && segment != "" {
		if found := r.find(node.paramChild, segments[1:], params); found != nil {
			params[node.paramChild.paramName] = segment
			return found
		}
	}

	return nil
}

func (r *Router) Route(method, path string, handler types.FastHTTPHandler) types.RouteBuilder {
	rb := &RouteBuilder{
		router:  r,
		method:  method,
		path:    path,
		handler: handler,
		config:  &types.RouteConfig{},
	}

	r.mu.Lock()
	r.pendingRoutes = append(r.pendingRoutes, rb)
	r.mu.Unlock()

	return rb
}

func (r *Router) GET(path string, handler types.FastHTTPHandler) types.RouteBuilder {
	return r.Route("GET", path, handler)
}

func (r *Router) POST(path string, handler types.FastHTTPHandler) types.RouteBuilder {
	return r.Route("POST", path, handler)
}

func (r *Router) Group(prefix string) types.GroupBuilder {
	return &GroupBuilder{
		router: r,
		prefix: prefix,
		config: &types.RouteConfig{},
	}
}

// FinalizePendingRoutes registers every route declared through a builder.
func (r *Router) FinalizePendingRoutes() error {
	r.mu.Lock()
	pending := r.pendingRoutes
	r.pendingRoutes = nil
	r.mu.Unlock()

	for _, rb := range pending {
		if err := rb.Finalize(); err != nil {
			return types.WrapError(types.ErrRouteFinalizationFailed, err.Error())
		}
	}

	return nil
}

func (r *Router) GetAllRoutes() map[string]*types.RouteInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	routes := make(map[string]*types.RouteInfo, len(r.patterns))
	for key, info := range r.patterns {
		routes[key] = info
	}
	return routes
}

// Patterns returns "METHOD /path" for every registered route, sorted.
func (r *Router) Patterns() []string {
	routes := r.GetAllRoutes()

	patterns := make([]string, 0, len(routes))
	for key := range routes {
		patterns = append(patterns, key)
	}
	sort.Strings(patterns)
	return patterns
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}
