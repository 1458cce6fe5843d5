// Package httpapi is the read-only observability HTTP surface over a
// running service graph: service list, per-service status, dependency
// edges, and Prometheus metrics. Unlike internal/server's mutating
// register/start/stop endpoints, httpapi never touches the graph.Set
// except to read it, so it carries no coupling to the reactor.
//
// Grounded on internal/server/router.go's gin.Engine + basePath +
// NewServer(addr, ...) shape, trimmed to the subset that makes sense once
// mutation goes through the control socket (internal/control) instead of
// HTTP.
package httpapi

import (
	"crypto/tls"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/dinitgo/internal/auth"
	"github.com/loykin/dinitgo/internal/graph"
	"github.com/loykin/dinitgo/internal/metrics"
)

type Router struct {
	set      *graph.Set
	basePath string
	auth     *auth.Middleware
}

func NewRouter(set *graph.Set, basePath string) *Router {
	return &Router{set: set, basePath: sanitizeBase(basePath)}
}

// NewRouterWithAuth is NewRouter plus a bearer/basic-auth gate (the
// teacher's internal/auth.Middleware, never actually wired into its own
// internal/server) in front of every route below basePath.
func NewRouterWithAuth(set *graph.Set, basePath string, mw *auth.Middleware) *Router {
	return &Router{set: set, basePath: sanitizeBase(basePath), auth: mw}
}

func sanitizeBase(bp string) string {
	if bp == "" || bp == "/" {
		return ""
	}
	if bp[0] != '/' {
		bp = "/" + bp
	}
	for len(bp) > 1 && bp[len(bp)-1] == '/' {
		bp = bp[:len(bp)-1]
	}
	return bp
}

func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	if r.auth != nil {
		group.Use(r.auth.GinAuth())
	}
	group.GET("/services", r.handleList)
	group.GET("/services/:name", r.handleStatus)
	group.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

// NewServer starts a standalone read-only HTTP server on addr.
func NewServer(addr, basePath string, set *graph.Set) (*http.Server, error) {
	return newServer(NewRouter(set, basePath), addr, nil)
}

// NewServerWithAuth is NewServer plus an auth.Middleware gate.
func NewServerWithAuth(addr, basePath string, set *graph.Set, mw *auth.Middleware) (*http.Server, error) {
	return newServer(NewRouterWithAuth(set, basePath, mw), addr, nil)
}

// NewServerTLS is NewServerWithAuth plus a *tls.Config (built by
// internal/tls.SetupTLS from svcconfig.ServerConfig). Pass a nil mw to
// serve TLS without the auth gate.
func NewServerTLS(addr, basePath string, set *graph.Set, mw *auth.Middleware, tlsCfg *tls.Config) (*http.Server, error) {
	var r *Router
	if mw != nil {
		r = NewRouterWithAuth(set, basePath, mw)
	} else {
		r = NewRouter(set, basePath)
	}
	return newServer(r, addr, tlsCfg)
}

func newServer(r *Router, addr string, tlsCfg *tls.Config) (*http.Server, error) {
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		TLSConfig:         tlsCfg,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if tlsCfg != nil {
			err = server.ListenAndServeTLS("", "")
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return nil, err
		}
	case <-time.After(100 * time.Millisecond):
	}

	return server, nil
}

type errorResp struct {
	Error string `json:"error"`
}

type edgeView struct {
	To   string `json:"to"`
	Kind string `json:"kind"`
}

type serviceView struct {
	Name       string     `json:"name"`
	Kind       string     `json:"kind"`
	Current    string     `json:"current"`
	Target     string     `json:"target"`
	Pin        string     `json:"pin,omitempty"`
	StopReason string     `json:"stop_reason,omitempty"`
	DependsOn  []edgeView `json:"depends_on,omitempty"`
}

func viewOf(rec *graph.Record) serviceView {
	v := serviceView{
		Name:    rec.Name,
		Kind:    rec.Kind.String(),
		Current: rec.Current.String(),
		Target:  rec.Target.String(),
	}
	switch rec.Pin {
	case graph.PinStarted:
		v.Pin = "started"
	case graph.PinStopped:
		v.Pin = "stopped"
	}
	for _, e := range rec.DependsOut() {
		v.DependsOn = append(v.DependsOn, edgeView{To: e.To.Name, Kind: e.Kind.String()})
	}
	return v
}

func (r *Router) handleList(c *gin.Context) {
	all := r.set.All()
	views := make([]serviceView, 0, len(all))
	for _, rec := range all {
		views = append(views, viewOf(rec))
	}
	writeJSON(c, http.StatusOK, views)
}

func (r *Router) handleStatus(c *gin.Context) {
	name := c.Param("name")
	rec, ok := r.set.Find(name)
	if !ok {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "no such service: " + name})
		return
	}
	writeJSON(c, http.StatusOK, viewOf(rec))
}

func writeJSON(c *gin.Context, code int, v any) {
	c.JSON(code, v)
}
