// Package dinitgo is a thin embeddable facade over the service-graph core
// (internal/graph), the reactor event loop (internal/reactor), the
// process-kind driver (internal/supervisor) and observability wiring
// (internal/metrics, internal/history) — in the same spirit as the
// teacher's own root-package facade over internal/manager.
package dinitgo

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/dinitgo/internal/auth"
	"github.com/loykin/dinitgo/internal/env"
	"github.com/loykin/dinitgo/internal/graph"
	"github.com/loykin/dinitgo/internal/history"
	history_factory "github.com/loykin/dinitgo/internal/history/factory"
	"github.com/loykin/dinitgo/internal/httpapi"
	"github.com/loykin/dinitgo/internal/metrics"
	"github.com/loykin/dinitgo/internal/reactor"
	"github.com/loykin/dinitgo/internal/supervisor"
	store_factory "github.com/loykin/dinitgo/internal/store/factory"
	"github.com/loykin/dinitgo/internal/svcconfig"
	dinittls "github.com/loykin/dinitgo/internal/tls"
)

// Re-export core types for external embedders.
type (
	Settings    = graph.Settings
	Kind        = graph.Kind
	State       = graph.State
	EdgeKind    = graph.EdgeKind
	Event       = graph.Event
	EventCode   = graph.EventCode
	Listener    = graph.Listener
	ShutdownKind = graph.ShutdownKind
	HistorySink = history.Sink
)

const (
	KindProcess           = graph.KindProcess
	KindBgProcess         = graph.KindBgProcess
	KindScripted          = graph.KindScripted
	KindInternal          = graph.KindInternal
	KindTriggeredInternal = graph.KindTriggeredInternal
	KindPlaceholder       = graph.KindPlaceholder
)

const (
	ShutdownNone     = graph.ShutdownNone
	ShutdownHalt     = graph.ShutdownHalt
	ShutdownPoweroff = graph.ShutdownPoweroff
	ShutdownReboot   = graph.ShutdownReboot
)

// Supervisor is the embeddable handle on a running service graph: a
// reactor goroutine, its graph.Set, and the process driver backing it.
type Supervisor struct {
	set       *graph.Set
	reactor   *reactor.Reactor
	driver    *supervisor.Driver
	globalEnv *env.Env
	authMW    *auth.Middleware
	serverCfg *svcconfig.ServerConfig
	cancel    context.CancelFunc
}

// New creates a Supervisor with no services loaded yet. Call LoadConfig or
// AddService, then Run, to bring it to life.
func New(log *slog.Logger) *Supervisor {
	set := graph.NewSet()
	rc := reactor.New(set, log)
	e := env.New()
	drv := supervisor.New(rc, e, log)
	return &Supervisor{set: set, reactor: rc, driver: drv, globalEnv: e}
}

// Run starts the reactor loop; it blocks until ctx is cancelled or Stop is called.
func (s *Supervisor) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.reactor.Run(ctx)
}

func (s *Supervisor) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

// Reactor returns the underlying event loop, for callers (e.g. cmd/dinitd)
// that need to wire a control-protocol server or other direct consumer of
// internal/reactor.Reactor's Post/PostAndWait against this supervisor's set.
func (s *Supervisor) Reactor() *reactor.Reactor { return s.reactor }

// RunningPIDs returns a snapshot of every process-backed record's name and
// PID, for feeding internal/metrics.ProcessMetricsCollector's periodic
// CPU/memory sampling.
func (s *Supervisor) RunningPIDs() map[string]int32 { return s.driver.RunningPIDs() }

// LoadConfig loads a svcconfig file (and its services directory), folds
// its global env into this supervisor, and registers every service and
// dependency edge it describes.
func (s *Supervisor) LoadConfig(path string) (*svcconfig.Config, error) {
	cfg, err := svcconfig.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	for _, kv := range cfg.GlobalEnv {
		k, v, ok := strings.Cut(kv, "=")
		if ok {
			s.globalEnv = s.globalEnv.WithSet(k, v)
		}
	}
	for _, st := range cfg.Settings {
		if err := s.AddService(st); err != nil {
			return nil, err
		}
	}
	for _, d := range cfg.Deps {
		from, ok := s.set.Find(d.From)
		if !ok {
			continue
		}
		to, ok := s.set.Find(d.To)
		if !ok {
			continue
		}
		kind, err := svcconfig.EdgeKind(d.Kind)
		if err != nil {
			return nil, err
		}
		if _, err := s.set.AddDependency(from, to, kind); err != nil {
			return nil, err
		}
	}
	if cfg.Store != nil && cfg.Store.Enabled {
		st, err := store_factory.NewFromDSN(cfg.Store.DSN)
		if err != nil {
			return nil, fmt.Errorf("dinitgo: building store: %w", err)
		}
		if err := s.driver.SetStore(st); err != nil {
			return nil, fmt.Errorf("dinitgo: preparing store schema: %w", err)
		}
	}
	if cfg.History != nil && cfg.History.Enabled && cfg.History.ClickHouseURL != "" {
		sink, err := history_factory.NewSinkFromDSN("clickhouse://" + cfg.History.ClickHouseURL + "?table=" + cfg.History.ClickHouseTable)
		if err != nil {
			return nil, fmt.Errorf("dinitgo: building history sink: %w", err)
		}
		s.driver.SetHistorySinks(sink)
	}

	s.serverCfg = cfg.Server
	if cfg.Auth != nil && cfg.Auth.Enabled {
		svc, err := auth.NewAuthService(auth.AuthConfig{
			Store:      cfg.Auth.Store,
			JWTSecret:  cfg.Auth.JWTSecret,
			TokenTTL:   cfg.Auth.TokenTTL,
			BcryptCost: cfg.Auth.BcryptCost,
		})
		if err != nil {
			return nil, fmt.Errorf("dinitgo: building auth service: %w", err)
		}
		s.authMW = auth.NewMiddleware(svc, true)
	}
	return cfg, nil
}

// SetGlobalEnv folds additional KEY=VALUE pairs into the global environment
// on top of whatever LoadConfig already computed from the config file,
// mirroring the teacher's applyGlobalEnvFromFlags/Manager.SetGlobalEnv
// command-line-overrides-config-file layering.
func (s *Supervisor) SetGlobalEnv(kvs []string) {
	for _, kv := range kvs {
		if k, v, ok := strings.Cut(kv, "="); ok {
			s.globalEnv = s.globalEnv.WithSet(k, v)
		}
	}
}

// AddService registers one service, picking the process-backed driver for
// Process/BgProcess/Scripted kinds and the no-op internal driver otherwise.
func (s *Supervisor) AddService(st Settings) error {
	var driver graph.Driver
	switch st.Kind {
	case graph.KindProcess, graph.KindBgProcess, graph.KindScripted:
		driver = s.driver
	default:
		driver = graph.NewInternalDriver(s.set)
	}
	_, err := s.set.New(st, driver)
	return err
}

func (s *Supervisor) Start(name string) bool {
	r, ok := s.set.Find(name)
	if !ok {
		return false
	}
	s.reactor.PostAndWait(func(set *graph.Set) { set.RequestStart(r) })
	return true
}

func (s *Supervisor) StopService(name string) bool {
	r, ok := s.set.Find(name)
	if !ok {
		return false
	}
	s.reactor.PostAndWait(func(set *graph.Set) { set.RequestStop(r, true) })
	return true
}

func (s *Supervisor) Status(name string) (State, bool) {
	r, ok := s.set.Find(name)
	if !ok {
		return graph.Stopped, false
	}
	return r.Current, true
}

func (s *Supervisor) StopAll(kind ShutdownKind) {
	s.reactor.PostAndWait(func(set *graph.Set) { set.StopAll(kind) })
}

func (s *Supervisor) AddListener(name string, l Listener) bool {
	r, ok := s.set.Find(name)
	if !ok {
		return false
	}
	r.AddListener(l)
	return true
}

// Metrics helpers (public facade), mirroring internal/metrics'
// RegisterMetrics/ServeMetrics top-level helpers.
func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// NewHTTPAPIServer starts the read-only observability HTTP server
// (internal/httpapi) over this supervisor's graph.Set, gated behind
// internal/auth if LoadConfig saw an enabled auth section and served over
// TLS if the config's server.tls section is enabled.
func (s *Supervisor) NewHTTPAPIServer(addr, basePath string) (*http.Server, error) {
	var tlsCfg *tls.Config
	if s.serverCfg != nil {
		var err error
		tlsCfg, err = dinittls.SetupTLS(*s.serverCfg)
		if err != nil {
			return nil, fmt.Errorf("dinitgo: setting up TLS: %w", err)
		}
	}
	if tlsCfg != nil || s.authMW != nil {
		return httpapi.NewServerTLS(addr, basePath, s.set, s.authMW, tlsCfg)
	}
	return httpapi.NewServer(addr, basePath, s.set)
}

func NewOpenSearchHistorySink(baseURL, index string) HistorySink {
	sink, _ := history_factory.NewSinkFromDSN("opensearch://" + baseURL + "/" + index)
	return sink
}

func NewClickHouseHistorySink(baseURL, table string) HistorySink {
	sink, _ := history_factory.NewSinkFromDSN("clickhouse://" + baseURL + "?table=" + table)
	return sink
}
