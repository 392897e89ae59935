// Package demo is the sample application served by the rewire command: a
// greeting service whose graph is built from configuration sections.
package demo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danpasecinic/rewire"
	"github.com/danpasecinic/rewire/config"
)

type ServerConfig struct {
	Addr        string        `yaml:"addr" validate:"required"`
	ReadTimeout time.Duration `yaml:"read_timeout" validate:"gte=0"`
}

type GreeterConfig struct {
	Greeting string `yaml:"greeting" validate:"required"`
	Fallback string `yaml:"fallback"`
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{Addr: ":8080", ReadTimeout: 5 * time.Second}
}

func DefaultGreeterConfig() GreeterConfig {
	return GreeterConfig{Greeting: "Hello", Fallback: "world"}
}

// HealthFunc reports the health of the solved graph.
type HealthFunc func(ctx context.Context) []rewire.HealthReport

// Store counts greetings per name.
type Store struct {
	mu     sync.Mutex
	counts map[string]int
	closed bool
}

func NewStore() *Store {
	return &Store{counts: make(map[string]int)}
}

func (s *Store) Visit(name string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, errors.New("store closed")
	}
	s.counts[name]++
	return s.counts[name], nil
}

func (s *Store) Close(context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *Store) HealthCheck(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("store closed")
	}
	return nil
}

// RegisterLifecycle closes the store at shutdown.
func (s *Store) RegisterLifecycle(lc *rewire.Lifecycle) error {
	return lc.OnStop(context.Background(), rewire.NewHook("store", s.Close))
}

type Greeter struct {
	Config GreeterConfig `rewire:""`
	Store  *Store        `rewire:""`
}

func (g *Greeter) Greet(name string) (string, error) {
	if name == "" {
		name = g.Config.Fallback
	}
	n, err := g.Store.Visit(name)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s, %s! (visit %d)", g.Config.Greeting, name, n), nil
}

func NewMux(g *Greeter, health HealthFunc) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		msg, err := g.Greet(r.URL.Query().Get("name"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		_, _ = fmt.Fprintln(w, msg)
	})

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		type entry struct {
			Name    string `json:"name"`
			Status  string `json:"status"`
			Error   string `json:"error,omitempty"`
			Latency string `json:"latency"`
		}

		reports := health(r.Context())
		out := make([]entry, len(reports))
		code := http.StatusOK
		for i, rep := range reports {
			out[i] = entry{Name: rep.Name, Status: string(rep.Status), Latency: rep.Latency.String()}
			if rep.Error != nil {
				out[i].Error = rep.Error.Error()
			}
			if rep.Status != rewire.HealthStatusUp {
				code = http.StatusServiceUnavailable
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(out)
	})

	return mux
}

// AccessLog wraps the handler with request logging.
func AccessLog(logger *slog.Logger) rewire.Decorator[http.Handler] {
	return func(_ context.Context, next http.Handler) (http.Handler, error) {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Info("request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
		}), nil
	}
}

type Server struct {
	cfg     ServerConfig
	srv     *http.Server
	logger  *slog.Logger
	serving atomic.Bool
	addr    atomic.Value
	ready   chan struct{}
}

func NewServer(cfg ServerConfig, handler http.Handler, logger *slog.Logger) *Server {
	return &Server{
		cfg: cfg,
		srv: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: cfg.ReadTimeout,
		},
		logger: logger,
		ready:  make(chan struct{}),
	}
}

// Ready is closed once the server accepts connections.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the bound address once Ready is closed.
func (s *Server) Addr() string {
	addr, _ := s.addr.Load().(string)
	return addr
}

func (s *Server) HealthCheck(context.Context) error {
	if !s.serving.Load() {
		return errors.New("server not serving")
	}
	return nil
}

func (s *Server) RegisterLifecycle(lc *rewire.Lifecycle) error {
	return lc.Run(s.serve(lc), rewire.WithTaskName("http"))
}

func (s *Server) serve(lc *rewire.Lifecycle) rewire.Task {
	return func(ctx context.Context) error {
		ln, err := net.Listen("tcp", s.cfg.Addr)
		if err != nil {
			return err
		}

		if err := lc.OnStop(ctx, rewire.NewHook("http-shutdown", func(ctx context.Context) error {
			s.serving.Store(false)
			return s.srv.Shutdown(ctx)
		})); err != nil {
			_ = ln.Close()
			return err
		}

		s.addr.Store(ln.Addr().String())
		s.serving.Store(true)
		close(s.ready)
		s.logger.Info("serving", "addr", ln.Addr().String())

		if err := s.srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			s.serving.Store(false)
			return err
		}
		return nil
	}
}

// Build declares the application graph. Sections missing from src fall back
// to the defaults.
func Build(src *config.Source, logger *slog.Logger, opts ...rewire.Option) *rewire.Container {
	c := rewire.New(opts...)

	settings := rewire.New()
	settings.Bind(
		config.SourceNode(src),
		config.NodeDefault(src, "server", DefaultServerConfig()),
		config.NodeDefault(src, "greeter", DefaultGreeterConfig()),
	)

	c.Add(settings)
	c.Bind(
		rewire.Value(logger, rewire.WithLabel("logger")),
		rewire.Value(HealthFunc(c.Health), rewire.WithLabel("health")),
		rewire.MustInjectAll(NewStore, rewire.WithLabel("store")),
		rewire.MustInjectStruct[*Greeter](rewire.WithLabel("greeter")),
		rewire.MustInjectAll(NewMux, rewire.WithLabel("mux")),
		rewire.Decorate(AccessLog(logger), rewire.WithLabel("access-log")),
		rewire.MustInjectAll(NewServer, rewire.WithLabel("server")),
	)
	return c
}
