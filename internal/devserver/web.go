package devserver

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"mime"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/heptiolabs/healthcheck"
	prom "github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/tsbuild/internal/config"
	ferrors "git.home.luguber.info/inful/tsbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/tsbuild/internal/fsutil"
	"git.home.luguber.info/inful/tsbuild/internal/logfields"
	"git.home.luguber.info/inful/tsbuild/internal/metrics"
)

// Internal routes live under this prefix so they never shadow build output.
const (
	LivePath    = "/__tsbuild/live"
	ReadyPath   = "/__tsbuild/ready"
	MetricsPath = "/__tsbuild/metrics"
)

type WebOptions struct {
	Host string
	// Port 0 picks a free port.
	Port   int
	Outdir string
	Proxy  map[string]config.ProxyConfig

	// Registry enables the metrics route when set.
	Registry *prom.Registry
	Logger   *slog.Logger
}

// WebServer serves the asset map, then outdir, then index.html.
type WebServer struct {
	opts   WebOptions
	logger *slog.Logger
	lock   BuildLock
	assets *AssetMap
	hub    *LiveReloadHub
	router chi.Router
	errs   *ferrors.HTTPErrorAdapter

	ready atomic.Bool

	mu       sync.Mutex
	srv      *http.Server
	addr     string
	serveErr chan error
}

func NewWebServer(opts WebOptions) (*WebServer, error) {
	if opts.Outdir == "" {
		return nil, ferrors.ValidationError("web server requires an output directory").Build()
	}
	if opts.Host == "" {
		opts.Host = config.DefaultHost
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &WebServer{
		opts:   opts,
		logger: logger,
		assets: NewAssetMap(),
		hub:    NewLiveReloadHub(logger),
		errs:   ferrors.NewHTTPErrorAdapter(logger),
	}
	router, err := s.routes()
	if err != nil {
		return nil, err
	}
	s.router = router
	return s, nil
}

func (s *WebServer) routes() (chi.Router, error) {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors)

	health := healthcheck.NewHandler()
	health.AddReadinessCheck("first-build", func() error {
		if !s.ready.Load() {
			return errors.New("waiting for first build")
		}
		return nil
	})
	r.Get(LivePath, health.LiveEndpoint)
	r.Get(ReadyPath, health.ReadyEndpoint)
	if s.opts.Registry != nil {
		r.Handle(MetricsPath, metrics.HTTPHandler(s.opts.Registry))
	}
	r.Handle(ReloadPath, s.hub)
	r.Get(ReloadScriptPath, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/javascript; charset=utf-8")
		_, _ = w.Write([]byte(LiveReloadScript))
	})

	for _, prefix := range slices.Sorted(maps.Keys(s.opts.Proxy)) {
		h, err := newProxy(prefix, s.opts.Proxy[prefix], s.errs)
		if err != nil {
			return nil, err
		}
		base := "/" + strings.Trim(prefix, "/")
		r.Handle(base, s.awaitLock(h))
		r.Handle(base+"/*", s.awaitLock(h))
	}

	r.Handle("/*", s.awaitLock(http.HandlerFunc(s.serveOutput)))
	return r, nil
}

func newProxy(prefix string, pc config.ProxyConfig, errs *ferrors.HTTPErrorAdapter) (http.Handler, error) {
	target, err := url.Parse(pc.Target)
	if err != nil || target.Host == "" || !strings.HasPrefix(prefix, "/") || strings.Trim(prefix, "/") == "" {
		return nil, ferrors.ConfigError("invalid proxy target").
			WithContext("prefix", prefix).
			WithContext("target", pc.Target).
			Build()
	}
	rp := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
			if !pc.ChangeOrigin {
				pr.Out.Host = pr.In.Host
			}
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			errs.WriteErrorResponse(w, r, ferrors.WrapError(err, ferrors.CategoryNetwork, "proxy request failed").
				WithContext("prefix", prefix).
				WithContext("target", pc.Target).
				Build())
		},
	}
	return rp, nil
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		next.ServeHTTP(w, r)
	})
}

func (s *WebServer) awaitLock(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := s.lock.Wait(r.Context()); err != nil {
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *WebServer) serveOutput(w http.ResponseWriter, r *http.Request) {
	rel := strings.TrimPrefix(path.Clean("/"+r.URL.Path), "/")
	if rel == "" {
		rel = "index.html"
	}
	if s.serveAsset(w, r, rel) {
		return
	}
	// Unknown paths are client-side routes.
	if s.serveAsset(w, r, "index.html") {
		return
	}
	s.errs.WriteErrorResponse(w, r, ferrors.NotFoundError("no output for path").WithContext("path", rel).Build())
}

func (s *WebServer) serveAsset(w http.ResponseWriter, r *http.Request, rel string) bool {
	if data, ok := s.assets.Get(rel); ok {
		w.Header().Set("Content-Type", contentType(rel))
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		if r.Method != http.MethodHead {
			_, _ = w.Write(data)
		}
		return true
	}

	file := filepath.Join(s.opts.Outdir, filepath.FromSlash(rel))
	if !fsutil.Within(s.opts.Outdir, file) {
		return false
	}
	f, err := os.Open(file)
	if err != nil {
		return false
	}
	defer func() { _ = f.Close() }()
	info, err := f.Stat()
	if err != nil || info.IsDir() {
		return false
	}
	w.Header().Set("Content-Type", contentType(rel))
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
	return true
}

func contentType(name string) string {
	if t := mime.TypeByExtension(path.Ext(name)); t != "" {
		return t
	}
	return "application/octet-stream"
}

// Handler exposes the router for embedding and tests.
func (s *WebServer) Handler() http.Handler { return s.router }

// Assets is the in-memory output served before the filesystem.
func (s *WebServer) Assets() *AssetMap { return s.assets }

// Hub is the live reload broadcaster.
func (s *WebServer) Hub() *LiveReloadHub { return s.hub }

func (s *WebServer) AcquireLock() error { return s.lock.Acquire() }
func (s *WebServer) ReleaseLock()       { s.lock.Release() }

// Addr is the bound address once listening, else the configured one.
func (s *WebServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.addr != "" {
		return s.addr
	}
	return net.JoinHostPort(s.opts.Host, strconv.Itoa(s.opts.Port))
}

// Start replaces the asset map, notifies browsers and begins listening on
// the first call.
func (s *WebServer) Start(_ context.Context, result api.BuildResult) error {
	s.assets.Replace(s.opts.Outdir, result.OutputFiles)
	s.ready.Store(true)

	if err := s.listen(); err != nil {
		return err
	}
	s.hub.Broadcast(ResultHash(result))
	return nil
}

func (s *WebServer) listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return nil
	}
	addr := net.JoinHostPort(s.opts.Host, strconv.Itoa(s.opts.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryServer, "listen").
			WithContext("addr", addr).
			Fatal().
			Build()
	}
	// No write timeout: livereload streams stay open.
	s.srv = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       300 * time.Second,
	}
	s.addr = ln.Addr().String()
	s.serveErr = make(chan error, 1)
	srv, errc := s.srv, s.serveErr
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Dev server stopped", logfields.Addr(s.addr), logfields.Error(err))
			errc <- err
		}
		close(errc)
	}()
	s.logger.Info("Serving", logfields.Addr("http://"+s.addr))
	return nil
}

// Close disconnects live reload clients and shuts the listener down.
func (s *WebServer) Close(ctx context.Context) error {
	s.hub.Shutdown()
	s.lock.Release()

	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryServer, "shutdown").Build()
	}
	return nil
}
