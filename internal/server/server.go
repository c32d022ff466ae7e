// Package server wires configuration, the upload pipeline and the HTTP
// surface together.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/benaslater/animal-ai-online-experiment/internal/accesslog"
	"github.com/benaslater/animal-ai-online-experiment/internal/config"
	"github.com/benaslater/animal-ai-online-experiment/internal/ingest"
	"github.com/benaslater/animal-ai-online-experiment/internal/journal"
	"github.com/benaslater/animal-ai-online-experiment/internal/metrics"
	"github.com/benaslater/animal-ai-online-experiment/internal/middleware"
	"github.com/benaslater/animal-ai-online-experiment/internal/notify"
	"github.com/benaslater/animal-ai-online-experiment/internal/ratelimit"
	"github.com/benaslater/animal-ai-online-experiment/internal/uploader"
)

type Server struct {
	cfg         *config.Config
	journal     *journal.Store
	up          *uploader.Uploader
	ingest      *ingest.Handler
	metrics     *metrics.Collector
	accessLog   *accesslog.AccessLogger
	notifyDisp  *notify.Dispatcher
	rateLimiter *ratelimit.Limiter
	bandwidth   *ratelimit.BandwidthLimiter
	startTime   time.Time
}

func New(cfg *config.Config) (*Server, error) {
	// The upload target is validated again here; a partial credential set
	// never makes it past startup.
	uc := cfg.Upload
	opts := []uploader.Option{
		uploader.WithHTTPClient(&http.Client{Timeout: time.Duration(uc.TimeoutSecs) * time.Second}),
	}
	if uc.Endpoint != "" {
		opts = append(opts, uploader.WithEndpoint(uc.Endpoint))
	}
	up, err := uploader.New(uc.Bucket, uc.Region, uploader.Credentials{
		AccessKey: uc.AccessKey,
		SecretKey: uc.SecretKey,
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("init uploader: %w", err)
	}

	jr, err := journal.Open(cfg.Journal.Path)
	if err != nil {
		return nil, fmt.Errorf("init journal: %w", err)
	}

	mc := metrics.New()

	// Access logger if enabled
	var accessLogger *accesslog.AccessLogger
	if cfg.Logging.AccessLog {
		accessLogger, err = accesslog.NewAccessLogger(cfg.Logging.AccessLogPath)
		if err != nil {
			jr.Close()
			return nil, fmt.Errorf("init access logger: %w", err)
		}
		slog.Info("access logging enabled", "path", cfg.Logging.AccessLogPath)
	}

	// Notification dispatcher and backends
	nc := cfg.Notifications
	notifyDispatcher := notify.NewDispatcher(nc.Webhooks, nc.MaxWorkers, nc.QueueSize, nc.TimeoutSecs, nc.MaxRetries)

	if nc.Kafka.Enabled && len(nc.Kafka.Brokers) > 0 && nc.Kafka.Topic != "" {
		notifyDispatcher.AddBackend(notify.NewKafkaBackend(nc.Kafka.Brokers, nc.Kafka.Topic))
	}
	if nc.NATS.Enabled && nc.NATS.URL != "" && nc.NATS.Subject != "" {
		natsBackend, err := notify.NewNATSBackend(nc.NATS.URL, nc.NATS.Subject)
		if err != nil {
			slog.Warn("NATS backend failed to connect", "error", err)
		} else {
			notifyDispatcher.AddBackend(natsBackend)
		}
	}
	if nc.Redis.Enabled && nc.Redis.Addr != "" {
		notifyDispatcher.AddBackend(notify.NewRedisBackend(nc.Redis.Addr, nc.Redis.Channel, nc.Redis.ListKey))
	}
	if nc.Postgres.Enabled && nc.Postgres.DSN != "" {
		notifyDispatcher.AddBackend(notify.NewPostgresBackend(nc.Postgres.DSN, nc.Postgres.Table))
	}
	if nc.AMQP.Enabled && nc.AMQP.URL != "" {
		notifyDispatcher.AddBackend(notify.NewAMQPBackend(nc.AMQP.URL, nc.AMQP.Exchange, nc.AMQP.RoutingKey))
	}
	if nc.Elasticsearch.Enabled && nc.Elasticsearch.URL != "" {
		notifyDispatcher.AddBackend(notify.NewElasticsearchBackend(nc.Elasticsearch.URL, nc.Elasticsearch.Index))
	}

	// Rate limiter if enabled
	var rateLimiter *ratelimit.Limiter
	var bandwidth *ratelimit.BandwidthLimiter
	if cfg.RateLimit.Enabled {
		rateLimiter = ratelimit.NewLimiter(
			cfg.RateLimit.RequestsPerSec, cfg.RateLimit.BurstSize,
			cfg.RateLimit.PerUserRPS, cfg.RateLimit.PerUserBurst,
		)
		slog.Info("rate limit enabled",
			"ip_rps", cfg.RateLimit.RequestsPerSec, "ip_burst", cfg.RateLimit.BurstSize,
			"user_rps", cfg.RateLimit.PerUserRPS, "user_burst", cfg.RateLimit.PerUserBurst)
		if cfg.RateLimit.BandwidthBytesPerSec > 0 {
			bandwidth = ratelimit.NewBandwidthLimiter(cfg.RateLimit.BandwidthBytesPerSec)
		}
	}

	ing := ingest.NewHandler(up, jr, notifyDispatcher, mc, cfg)

	return &Server{
		cfg:         cfg,
		journal:     jr,
		up:          up,
		ingest:      ing,
		metrics:     mc,
		accessLog:   accessLogger,
		notifyDisp:  notifyDispatcher,
		rateLimiter: rateLimiter,
		bandwidth:   bandwidth,
		startTime:   time.Now(),
	}, nil
}

// Handler builds the full middleware chain and route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", healthHandler(s.startTime))
	mux.HandleFunc("/readyz", readyHandler(s.journal))
	mux.Handle("/metrics", s.metrics.Handler())
	mux.HandleFunc("/v1/rows", s.limited(s.ingest.HandleRows))
	mux.HandleFunc("/v1/sessions", s.limited(s.ingest.HandleSessions))
	mux.HandleFunc("/v1/uploads", s.handleUploads)
	mux.HandleFunc("/v1/stats", s.handleStats)

	var h http.Handler = mux
	h = middleware.CORS(s.cfg.Server.CORSOrigin, h)
	h = middleware.SecurityHeaders(h)
	if s.accessLog != nil {
		h = middleware.AccessLog(s.accessLog, h)
	}
	h = middleware.RequestID(h)
	h = s.metrics.Middleware(h)
	h = middleware.PanicRecovery(h)
	return h
}

// limited applies request-rate and bandwidth limits to an ingest endpoint.
// The participant id for per-user limiting rides in the X-User-Id header so
// the body does not have to be parsed twice.
func (s *Server) limited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := r.RemoteAddr
		if host, _, err := net.SplitHostPort(ip); err == nil {
			ip = host
		}
		if s.rateLimiter != nil && !s.rateLimiter.Allow(ip, r.Header.Get("X-User-Id")) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]string{"error": "rate limit exceeded"})
			return
		}
		if s.bandwidth != nil {
			r.Body = readerCloser{s.bandwidth.ThrottledReader(ip, r.Body), r.Body}
		}
		next(w, r)
	}
}

// handleUploads returns the most recent journaled uploads.
func (s *Server) handleUploads(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	n := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 && v <= 1000 {
			n = v
		}
	}
	records, err := s.journal.Recent(n)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"uploads": records})
}

// handleStats reports journal counters and rate limiter state.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	counts, err := s.journal.Counts()
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	stats := map[string]any{
		"uploads": counts,
		"uptime":  formatDuration(time.Since(s.startTime)),
	}
	if s.rateLimiter != nil {
		stats["rate_limit"] = s.rateLimiter.Status()
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// Run starts the server and blocks until a shutdown signal is received.
func (s *Server) Run() error {
	addr := s.cfg.ListenAddr()

	httpServer := &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}

	notifyCtx, notifyCancel := context.WithCancel(context.Background())
	defer notifyCancel()
	s.notifyDisp.Start(notifyCtx)
	slog.Info("notifications started",
		"workers", s.cfg.Notifications.MaxWorkers,
		"queue_size", s.cfg.Notifications.QueueSize,
		"webhooks", len(s.cfg.Notifications.Webhooks))

	scheme := "http"
	if s.cfg.Server.TLS.Enabled {
		scheme = "https"
	}
	slog.Info("gateway starting",
		"addr", addr,
		"scheme", scheme,
		"bucket", s.cfg.Upload.Bucket,
		"region", s.cfg.Upload.Region,
		"journal", s.cfg.Journal.Path)

	errCh := make(chan error, 1)
	go func() {
		tc := s.cfg.Server.TLS
		switch {
		case tc.Enabled && tc.Auto.Enabled:
			tlsCfg, challenge, err := NewAutoTLS(tc.Auto)
			if err != nil {
				errCh <- err
				return
			}
			if challenge != nil {
				// HTTP-01 challenges arrive on port 80.
				go http.ListenAndServe(":80", challenge)
			}
			httpServer.TLSConfig = tlsCfg
			errCh <- httpServer.ListenAndServeTLS("", "")
		case tc.Enabled:
			errCh <- httpServer.ListenAndServeTLS(tc.CertFile, tc.KeyFile)
		default:
			errCh <- httpServer.ListenAndServe()
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigCh:
		slog.Info("shutting down gracefully", "signal", sig.String())
	}

	timeout := time.Duration(s.cfg.Server.ShutdownTimeoutSecs) * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("graceful shutdown timed out", "timeout", timeout, "error", err)
		return err
	}

	s.notifyDisp.Stop()
	slog.Info("server stopped gracefully")
	return nil
}

func (s *Server) Close() {
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
	if s.accessLog != nil {
		s.accessLog.Close()
	}
	if s.journal != nil {
		s.journal.Close()
	}
}

type readerCloser struct {
	r io.Reader
	c io.Closer
}

func (rc readerCloser) Read(p []byte) (int, error) { return rc.r.Read(p) }
func (rc readerCloser) Close() error               { return rc.c.Close() }
