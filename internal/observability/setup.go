package observability

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/velzar/velzar"

var (
	loggerMu sync.RWMutex
	logger   = zap.NewNop()

	verdictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "velzar_verdicts_total",
			Help: "Message verdicts by action and deciding layer",
		},
		[]string{"action", "layer"},
	)

	judgeOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "velzar_judge_outcomes_total",
			Help: "Oracle classification outcomes, including failure kinds",
		},
		[]string{"outcome"},
	)

	lockdownsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "velzar_lockdowns_total",
			Help: "Raid lockdowns activated",
		},
	)

	captchaOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "velzar_captcha_outcomes_total",
			Help: "Captcha resolutions by outcome",
		},
		[]string{"outcome"},
	)

	evaluationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "velzar_evaluation_duration_seconds",
			Help:    "Time spent evaluating a message",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"action"},
	)
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		verdictsTotal,
		judgeOutcomesTotal,
		lockdownsTotal,
		captchaOutcomesTotal,
		evaluationDuration,
	}
}

// Logger returns the structured logger; a no-op logger until the Server starts.
func Logger() *zap.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return logger
}

func setLogger(l *zap.Logger) {
	loggerMu.Lock()
	logger = l
	loggerMu.Unlock()
}

func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

func RecordVerdict(action, layer string) {
	verdictsTotal.WithLabelValues(action, layer).Inc()
}

func RecordJudgeOutcome(outcome string) {
	judgeOutcomesTotal.WithLabelValues(outcome).Inc()
}

func RecordLockdown() {
	lockdownsTotal.Inc()
}

func RecordCaptchaOutcome(outcome string) {
	captchaOutcomesTotal.WithLabelValues(outcome).Inc()
}

func ObserveEvaluation(action string, d time.Duration) {
	evaluationDuration.WithLabelValues(action).Observe(d.Seconds())
}

// Server owns the metrics endpoint, the tracer provider and the zap logger.
type Server struct {
	addr string

	mu       sync.Mutex
	srv      *http.Server
	listener net.Listener
	tp       *sdktrace.TracerProvider
	started  bool
}

func NewServer(addr string) *Server {
	return &Server{addr: addr}
}

func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}

	zl, err := zap.NewProduction()
	if err != nil {
		return err
	}
	setLogger(zl)

	registry := prometheus.NewRegistry()
	for _, c := range collectors() {
		if err := registry.Register(c); err != nil {
			return err
		}
	}

	s.tp = sdktrace.NewTracerProvider()
	otel.SetTracerProvider(s.tp)

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	s.srv = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.listener = listener
	s.started = true

	go func() {
		if err := s.srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithField("error", err.Error()).Error("metrics server failed")
		}
	}()
	return nil
}

// Addr reports the bound listen address, useful when configured with port 0.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	srv, tp := s.srv, s.tp
	s.mu.Unlock()

	err := srv.Shutdown(ctx)
	err = errors.Join(err, tp.Shutdown(ctx))
	_ = Logger().Sync()
	return err
}
