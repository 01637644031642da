package metrics

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// HTTP metrics
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dwelltime_http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"method", "route", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dwelltime_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	RateLimited = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dwelltime_http_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		},
	)

	// Tracking metrics
	AggregatesCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dwelltime_aggregates_created_total",
			Help: "Daily person duration aggregates created",
		},
	)

	SessionsOpened = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dwelltime_sessions_opened_total",
			Help: "Detection sessions opened",
		},
	)

	SessionsClosed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dwelltime_sessions_closed_total",
			Help: "Detection sessions closed",
		},
	)

	SecondsAccumulated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dwelltime_seconds_accumulated_total",
			Help: "Seconds folded into daily totals",
		},
	)

	TrackerErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dwelltime_tracker_errors_total",
			Help: "Tracker operations that returned an error",
		},
		[]string{"operation", "kind"},
	)

	// Blob metrics
	BlobBytesStored = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dwelltime_blob_bytes_stored_total",
			Help: "Bytes of labeled images written",
		},
	)

	// Credential metrics
	APIKeysIssued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dwelltime_api_keys_issued_total",
			Help: "API keys issued",
		},
	)

	APIKeysPurged = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dwelltime_api_keys_purged_total",
			Help: "Expired API keys removed from storage",
		},
	)

	CredentialValidations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dwelltime_credential_validations_total",
			Help: "API key validations by result",
		},
		[]string{"result"},
	)

	CredentialCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dwelltime_credential_cache_hits_total",
			Help: "Credential validation cache hits",
		},
	)

	CredentialCacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dwelltime_credential_cache_misses_total",
			Help: "Credential validation cache misses",
		},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		RateLimited,
		AggregatesCreated,
		SessionsOpened,
		SessionsClosed,
		SecondsAccumulated,
		TrackerErrors,
		BlobBytesStored,
		APIKeysIssued,
		APIKeysPurged,
		CredentialValidations,
		CredentialCacheHits,
		CredentialCacheMisses,
	)
}

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // set when systemd passed us the socket
}

// NewServer creates a new metrics server
func NewServer(addr string, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start serves metrics in the background
func (s *Server) Start() {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated metrics listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
}

// Stop drains in-flight scrapes and stops the server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Shutdown(ctx)
}
