// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Counters
	MessagesReceived = promauto.NewCounter(prometheus.CounterOpts{Name: "bot_messages_received_total", Help: "Chat messages handed to the dispatch loop"})
	MessagesSelf     = promauto.NewCounter(prometheus.CounterOpts{Name: "bot_messages_dropped_self_total", Help: "Chat messages dropped because the bot identity sent them"})
	RepliesSent      = promauto.NewCounter(prometheus.CounterOpts{Name: "bot_replies_sent_total", Help: "Chat replies written to the connection"})
	RepliesFailed    = promauto.NewCounter(prometheus.CounterOpts{Name: "bot_replies_failed_total", Help: "Chat replies dropped (no connection, rate wait aborted)"})

	HandlerInvocations = promauto.NewCounterVec(prometheus.CounterOpts{Name: "bot_handler_invocations_total", Help: "Handler invocations by handler name"}, []string{"handler"})
	HandlerErrors      = promauto.NewCounterVec(prometheus.CounterOpts{Name: "bot_handler_errors_total", Help: "Handler failures (errors and panics) by handler name"}, []string{"handler"})
	ConnectAttempts    = promauto.NewCounterVec(prometheus.CounterOpts{Name: "bot_connect_attempts_total", Help: "Chat connect attempts by result"}, []string{"result"})
	TokenRefreshes     = promauto.NewCounterVec(prometheus.CounterOpts{Name: "bot_token_refreshes_total", Help: "Token refresh attempts by result"}, []string{"result"})
	RedisOps           = promauto.NewCounterVec(prometheus.CounterOpts{Name: "bot_redis_operations_total", Help: "Redis commands by operation and status"}, []string{"operation", "status"})

	// Histograms (seconds)
	HandlerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{Name: "bot_handler_duration_seconds", Help: "Handler run time in seconds", Buckets: prometheus.DefBuckets}, []string{"handler"})
	RedisDuration   = promauto.NewHistogramVec(prometheus.HistogramOpts{Name: "bot_redis_operation_duration_seconds", Help: "Redis command latency in seconds", Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25}}, []string{"operation"})

	// Gauges
	ConnectedBots = promauto.NewGauge(prometheus.GaugeOpts{Name: "bot_connected", Help: "Number of bot instances currently connected"})
)

// ObserveHandler records one handler run.
func ObserveHandler(name string, d time.Duration, err error) {
	HandlerInvocations.WithLabelValues(name).Inc()
	HandlerDuration.WithLabelValues(name).Observe(d.Seconds())
	if err != nil {
		HandlerErrors.WithLabelValues(name).Inc()
	}
}

// ObserveConnect records a connect attempt outcome: "ok", "auth_failed" or "error".
func ObserveConnect(result string) { ConnectAttempts.WithLabelValues(result).Inc() }

// ObserveRefresh records a token refresh outcome: "ok" or "error".
func ObserveRefresh(err error) {
	if err != nil {
		TokenRefreshes.WithLabelValues("error").Inc()
		return
	}
	TokenRefreshes.WithLabelValues("ok").Inc()
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
