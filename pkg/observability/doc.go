// Package observability provides structured logging, Prometheus metrics, and
// health checks.
//
// # Overview
//
// This package centralizes observability infrastructure: JSON logging over
// slog, metrics collection, dependency health probes, graceful shutdown, and
// panic recovery helpers.
//
// # Structured Logging
//
// Create logger:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.Info("server started")
//
// Context-aware logging:
//
//	logger.WithField("request_id", reqID).WithError(err).Error("request failed")
//
// # Prometheus Metrics
//
// Initialize metrics:
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.AuthAttemptsTotal.WithLabelValues("secret-bearer", "success").Inc()
//
// Business metrics:
//
//	metrics.KeysActive.Set(float64(activeCount))
//
// # Health Checks
//
// Configure health checker:
//
//	checker := observability.NewHealthChecker()
//	checker.AddRequired("storage", store)
//	checker.AddOptional("audit", auditDB)
//	observability.RegisterHealthRoutes(mux, checker)
//
// # Related Packages
//
//   - pkg/config: Observability configuration
//   - pkg/middleware: Request logging middleware
package observability
