// Package observability provides Prometheus metrics, health checks,
// OpenTelemetry setup and graceful shutdown for the API server.
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	router.Use(observability.HTTPMetricsMiddleware(metrics))
//	observability.RegisterMetricsEndpoint(adminMux, registry)
//
// HTTP requests are labelled by mux route template. Team, role and
// membership operations are counted by outcome through RecordOperation.
//
// # Health Checks
//
// /health/live always answers 200. /health/ready runs the checks of every
// registered dependency concurrently:
//
//	checker := observability.NewHealthChecker(version).
//		Require("database", observability.PingDatabase(db)).
//		Optional("redis", observability.PingRedis(client))
//
// A required dependency that is down answers 503. An optional one, or a
// check returning ErrDegraded, only degrades readiness.
//
// # Tracing
//
// InitOTel installs global OTLP gRPC tracer and meter providers, sampling
// new traces at the configured ratio. Managers
// create spans through otel.Tracer; WithTraceContext copies the active trace
// and span IDs onto a logrus entry.
package observability
