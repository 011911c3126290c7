// Package tracing wraps OpenTelemetry so that orchestration code can start
// and end spans without importing the upstream packages directly.
package tracing
