// Package metric provides Prometheus metrics for sessionkeep.
//
// Metrics include:
//
//   - Session state transitions and the current status
//   - Busy rejections of overlapping session operations
//   - Identity request counts by outcome and latency histograms
//   - Token store failures and degradation to memory
//
// Every Registry method is safe on a nil receiver so components can be
// built without metrics. The CLI exposes the registry at /metrics when
// metrics.address is configured.
package metric
