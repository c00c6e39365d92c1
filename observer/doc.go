// Package observer provides pipeline.Observer implementations.
//
//   - LogObserver: logs the start and the report of every pipeline run through zap.
//   - MetricsObserver: counts records, runs and time spent per task in Prometheus
//     metrics registered on the given registerer.
//   - LedgerObserver: appends one JSON line per finished run to a ledger file, so the
//     history of a run directory can be inspected after the fact.
//
// Combine several with Multi.
package observer
