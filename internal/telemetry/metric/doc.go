// Package metric exposes meshstore metrics in Prometheus format.
//
//   - prometheus.go: the registry, request metrics and the /metrics handler
//   - observer.go: a storage.Observer that counts engine operations
//   - collector.go: a collector that samples engine statistics on scrape
package metric
