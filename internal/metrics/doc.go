/*
Package metrics exports cloudfile activity as Prometheus metrics.

A Collector owns a private registry. It implements the retry observer
directly and hands out per-site observers for the file cache and the
operation queue:

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   true,
		Port:      9090,
		Namespace: "cloudfile",
	})
	if err != nil {
		return err
	}
	executor := retry.New(cfg, retry.WithObserver(collector))
	fc := cache.NewFileCache(cacheCfg, cache.WithObserver(collector.Site("finance")))

# Metrics

	cloudfile_cache_requests_total{site,result}
	cloudfile_cache_evictions_total{site}
	cloudfile_cache_stored_bytes_total{site}
	cloudfile_cache_size_bytes{site}
	cloudfile_retry_attempts_total{operation}
	cloudfile_retry_exhausted_total{operation}
	cloudfile_queue_submitted_total{site}
	cloudfile_queue_completed_total{site,status}
	cloudfile_queue_items{site,state}
	cloudfile_remote_operations_total{operation,status}
	cloudfile_remote_operation_duration_seconds{operation}
	cloudfile_remote_circuit_state{site}

Retry operation labels keep only the first word of the operation name, so
"download reports/q1.xlsx" is counted as "download".

Start exposes /metrics and /health on the configured port; SetHealthHandler
swaps the static health body for a real checker. A disabled or
nil Collector accepts every call and records nothing.
*/
package metrics
