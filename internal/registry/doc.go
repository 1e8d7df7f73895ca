// Package registry keeps the per-site file caches and operation queues.
//
// Each site gets exactly one cache and one queue, built lazily by the
// factories passed to New. ShutdownAll drains every queue when the process
// exits.
package registry
