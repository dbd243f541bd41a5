// Package progress provides the task event primitives, a non-blocking hub, and
// emitter interfaces used to report task lifecycle transitions. The hub batches
// events on a background goroutine and fans them out to pluggable sinks such as
// structured logs, Prometheus metrics, Pub/Sub notifications, and the task
// archive.
package progress
