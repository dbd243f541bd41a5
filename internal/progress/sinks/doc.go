// Package sinks implements concrete task event consumers: structured logging,
// Prometheus metrics, broker notifications, and the finished-task archive.
// Each sink satisfies the progress.Sink interface and is safe for repeated
// Consume/Close cycles.
package sinks
