// Package main hosts the infra-api service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes /api/vms, /api/templates, /api/network_routers, /api/providers,
//     /api/servers and /api/tasks behind HTTP basic auth. Actions are authorized against role features, validated
//     against provider capabilities, recorded as tasks, and enqueued.
//   - Dispatcher & queue: queue items flow through a bounded in-memory queue sized by queue.depth and are fanned out
//     to a fixed worker pool sized by workers.concurrency. Workers run each item through the provider adapter and
//     move the task to Finished with an Ok or Error status.
//   - Central administration: actions against resources owned by another region are relayed to that region's API
//     when regions.<n>.url is configured.
//   - Persistence & fanout: tasks and events live in Postgres when database.dsn is set, otherwise in memory. Task
//     progress events are batched by the progress hub and sent to log, Prometheus, Pub/Sub and archive sinks.
//   - Configuration & plumbing: Viper populates config from the --config file and INFRA_* env vars; zap provides
//     structured logging; Prometheus metrics are served at /metrics; OpenTelemetry spans wrap task execution.
//
// Quick checklist:
//   - Generate a password hash: go run ./cmd/infraapi hash-password 's3cret'
//   - Run locally: go run ./cmd/infraapi serve --config config.yaml
//   - Shutdown: the process drains HTTP and workers on SIGINT/SIGTERM.
package main
