// Package api hosts the HTTP server, middleware, and REST handlers for the
// infrastructure API. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - GET/POST /api/vms[/{id}] for VM reads, edits, and lifecycle actions.
//   - GET/POST/DELETE/OPTIONS /api/network_routers[/{id}] for router CRUD.
//   - GET /api/tasks[/{id}] to follow queued actions.
//   - GET/POST /api/providers[/{id}] and GET /api/servers[/{id}].
//
// Actions that touch a provider are queued as tasks and answered with a
// task_id; the worker pool executes them asynchronously.
package api
