// Package main hosts the visitor telemetry service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes the public beacon endpoint, the operator retrieval endpoint, health
//     probes and metrics. The beacon handler only touches the deduplication gate, the ingest cooldown and a
//     non-blocking enqueue, then answers 204.
//   - Dispatcher & queue: admitted visits flow through a bounded in-memory queue sized by pipeline.queue_depth and are
//     fanned out to a fixed worker pool sized by pipeline.workers. A full queue drops the visit and counts it.
//   - Enrichment: workers parse the payload, classify the user agent and resolve a location through the cascade of
//     client GPS, client IP estimate, the offline MaxMind database and one ipapi.co lookup guarded by a circuit
//     breaker.
//   - Persistence & alerts: each visit is written to Postgres (or memory when no DSN is set), then an HTML alert goes
//     to Telegram, a Pub/Sub topic or the log, subject to the per-address notification cooldown.
//   - Configuration & plumbing: Viper populates config from env/files; zap provides structured logging; Prometheus
//     collectors and OpenTelemetry spans cover the pipeline.
//
// Quick checklist:
//   - Configure env vars: TELEMETRY_SERVER_PORT or PORT, TELEMETRY_AUTH_ADMIN_SECRET, TELEMETRY_NOTIFY_BACKEND with
//     TELEMETRY_TELEGRAM_BOT_TOKEN/TELEMETRY_TELEGRAM_CHAT_ID or TELEMETRY_PUBSUB_PROJECT_ID/TELEMETRY_PUBSUB_TOPIC_NAME,
//     TELEMETRY_GEO_OFFLINE_DB_PATH and TELEMETRY_DB_DSN when records should outlive the process.
//   - Run locally: go run ./cmd/telemetryd -config config.yaml (or rely solely on env overrides).
//   - Cloud Run: the container listens on PORT and drains the queue on SIGTERM.
package main
