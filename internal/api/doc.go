// Package api hosts the HTTP server, middleware, and handlers. Notable routes:
//   - POST /api/analytics/log-ip for the public visitor beacon. It always
//     answers 204 and hands admitted submissions to the background pipeline.
//   - GET /api/analytics/ip-logs for operators holding the admin secret.
//     Every failure looks like a missing route.
//   - GET /healthz / readyz for probes.
//   - GET /metrics for Prometheus scraping.
package api
