// Package api serves a built archive over HTTP. Routes:
//   - GET /healthz and /readyz for probes; readyz turns green once an index exists.
//   - GET /metrics for Prometheus scraping.
//   - GET /api/runs, /api/runs/{id} and /api/runs/{id}/hosts for build history
//     via store.RunRepository.
//   - GET / serves the index page; every other path serves the archive tree.
package api
