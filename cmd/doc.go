// Package cmd defines the igocrawler command line.
//
// Architecture overview:
//   - Catalog: "seed" reads the organizations catalog (CSV or XLSX) and upserts
//     one organizations row per acronym and region.
//   - Session: "crawl" opens a session row, then runs each active adapter in
//     turn. Every organization goes through discover, resolve, filter and
//     download over two staging tables that are emptied before it starts.
//   - Download: staged documents are fetched in batches (errgroup bounded by
//     download.max_concurrent when download.parallel is set), written to the
//     BlobStore (local/GCS/memory) under <acronym>/<region>/<id>.<ext> and
//     recorded in the documents table. A Pub/Sub message is published per stored
//     file when a topic is configured.
//   - Progress: lifecycle events go through the progress Hub to the live
//     tracker, the log, Prometheus and, with --progress, console bars.
//   - Configuration & plumbing: Viper populates config from config.yaml and
//     IGOCRAWLER_* env vars; zap provides structured logging; the optional
//     status server exposes /healthz, /readyz, /metrics and /v1/progress.
//
// Operational notes:
//   - Rate limiting/backoff: 429 responses are retried after Retry-After or
//     exponential backoff until http.max_wait_seconds is spent.
//   - "schedule" repeats the crawl on a cron expression and skips a tick while
//     the previous session is still running. SIGINT/SIGTERM stop the current
//     session; the session row is still closed.
package cmd
