// Package cmd defines the harvester CLI.
//
// Architecture overview:
//   - crawl <mode>: one pass of the pipeline. popular walks the trending chart, categories resolves category
//     names to ids per run and crawls each, top_tags reads a top-N tag snapshot from the content index and
//     crawls each tag as a keyword search. Every target fetches its first page and at most max_scrolls more.
//   - Pipeline: gathered items are archived (optional), flattened into content documents, and their distinct
//     tags are extracted into tag documents. Both go to the search index as idempotent upserts in one bulk
//     request. A run ledger row and an optional Pub/Sub notification are written when the run finishes.
//   - schedule: runs configured cron jobs through the same pipeline and serves /healthz, /readyz and /metrics
//     when ops.listen_addr is set.
//   - Configuration & plumbing: Viper populates config from a YAML file, .env and HARVESTER_* variables; zap
//     provides structured logging; Prometheus counters track page requests and bulk outcomes; OpenTelemetry
//     spans cover each run, source call and index request.
//
// Quick checklist:
//   - Configure HARVESTER_SOURCE_API_KEY, HARVESTER_INDEX_ADDRESSES and index names (HARVESTER_INDEX_CONTENT_NAME,
//     HARVESTER_INDEX_TAGS_NAME). Archive, database and Pub/Sub sections are optional.
//   - Run locally: go run . crawl popular --config config.yaml
//   - A missing category or failed commit exits non-zero after the run summary is printed.
package cmd
