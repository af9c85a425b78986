// Package main hosts the leadcrawler entrypoint.
//
// Architecture overview:
//   - Sources: internal/source/maps, comments and posts turn one work unit (a
//     search query, a video reference or a group URL) into leads. Page sources
//     drive a crawler.Navigator (headless Chrome or plain HTTP); the comment
//     source calls the video API through internal/youtube.
//   - Orchestration: internal/batch runs one batch per source concurrently.
//     Each batch owns a checkpoint store, a retry controller and an
//     orchestrator that walks units in order, deduplicates leads and saves
//     progress after every unit so an interrupted run resumes where it stopped.
//   - Persistence & fanout: checkpoints live in files or Badger; error
//     backups and final snapshots go to the configured BlobStore
//     (local/GCS/S3/memory). Finished leads are upserted into Postgres and
//     published to Pub/Sub when those sinks are enabled.
//   - Outreach: internal/dispatch walks a snapshot and sends at most the daily
//     limit of messages through email (SMTP) or direct messages.
//   - Plumbing: Viper populates config from files and LEADCRAWLER_* env vars;
//     zap provides structured logging; Prometheus metrics are served by
//     `leadcrawler serve` alongside health and checkpoint endpoints.
//
// Quick checklist:
//   - Crawl: go run ./cmd/leadcrawler crawl maps --config config.yaml -o leads.json
//   - Outreach: go run ./cmd/leadcrawler dispatch --leads leads.json
//   - Both: go run ./cmd/leadcrawler run
//   - Status: go run ./cmd/leadcrawler serve, then GET /v1/runs/{run_id}/checkpoint
package main
