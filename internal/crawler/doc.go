// Package crawler defines the lead model, the error taxonomy and the small
// interfaces shared by the extraction pipeline.
//
// Sources open sessions that turn work units into leads. The orchestrator
// drives one session per batch, checkpointing between units, and the
// dispatch stage hands finished leads to outreach channels.
package crawler
