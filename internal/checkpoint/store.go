// Package checkpoint persists batch progress and the backup artifacts written
// when units fail or a run finishes.
package checkpoint

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/leadcrawler/internal/crawler"
	"github.com/JakeFAU/leadcrawler/internal/hash/sha256"
)

const (
	contentTypeJSON = "application/json"
	snapshotLayout  = "20060102_150405"
	maxNameLength   = 48
	keyDigestLength = 8
)

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9-]+`)

// Config names the run whose progress a Store tracks.
type Config struct {
	RunID  string
	Source crawler.SourceKind
	// ArtifactPrefix is prepended to every artifact path.
	ArtifactPrefix string
}

// Store implements crawler.CheckpointStore for one run.
type Store struct {
	cfg       Config
	backend   Backend
	artifacts crawler.BlobStore
	clock     crawler.Clock
	hasher    crawler.Hasher
	logger    *zap.Logger

	mu       sync.Mutex
	lastSave int
	unlock   func() error
}

// Option customizes a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New builds a Store. artifacts receives error backups and final snapshots.
func New(cfg Config, backend Backend, artifacts crawler.BlobStore, clock crawler.Clock, hasher crawler.Hasher, opts ...Option) (*Store, error) {
	if strings.TrimSpace(cfg.RunID) == "" {
		return nil, fmt.Errorf("run id is required")
	}
	if backend == nil {
		return nil, fmt.Errorf("checkpoint backend is required")
	}
	if artifacts == nil {
		return nil, fmt.Errorf("artifact store is required")
	}
	if clock == nil || hasher == nil {
		return nil, fmt.Errorf("clock and hasher are required")
	}
	s := &Store{
		cfg:       cfg,
		backend:   backend,
		artifacts: artifacts,
		clock:     clock,
		hasher:    hasher,
		logger:    zap.NewNop(),
		lastSave:  crawler.NoUnitCompleted,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// RunID returns the run this store tracks.
func (s *Store) RunID() string {
	return s.cfg.RunID
}

// Acquire fences the run to this process when the backend supports locking.
func (s *Store) Acquire() error {
	locker, ok := s.backend.(Locker)
	if !ok {
		return nil
	}
	unlock, err := locker.Lock(s.cfg.RunID)
	if err != nil {
		return fmt.Errorf("%w: %v", crawler.ErrCheckpointIO, err)
	}
	s.mu.Lock()
	s.unlock = unlock
	s.mu.Unlock()
	return nil
}

// Release drops the lock taken by Acquire.
func (s *Store) Release() error {
	s.mu.Lock()
	unlock := s.unlock
	s.unlock = nil
	s.mu.Unlock()
	if unlock == nil {
		return nil
	}
	return unlock()
}

// Load returns the saved checkpoint, nil when none exists, or an
// ErrCheckpointIO error when it cannot be read or decoded.
func (s *Store) Load(ctx context.Context) (*crawler.Checkpoint, error) {
	cp, err := Read(ctx, s.backend, s.cfg.RunID)
	if err != nil || cp == nil {
		return nil, err
	}
	s.mu.Lock()
	s.lastSave = cp.LastCompletedIndex
	s.mu.Unlock()
	return cp, nil
}

// Read decodes the checkpoint stored under runID. Missing yields (nil, nil).
func Read(ctx context.Context, backend Backend, runID string) (*crawler.Checkpoint, error) {
	data, err := backend.Get(ctx, runID)
	if errors.Is(err, crawler.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load %s: %v", crawler.ErrCheckpointIO, runID, err)
	}
	var cp crawler.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", crawler.ErrCheckpointIO, runID, err)
	}
	if cp.LastCompletedIndex < crawler.NoUnitCompleted {
		return nil, fmt.Errorf("%w: decode %s: invalid lastCompletedIndex %d",
			crawler.ErrCheckpointIO, runID, cp.LastCompletedIndex)
	}
	if cp.Leads == nil {
		cp.Leads = []crawler.Lead{}
	}
	return &cp, nil
}

// Save replaces the stored checkpoint. The completed index never moves backwards.
func (s *Store) Save(ctx context.Context, cp crawler.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cp.LastCompletedIndex < s.lastSave {
		return fmt.Errorf("%w: checkpoint index %d precedes saved index %d",
			crawler.ErrCheckpointIO, cp.LastCompletedIndex, s.lastSave)
	}
	if cp.Leads == nil {
		cp.Leads = []crawler.Lead{}
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("%w: encode: %v", crawler.ErrCheckpointIO, err)
	}
	if err := s.backend.Put(ctx, s.cfg.RunID, data); err != nil {
		return fmt.Errorf("%w: save %s: %v", crawler.ErrCheckpointIO, s.cfg.RunID, err)
	}
	s.lastSave = cp.LastCompletedIndex
	return nil
}

// SaveErrorBackup writes {query, leads} for a unit that exhausted its retries.
func (s *Store) SaveErrorBackup(ctx context.Context, unit crawler.WorkUnit, leads []crawler.Lead) error {
	digest, err := s.hasher.Hash([]byte(fmt.Sprintf("%d:%s", unit.Index, unit.Payload)))
	if err != nil {
		return fmt.Errorf("%w: hash payload: %v", crawler.ErrCheckpointIO, err)
	}
	if len(digest) > 8 {
		digest = digest[:8]
	}
	name := fmt.Sprintf("error_backup_%s_%s.json", sanitize(unit.Payload), digest)
	if leads == nil {
		leads = []crawler.Lead{}
	}
	uri, err := s.put(ctx, name, crawler.ErrorBackup{Query: unit.Payload, Leads: leads})
	if err != nil {
		return err
	}
	s.logger.Info("error backup written",
		zap.Int("unit_index", unit.Index),
		zap.Int("leads", len(leads)),
		zap.String("uri", uri),
	)
	return nil
}

// SaveFinalSnapshot writes {leads} under a timestamped name.
func (s *Store) SaveFinalSnapshot(ctx context.Context, leads []crawler.Lead) error {
	name := fmt.Sprintf("%s_leads_backup_%s.json", s.cfg.Source, s.clock.Now().Format(snapshotLayout))
	if leads == nil {
		leads = []crawler.Lead{}
	}
	uri, err := s.put(ctx, name, crawler.Snapshot{Leads: leads})
	if err != nil {
		return err
	}
	s.logger.Info("final snapshot written",
		zap.Int("leads", len(leads)),
		zap.String("uri", uri),
	)
	return nil
}

func (s *Store) put(ctx context.Context, name string, body any) (string, error) {
	data, err := json.MarshalIndent(body, "", "  ")
	if err != nil {
		return "", fmt.Errorf("%w: encode %s: %v", crawler.ErrCheckpointIO, name, err)
	}
	objectPath := path.Join(s.cfg.ArtifactPrefix, storageKey(s.cfg.RunID), name)
	uri, err := s.artifacts.PutObject(ctx, objectPath, contentTypeJSON, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: write %s: %v", crawler.ErrCheckpointIO, objectPath, err)
	}
	return uri, nil
}

// sanitize maps s to a short file-name-safe token.
func sanitize(s string) string {
	out := strings.Trim(unsafeChars.ReplaceAllString(strings.TrimSpace(s), "_"), "_")
	if len(out) > maxNameLength {
		out = strings.TrimRight(out[:maxNameLength], "_")
	}
	return out
}

// storageKey maps a run key to a file-name-safe token of at most
// maxNameLength bytes. Keys that are already safe and short enough map to
// themselves; any key that had to be rewritten or shortened carries a digest
// of the full key so two such keys never share a token.
func storageKey(key string) string {
	if strings.TrimSpace(key) == "" {
		return ""
	}
	clean := strings.Trim(unsafeChars.ReplaceAllString(strings.TrimSpace(key), "_"), "_")
	if clean == key && len(clean) <= maxNameLength {
		return clean
	}
	digest := sha256.New().Fingerprint([]string{key}, keyDigestLength)
	if limit := maxNameLength - keyDigestLength - 1; len(clean) > limit {
		clean = strings.TrimRight(clean[:limit], "_")
	}
	if clean == "" {
		return digest
	}
	return clean + "-" + digest
}
