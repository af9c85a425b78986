package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/leadcrawler/internal/checkpoint"
	"github.com/JakeFAU/leadcrawler/internal/clock/system"
	"github.com/JakeFAU/leadcrawler/internal/crawler"
	"github.com/JakeFAU/leadcrawler/internal/hash/sha256"
	"github.com/JakeFAU/leadcrawler/internal/retry"
	"github.com/JakeFAU/leadcrawler/internal/storage/memory"
)

type unitFunc func(call int) ([]crawler.Lead, error)

type fakeSession struct {
	mu     sync.Mutex
	script map[string]unitFunc
	calls  map[string]int
	order  []string
	closed bool
}

func (s *fakeSession) RunUnit(_ context.Context, unit crawler.WorkUnit) ([]crawler.Lead, error) {
	s.mu.Lock()
	s.calls[unit.Payload]++
	call := s.calls[unit.Payload]
	s.order = append(s.order, unit.Payload)
	fn := s.script[unit.Payload]
	s.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(call)
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type fakeSource struct {
	session *fakeSession
	openErr error
}

func (f *fakeSource) Kind() crawler.SourceKind { return crawler.SourceMapListing }

func (f *fakeSource) Open(context.Context) (crawler.Session, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	return f.session, nil
}

type recordingPauser struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (p *recordingPauser) Pause(_ context.Context, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delays = append(p.delays, d)
}

type harness struct {
	source  *fakeSource
	store   *checkpoint.Store
	blobs   *memory.BlobStore
	pauser  *recordingPauser
	states  []State
	indexes map[State][]int
}

func newHarness(t *testing.T, script map[string]unitFunc) *harness {
	t.Helper()

	backend, err := checkpoint.NewFileBackend(checkpoint.FileConfig{Dir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })

	blobs := memory.NewBlobStore()
	store, err := checkpoint.New(checkpoint.Config{
		RunID:          "map_listing-test",
		Source:         crawler.SourceMapListing,
		ArtifactPrefix: "leads",
	}, backend, blobs, system.NewManual(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)), sha256.New())
	require.NoError(t, err)

	return &harness{
		source: &fakeSource{session: &fakeSession{
			script: script,
			calls:  map[string]int{},
		}},
		store:   store,
		blobs:   blobs,
		pauser:  &recordingPauser{},
		indexes: map[State][]int{},
	}
}

func (h *harness) orchestrator(opts ...Option) *Orchestrator {
	controller := retry.New(retry.DefaultPolicy(), h.store, retry.WithPauser(h.pauser))
	base := []Option{
		WithPauser(h.pauser),
		WithConfig(Config{UnitDelayMin: 2 * time.Second, UnitDelayMax: 4 * time.Second, FinalizeTimeout: time.Second}),
		WithObserver(func(s State, i int) {
			h.states = append(h.states, s)
			h.indexes[s] = append(h.indexes[s], i)
		}),
	}
	return New(h.source, h.store, controller, append(base, opts...)...)
}

func (h *harness) snapshot(t *testing.T) crawler.Snapshot {
	t.Helper()
	var found []string
	for _, p := range h.blobs.Paths("leads/") {
		if strings.Contains(p, "_leads_backup_") {
			found = append(found, p)
		}
	}
	require.Len(t, found, 1, "exactly one final snapshot")
	data, ok := h.blobs.Get(found[0])
	require.True(t, ok)
	var snap crawler.Snapshot
	require.NoError(t, json.Unmarshal(data, &snap))
	return snap
}

func errorBackups(blobs *memory.BlobStore) []string {
	var out []string
	for _, p := range blobs.Paths("leads/") {
		if strings.Contains(p, "/error_backup_") {
			out = append(out, p)
		}
	}
	return out
}

func listing(name, address string) crawler.Lead {
	return crawler.Lead{Name: name, Address: address, Source: crawler.SourceMapListing}
}

func returns(leads ...crawler.Lead) unitFunc {
	return func(int) ([]crawler.Lead, error) { return leads, nil }
}

var errFeed = crawler.Navigation("wait", "feed", errors.New("timeout"))

func TestRunEndToEndWithExhaustedUnit(t *testing.T) {
	t.Parallel()

	h := newHarness(t, map[string]unitFunc{
		"q1": returns(listing("Acme", "1 Main St")),
		"q2": func(int) ([]crawler.Lead, error) {
			return []crawler.Lead{listing("Half", "9 Elm")}, errFeed
		},
		"q3": returns(listing("Bolt", "2 Oak Ave"), listing("acme", "1 Main St")),
	})

	leads := h.orchestrator().Run(context.Background(), crawler.UnitsFrom([]string{"q1", "q2", "q3"}))

	session := h.source.session
	assert.Equal(t, 1, session.calls["q1"])
	assert.Equal(t, 3, session.calls["q2"], "exhausted unit attempted MaxAttempts times")
	assert.Equal(t, 1, session.calls["q3"])
	assert.True(t, session.closed)

	require.Len(t, leads, 3, "duplicate acme dropped, exhausted unit keeps its last attempt")
	assert.Equal(t, "Acme", leads[0].Name)
	assert.Equal(t, "Half", leads[1].Name)
	assert.Equal(t, "Bolt", leads[2].Name)

	backups := errorBackups(h.blobs)
	require.Len(t, backups, 1)
	assert.Contains(t, backups[0], "error_backup_q2_")
	data, _ := h.blobs.Get(backups[0])
	var backup crawler.ErrorBackup
	require.NoError(t, json.Unmarshal(data, &backup))
	assert.Equal(t, "q2", backup.Query)
	assert.Len(t, backup.Leads, 3)

	assert.Equal(t, []int{0}, h.indexes[StateResuming], "fresh run starts at unit 0")
	assert.Equal(t, []int{0, 1, 2}, h.indexes[StateCheckpointing])
	cp, err := h.store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, cp.LastCompletedIndex)
	assert.Len(t, cp.Leads, 4, "checkpoint keeps raw leads including the exhausted attempt")

	snap := h.snapshot(t)
	assert.Len(t, snap.Leads, 3)
	assert.Equal(t, StateDone, h.states[len(h.states)-1])
	assert.NotContains(t, h.states, StateDraining)
}

func TestRunResumesAfterLastCompletedIndex(t *testing.T) {
	t.Parallel()

	h := newHarness(t, map[string]unitFunc{
		"q3": returns(listing("Cog", "3 Pine")),
	})
	require.NoError(t, h.store.Save(context.Background(), crawler.Checkpoint{
		Leads:              []crawler.Lead{listing("Acme", "1 Main St"), listing("Bolt", "2 Oak Ave")},
		LastCompletedIndex: 1,
	}))

	leads := h.orchestrator().Run(context.Background(), crawler.UnitsFrom([]string{"q1", "q2", "q3"}))

	assert.Equal(t, []string{"q3"}, h.source.session.order, "completed units are not re-run")
	assert.Equal(t, []int{2}, h.indexes[StateResuming])
	require.Len(t, leads, 3)
	assert.Equal(t, "Cog", leads[2].Name)
}

func TestRunCheckpointsAreMonotonic(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	units := []crawler.WorkUnit{{Index: 2, Payload: "c"}, {Index: 0, Payload: "a"}, {Index: 1, Payload: "b"}}
	h.orchestrator().Run(context.Background(), units)

	assert.Equal(t, []string{"a", "b", "c"}, h.source.session.order)
	assert.Equal(t, []int{0, 1, 2}, h.indexes[StateCheckpointing])
}

func TestRunPausesBetweenUnitsOnly(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.orchestrator().Run(context.Background(), crawler.UnitsFrom([]string{"a", "b", "c"}))

	require.Len(t, h.pauser.delays, 2, "no pause after the last unit")
	for _, d := range h.pauser.delays {
		assert.GreaterOrEqual(t, d, 2*time.Second)
		assert.LessOrEqual(t, d, 4*time.Second)
	}
}

func TestRunStopsOnUnrecoverableSession(t *testing.T) {
	t.Parallel()

	h := newHarness(t, map[string]unitFunc{
		"q1": returns(listing("Acme", "1 Main St")),
		"q2": func(int) ([]crawler.Lead, error) {
			return nil, crawler.Unrecoverable(errors.New("browser crashed"))
		},
	})

	leads := h.orchestrator().Run(context.Background(), crawler.UnitsFrom([]string{"q1", "q2", "q3"}))

	assert.Equal(t, []string{"q1", "q2"}, h.source.session.order)
	assert.Equal(t, 1, h.source.session.calls["q2"])
	assert.True(t, h.source.session.closed)
	require.Len(t, leads, 1)
	assert.Equal(t, []int{1}, h.indexes[StateDraining])

	cp, err := h.store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, cp.LastCompletedIndex, "aborted unit is not checkpointed")
	assert.Empty(t, errorBackups(h.blobs))
	assert.Len(t, h.snapshot(t).Leads, 1)
}

func TestRunOpenFailureReturnsCheckpointedLeads(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	require.NoError(t, h.store.Save(context.Background(), crawler.Checkpoint{
		Leads:              []crawler.Lead{listing("Acme", "1 Main St")},
		LastCompletedIndex: 0,
	}))
	h.source.openErr = errors.New("chrome not found")

	leads := h.orchestrator().Run(context.Background(), crawler.UnitsFrom([]string{"q1", "q2"}))

	require.Len(t, leads, 1)
	assert.Empty(t, h.source.session.order)
	assert.NotContains(t, h.states, StateProcessingUnit)
	assert.Len(t, h.snapshot(t).Leads, 1)
}

func TestRunCancellationFinalizes(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newHarness(t, map[string]unitFunc{
		"q1": func(int) ([]crawler.Lead, error) {
			cancel()
			return []crawler.Lead{listing("Acme", "1 Main St")}, nil
		},
	})

	leads := h.orchestrator().Run(ctx, crawler.UnitsFrom([]string{"q1", "q2"}))

	assert.Equal(t, []string{"q1"}, h.source.session.order)
	assert.True(t, h.source.session.closed)
	require.Len(t, leads, 1)
	assert.Len(t, h.snapshot(t).Leads, 1, "snapshot survives cancellation")
	assert.Equal(t, StateDone, h.states[len(h.states)-1])
}

func TestRemaining(t *testing.T) {
	t.Parallel()

	units := crawler.UnitsFrom([]string{"a", "b", "c"})
	assert.Len(t, remaining(units, crawler.NoUnitCompleted), 3)
	assert.Equal(t, []crawler.WorkUnit{{Index: 2, Payload: "c"}}, remaining(units, 1))
	assert.Empty(t, remaining(units, 5))
}

func TestRunLastUnitExhausted(t *testing.T) {
	t.Parallel()

	var seenBeforeQ3 = crawler.NoUnitCompleted - 1
	var h *harness
	h = newHarness(t, map[string]unitFunc{
		"q1": returns(listing("A", "1"), listing("B", "2")),
		"q2": returns(listing("C", "3"), listing("D", "4"), listing("E", "5")),
		"q3": func(call int) ([]crawler.Lead, error) {
			if call == 1 {
				cp, err := h.store.Load(context.Background())
				if err == nil && cp != nil {
					seenBeforeQ3 = cp.LastCompletedIndex
				}
			}
			return nil, errFeed
		},
	})

	leads := h.orchestrator().Run(context.Background(), crawler.UnitsFrom([]string{"q1", "q2", "q3"}))

	assert.Len(t, leads, 5)
	assert.Equal(t, 1, seenBeforeQ3, "checkpoint written before q3 began")
	assert.Equal(t, 3, h.source.session.calls["q3"])
	backups := errorBackups(h.blobs)
	require.Len(t, backups, 1)
	assert.Contains(t, backups[0], "error_backup_q3_")
	assert.Len(t, h.pauser.delays, 4, "two unit pauses and two retry pauses")
}
