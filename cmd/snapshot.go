package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/JakeFAU/leadcrawler/internal/batch"
	"github.com/JakeFAU/leadcrawler/internal/crawler"
)

func readSnapshot(path string) (crawler.Snapshot, error) {
	// #nosec G304 -- the path comes from the operator's flag.
	data, err := os.ReadFile(path)
	if err != nil {
		return crawler.Snapshot{}, fmt.Errorf("read snapshot: %w", err)
	}
	var snap crawler.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return crawler.Snapshot{}, fmt.Errorf("decode snapshot %s: %w", path, err)
	}
	return snap, nil
}

func writeSnapshot(path string, snap crawler.Snapshot) error {
	if snap.Leads == nil {
		snap.Leads = []crawler.Lead{}
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create snapshot dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

func collectLeads(results []batch.Result) []crawler.Lead {
	var leads []crawler.Lead
	for _, res := range results {
		leads = append(leads, res.Leads...)
	}
	return leads
}
