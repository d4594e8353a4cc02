// Package fsqueue implements queue.Persister as one JSON file per
// workspace under a base directory, grounded directly on
// internal/memorystore/checkpoint.go's file-per-unit writer (open,
// mkdir-on-missing-dir retry, buffered JSON encode).
package fsqueue

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nmeshed/nmeshed-go/internal/queue"
)

// Persister writes each workspace's queue to <dir>/<workspaceID>.json.
type Persister struct {
	dir string
}

func New(dir string) *Persister {
	return &Persister{dir: dir}
}

func (p *Persister) path(workspaceID string) string {
	return filepath.Join(p.dir, workspaceID+".json")
}

func (p *Persister) Load(workspaceID string) ([]queue.Entry, error) {
	f, err := os.Open(p.path(workspaceID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("fsqueue: open failed: %w", err)
	}
	defer f.Close()

	var entries []queue.Entry
	if err := json.NewDecoder(f).Decode(&entries); err != nil {
		return nil, fmt.Errorf("fsqueue: decode failed: %w", err)
	}
	return entries, nil
}

func (p *Persister) Save(workspaceID string, entries []queue.Entry) error {
	target := p.path(workspaceID)
	f, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil && os.IsNotExist(err) {
		if mkErr := os.MkdirAll(p.dir, 0o755); mkErr != nil {
			return fmt.Errorf("fsqueue: mkdir failed: %w", mkErr)
		}
		f, err = os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	}
	if err != nil {
		return fmt.Errorf("fsqueue: open failed: %w", err)
	}
	defer f.Close()

	bw := bufio.NewWriter(f)
	if err := json.NewEncoder(bw).Encode(entries); err != nil {
		return fmt.Errorf("fsqueue: encode failed: %w", err)
	}
	return bw.Flush()
}

func (p *Persister) Delete(workspaceID string) error {
	err := os.Remove(p.path(workspaceID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("fsqueue: remove failed: %w", err)
	}
	return nil
}
