package fsqueue

import (
	"path/filepath"
	"testing"

	"github.com/nmeshed/nmeshed-go/internal/queue"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "queues")
	p := New(dir)

	entries := []queue.Entry{
		{Key: "a", Packet: []byte{1, 2}, Timestamp: 1},
		{Key: "b", Packet: []byte{3}, Timestamp: 2},
	}
	if err := p.Save("ws-1", entries); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := p.Load("ws-1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(got) != 2 || got[0].Key != "a" || got[1].Key != "b" {
		t.Errorf("Load() = %+v, want round-tripped entries", got)
	}
}

func TestLoadMissingWorkspaceReturnsEmpty(t *testing.T) {
	p := New(t.TempDir())
	got, err := p.Load("nonexistent")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Load() = %+v, want empty", got)
	}
}

func TestDeleteRemovesFile(t *testing.T) {
	dir := t.TempDir()
	p := New(dir)
	p.Save("ws-1", []queue.Entry{{Key: "a"}})

	if err := p.Delete("ws-1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	got, err := p.Load("ws-1")
	if err != nil {
		t.Fatalf("Load() after delete error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Load() after delete = %+v, want empty", got)
	}
}

func TestDeleteMissingWorkspaceIsNotAnError(t *testing.T) {
	p := New(t.TempDir())
	if err := p.Delete("nonexistent"); err != nil {
		t.Errorf("Delete() on missing workspace error = %v, want nil", err)
	}
}
