package store

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/agentdev/tg-agent-bridge/internal/bridgeerr"
)

type record struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestOpenFailsWhenRootMissing(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "does-not-exist"), "app")
	if !errors.Is(err, bridgeerr.StoreUnavailable) {
		t.Fatalf("expected StoreUnavailable, got %v", err)
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	s, err := Open(t.TempDir(), "app")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	want := record{Name: "dev-1", Count: 3}
	if err := s.Write("devices/dev-1.json", want); err != nil {
		t.Fatalf("Write: %v", err)
	}
	var got record
	found, err := s.Read("devices/dev-1.json", &got)
	if err != nil || !found {
		t.Fatalf("Read: found=%v err=%v", found, err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestReadMissingIsNotAnError(t *testing.T) {
	s, err := Open(t.TempDir(), "app")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	var got record
	found, err := s.Read("nope.json", &got)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found {
		t.Fatal("expected found=false for a missing document")
	}
}

func TestListSortedAndFiltered(t *testing.T) {
	s, err := Open(t.TempDir(), "app")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for _, name := range []string{"b", "a", "c"} {
		if err := s.Write("devices/"+name+".json", record{Name: name}); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	names, err := s.List("devices")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []string{"a", "b", "c"}
	if len(names) != len(want) {
		t.Fatalf("got %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("got %v, want %v", names, want)
		}
	}
}

func TestListMissingDirReturnsEmpty(t *testing.T) {
	s, err := Open(t.TempDir(), "app")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	names, err := s.List("never-created")
	if err != nil || names != nil {
		t.Fatalf("expected (nil, nil), got (%v, %v)", names, err)
	}
}

func TestDeleteMissingIsNotAnError(t *testing.T) {
	s, err := Open(t.TempDir(), "app")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Delete("nope.json"); err != nil {
		t.Fatalf("expected no error deleting a missing document, got %v", err)
	}
}

func TestSanitizeDeviceID(t *testing.T) {
	got := SanitizeDeviceID("laptop@home:/Users/me/code project")
	want := "laptop@home--Users-me-code-project"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
