package archive

import (
	"context"
	"path/filepath"
	"testing"
)

func openCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestPublicationRoundTrip(t *testing.T) {
	c := openCatalog(t)

	if err := c.RecordPublication(42, "aeron:ipc", 1001, 7, "/dev/shm/aeron/publications/42.logbuffer", 1000); err != nil {
		t.Fatal(err)
	}

	records, err := c.ListPublications(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Fatalf("records=%d", len(records))
	}
	r := records[0]
	if r.RegistrationID != 42 || r.Channel != "aeron:ipc" || r.StreamID != 1001 || r.SessionID != 7 {
		t.Fatalf("record=%+v", r)
	}
	if r.RemovedAtMs != nil {
		t.Fatal("fresh publication already removed")
	}
}

func TestPublicationClosedStampsRemoval(t *testing.T) {
	c := openCatalog(t)

	if err := c.RecordPublication(42, "aeron:ipc", 1001, 7, "/x", 1000); err != nil {
		t.Fatal(err)
	}
	if err := c.RecordPublicationClosed(42, 2000); err != nil {
		t.Fatal(err)
	}

	records, err := c.ListPublications(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if records[0].RemovedAtMs == nil || *records[0].RemovedAtMs != 2000 {
		t.Fatalf("record=%+v", records[0])
	}
}

func TestErrorSnapshotRoundTrip(t *testing.T) {
	c := openCatalog(t)

	in := []ErrorRecord{
		{ObservationCount: 2, FirstObservationMs: 100, LastObservationMs: 110, EncodedError: "5: disk full writing"},
		{ObservationCount: 1, FirstObservationMs: 120, LastObservationMs: 120, EncodedError: "1: conductor failure x"},
	}
	if err := c.RecordErrors(200, in); err != nil {
		t.Fatal(err)
	}

	out, err := c.ListErrors(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("records=%d", len(out))
	}
	if out[0].RecordedAtMs != 200 || out[0].ObservationCount != 2 || out[0].EncodedError != "5: disk full writing" {
		t.Fatalf("record=%+v", out[0])
	}
}
