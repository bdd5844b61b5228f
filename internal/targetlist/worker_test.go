package targetlist

import (
	"path/filepath"
	"testing"
	"time"
)

func TestWritePayloadThenReadPayloadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run-1.json")
	want := &WorkerPayload{RunID: "run-1", StartedAt: time.Now().Truncate(time.Second), Candidates: 10, Upserted: 8}

	if err := WritePayload(path, want); err != nil {
		t.Fatalf("WritePayload: %v", err)
	}

	got, err := ReadPayload(path)
	if err != nil {
		t.Fatalf("ReadPayload: %v", err)
	}
	if got.RunID != want.RunID || got.Candidates != want.Candidates || got.Upserted != want.Upserted {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, want)
	}
}

func TestWorkerHandleStatusForUnknownPID(t *testing.T) {
	h := &WorkerHandle{PID: 1 << 30} // implausibly large, near-certainly not a live pid
	running, _, err := h.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if running {
		t.Fatalf("expected an implausible pid to report not running")
	}
}
