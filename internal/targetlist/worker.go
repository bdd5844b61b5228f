package targetlist

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// WorkerPayload is the JSON handed to a detached ingestion subprocess over
// a payload file, and read back from it once the subprocess exits.
type WorkerPayload struct {
	RunID      string    `json:"runId"`
	StartedAt  time.Time `json:"startedAt"`
	Candidates int       `json:"candidates,omitempty"`
	Upserted   int       `json:"upserted,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// WorkerHandle identifies a detached ingestion subprocess.
type WorkerHandle struct {
	PID         int32
	PayloadPath string
	StartedAt   time.Time
}

// Spawn launches a detached ingestion subprocess: self (argv[0]) invoked
// with the given subcommand args, its payload file path appended. It
// returns immediately with the subprocess's identity; the caller polls
// handle.PayloadPath (via ReadPayload) or process liveness (via Status) rather
// than waiting on the child.
func Spawn(runID string, args []string, payloadDir string) (*WorkerHandle, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("spawn: resolve executable: %w", err)
	}

	if err := os.MkdirAll(payloadDir, 0o755); err != nil {
		return nil, fmt.Errorf("spawn: create payload dir: %w", err)
	}
	payloadPath := filepath.Join(payloadDir, runID+".json")

	initial := WorkerPayload{RunID: runID, StartedAt: time.Now()}
	b, err := json.Marshal(initial)
	if err != nil {
		return nil, fmt.Errorf("spawn: marshal initial payload: %w", err)
	}
	if err := os.WriteFile(payloadPath, b, 0o644); err != nil {
		return nil, fmt.Errorf("spawn: write initial payload: %w", err)
	}

	cmd := exec.Command(exe, append(args, "--payload", payloadPath)...)
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawn: start subprocess: %w", err)
	}

	// Detach: release the child so it survives this process exiting, and
	// reap it in the background so it doesn't become a zombie.
	go func() { _ = cmd.Wait() }()

	return &WorkerHandle{
		PID:         int32(cmd.Process.Pid),
		PayloadPath: payloadPath,
		StartedAt:   initial.StartedAt,
	}, nil
}

// ReadPayload reads and parses the worker's current payload file. A
// detached worker overwrites the file as it makes progress and again on
// exit, so this can be polled.
func ReadPayload(path string) (*WorkerPayload, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	var p WorkerPayload
	if err := json.Unmarshal(bytes.TrimSpace(b), &p); err != nil {
		return nil, fmt.Errorf("parse payload: %w", err)
	}
	return &p, nil
}

// WritePayload overwrites the payload file at path, called by the detached
// subprocess itself to report progress or its final result.
func WritePayload(path string, p *WorkerPayload) error {
	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("write payload: marshal: %w", err)
	}
	return os.WriteFile(path, b, 0o644)
}

// Status reports whether handle's process is still running and how long
// it has been alive, via gopsutil.
func (h *WorkerHandle) Status() (running bool, uptime time.Duration, err error) {
	proc, err := process.NewProcess(h.PID)
	if err != nil {
		return false, 0, nil // process.ErrorProcessNotRunning shape varies by OS
	}
	alive, err := proc.IsRunning()
	if err != nil {
		return false, 0, fmt.Errorf("status: is running: %w", err)
	}
	if !alive {
		return false, 0, nil
	}
	createdAtMs, err := proc.CreateTime()
	if err != nil {
		return true, 0, fmt.Errorf("status: create time: %w", err)
	}
	started := time.UnixMilli(createdAtMs)
	return true, time.Since(started), nil
}
