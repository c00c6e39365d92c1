package observer

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dcshock/checkpipe/pipeline"
)

// LedgerFile is the default ledger name inside a run directory.
const LedgerFile = "runs.jsonl"

// LedgerEntry is one finished pipeline run.
type LedgerEntry struct {
	RunID      string            `json:"run_id"`
	Pipeline   string            `json:"pipeline"`
	Status     string            `json:"status"`
	Count      int               `json:"count"`
	Error      string            `json:"error,omitempty"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	Timings    map[string]string `json:"timings,omitempty"`
}

// LedgerObserver appends a LedgerEntry per finished run to a JSON-lines file.
type LedgerObserver struct {
	path string
	now  func() time.Time

	mu      sync.Mutex
	started map[string]time.Time
}

var _ pipeline.Observer = (*LedgerObserver)(nil)

// NewLedgerObserver returns an observer appending to path.
func NewLedgerObserver(path string) *LedgerObserver {
	return &LedgerObserver{path: path, now: time.Now, started: make(map[string]time.Time)}
}

func (o *LedgerObserver) Path() string { return o.path }

func (o *LedgerObserver) BeforePipeline(ctx context.Context, runID, name string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started[runID+"\x00"+name] = o.now()
	return nil
}

// AfterPipeline appends the entry. Status is "success" or "failed".
func (o *LedgerObserver) AfterPipeline(ctx context.Context, runID string, report pipeline.Report, err error) error {
	o.mu.Lock()
	key := runID + "\x00" + report.Pipeline
	started := o.started[key]
	delete(o.started, key)
	o.mu.Unlock()

	entry := LedgerEntry{
		RunID:      runID,
		Pipeline:   report.Pipeline,
		Status:     "success",
		Count:      report.Count,
		StartedAt:  started,
		FinishedAt: o.now(),
	}
	if err != nil {
		entry.Status = "failed"
		entry.Error = err.Error()
	}
	if len(report.Timings) > 0 {
		entry.Timings = make(map[string]string, len(report.Timings))
		for _, t := range report.Timings {
			entry.Timings[t.Name] = t.Elapsed.String()
		}
	}
	return appendEntry(o.path, entry)
}

func appendEntry(path string, entry LedgerEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal ledger entry: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append ledger entry: %w", err)
	}
	return f.Sync()
}

// ReadLedger returns every entry of the ledger at path, oldest first.
func ReadLedger(path string) ([]LedgerEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	defer f.Close()

	entries := []LedgerEntry{}
	sc := bufio.NewScanner(f)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var e LedgerEntry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, pipeline.ParseErrorf(path, "ledger line %d: %v", lineNo, err)
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	return entries, nil
}
