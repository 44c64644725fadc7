// Package audit keeps a journal of training runs on disk, one JSON file per
// finished run.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwaldner/pinnbs/internal/config"
	"github.com/jwaldner/pinnbs/internal/logger"
	"github.com/jwaldner/pinnbs/internal/pinn"
)

// JournalAction represents operations sent to the journal channel
type JournalAction struct {
	Type  string     `json:"type"` // "append_entry", "close_run"
	Event pinn.Event `json:"event"`
	At    time.Time  `json:"at"`
}

// RunHeader summarizes a run at the top of its journal file.
type RunHeader struct {
	ID         string            `json:"id"`
	RunID      int               `json:"run_id"`
	State      pinn.State        `json:"state"`
	Iterations int               `json:"iterations"`
	Losses     pinn.Losses       `json:"losses"`
	Error      string            `json:"error,omitempty"`
	StartTime  time.Time         `json:"start_time"`
	EndTime    time.Time         `json:"end_time"`
	Elapsed    string            `json:"elapsed"`
	Config     *pinn.TrainConfig `json:"config,omitempty"`
	File       string            `json:"file,omitempty"`
}

// RunEntry is one checkpoint of a run.
type RunEntry struct {
	Timestamp string      `json:"timestamp"`
	Iteration int         `json:"iteration"`
	Losses    pinn.Losses `json:"losses"`
}

// RunFile represents the complete journal file structure
type RunFile struct {
	Header  RunHeader   `json:"header"`
	Entries []RunEntry  `json:"entries"`
	Trace   *pinn.Trace `json:"trace,omitempty"`
}

// Journal records the runs of a training session. It is a pinn.Observer;
// a single worker goroutine owns all file operations.
type Journal struct {
	dir        string
	format     string
	checkpoint int

	actions chan JournalAction
	done    chan struct{}

	mu     sync.Mutex
	closed bool
}

// NewJournal starts a journal writing under cfg.Dir. Progress events are
// kept as checkpoints every checkpointEvery iterations (0 keeps none).
func NewJournal(cfg config.JournalConfig, checkpointEvery int) (*Journal, error) {
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}
	format := cfg.FilenameFormat
	if format == "" {
		format = "{timestamp}-run{run}-{type}-{state}"
	}
	j := &Journal{
		dir:        cfg.Dir,
		format:     format,
		checkpoint: checkpointEvery,
		actions:    make(chan JournalAction, 100),
		done:       make(chan struct{}),
	}
	go j.worker()
	return j, nil
}

// OnEvent queues e for the worker. Progress events are dropped when the
// queue is full; the final event of a run waits for room.
func (j *Journal) OnEvent(e pinn.Event) {
	var action JournalAction
	switch {
	case e.Final:
		action = JournalAction{Type: "close_run", Event: e}
	case j.checkpoint > 0 && e.Iteration%j.checkpoint == 0:
		action = JournalAction{Type: "append_entry", Event: e}
	default:
		return
	}
	action.At = time.Now()

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return
	}
	if e.Final {
		j.actions <- action
		return
	}
	select {
	case j.actions <- action:
	default:
		logger.Debug.Printf("🔍 JOURNAL: queue full, dropped checkpoint %d of run %d", e.Iteration, e.RunID)
	}
}

// Close drains pending actions and stops the worker.
func (j *Journal) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	close(j.actions)
	j.mu.Unlock()
	<-j.done
	return nil
}

// Runs lists the journaled runs, newest first.
func (j *Journal) Runs() ([]RunHeader, error) {
	entries, err := os.ReadDir(j.dir)
	if err != nil {
		return nil, err
	}
	var runs []RunHeader
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		rf, err := j.Read(entry.Name())
		if err != nil {
			logger.Warn.Printf("⚠️ JOURNAL: skipping %s: %v", entry.Name(), err)
			continue
		}
		rf.Header.File = entry.Name()
		runs = append(runs, rf.Header)
	}
	sort.Slice(runs, func(a, b int) bool {
		return runs[a].EndTime.After(runs[b].EndTime)
	})
	return runs, nil
}

// Read loads one journal file by name.
func (j *Journal) Read(name string) (*RunFile, error) {
	if filepath.Base(name) != name {
		return nil, fmt.Errorf("invalid journal file name %q", name)
	}
	data, err := os.ReadFile(filepath.Join(j.dir, name))
	if err != nil {
		return nil, err
	}
	var rf RunFile
	if err := json.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("corrupted journal file %s: %w", name, err)
	}
	return &rf, nil
}

// worker processes all journal operations in a single goroutine
func (j *Journal) worker() {
	defer close(j.done)
	open := make(map[int]*RunFile)

	for action := range j.actions {
		e := action.Event
		rf, ok := open[e.RunID]
		if !ok {
			rf = &RunFile{
				Header: RunHeader{
					ID:        uuid.New().String(),
					RunID:     e.RunID,
					State:     pinn.StateRunning,
					StartTime: action.At.Add(-e.Elapsed),
				},
			}
			open[e.RunID] = rf
			logger.Debug.Printf("📝 JOURNAL: Opened run %d", e.RunID)
		}

		switch action.Type {
		case "append_entry":
			rf.Entries = append(rf.Entries, RunEntry{
				Timestamp: action.At.Format(time.RFC3339),
				Iteration: e.Iteration,
				Losses:    e.Losses,
			})

		case "close_run":
			delete(open, e.RunID)

			rf.Header.State = e.State
			rf.Header.Iterations = e.Iteration
			rf.Header.Losses = e.Losses
			rf.Header.Error = e.Error
			rf.Header.EndTime = action.At
			rf.Header.Elapsed = e.Elapsed.Round(time.Millisecond).String()
			rf.Header.Config = e.Config
			rf.Trace = e.Trace

			if err := j.write(rf); err != nil {
				logger.Warn.Printf("⚠️ JOURNAL: Failed to write run %d: %v", e.RunID, err)
			}

		default:
			logger.Warn.Printf("⚠️ JOURNAL: invalid action type '%s'", action.Type)
		}
	}
}

func (j *Journal) write(rf *RunFile) error {
	optionType := "unknown"
	if rf.Header.Config != nil {
		optionType = string(rf.Header.Config.Contract.Type)
	}
	timestamp := rf.Header.EndTime.Format("2006-01-02_15-04-05")
	baseName := config.FormatJournalFilename(j.format, strconv.Itoa(rf.Header.RunID), optionType,
		string(rf.Header.State), timestamp)
	path := filepath.Join(j.dir, baseName+".json")
	// run numbers restart with the process
	if _, err := os.Stat(path); err == nil {
		path = filepath.Join(j.dir, baseName+"-"+rf.Header.ID[:8]+".json")
	}

	data, err := json.MarshalIndent(rf, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return err
	}
	logger.Info.Printf("📁 JOURNAL: Run %d (%s) saved to %s", rf.Header.RunID, rf.Header.State, path)
	return nil
}
