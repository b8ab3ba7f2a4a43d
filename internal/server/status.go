package server

import (
	"sync"
	"time"
)

// Run states reported by /status.
const (
	StateStarting = "starting"
	StateRunning  = "running"
	StateDone     = "done"
	StateFailed   = "failed"
)

// Tracker records run progress from the worker goroutines. Safe for
// concurrent use.
type Tracker struct {
	mu          sync.RWMutex
	state       string
	gridSize    int
	patternSize int
	generations int
	workers     int
	progress    map[int]int
	total       uint64
	started     time.Time
	finished    time.Time
	err         string
}

// StatusView is the /status response body.
type StatusView struct {
	State       string         `json:"state"`
	GridSize    int            `json:"grid_size"`
	PatternSize int            `json:"pattern_size"`
	Generations int            `json:"generations"`
	Workers     int            `json:"workers"`
	Completed   map[string]int `json:"completed_generations"`
	Matches     uint64         `json:"matches"`
	Elapsed     string         `json:"elapsed"`
	Error       string         `json:"error,omitempty"`
}

func NewTracker() *Tracker {
	return &Tracker{state: StateStarting, progress: make(map[int]int)}
}

func (t *Tracker) Begin(gridSize, patternSize, generations, workers int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = StateRunning
	t.gridSize = gridSize
	t.patternSize = patternSize
	t.generations = generations
	t.workers = workers
	t.started = time.Now()
}

// Generation marks generation (0-based) finished on rank.
func (t *Tracker) Generation(rank, generation int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.progress[rank] = generation + 1
}

func (t *Tracker) Finish(total uint64, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.finished = time.Now()
	t.total = total
	if err != nil {
		t.state = StateFailed
		t.err = err.Error()
		return
	}
	t.state = StateDone
}

func (t *Tracker) Snapshot() StatusView {
	t.mu.RLock()
	defer t.mu.RUnlock()
	view := StatusView{
		State:       t.state,
		GridSize:    t.gridSize,
		PatternSize: t.patternSize,
		Generations: t.generations,
		Workers:     t.workers,
		Completed:   make(map[string]int, len(t.progress)),
		Matches:     t.total,
		Error:       t.err,
	}
	for rank, n := range t.progress {
		view.Completed[rankKey(rank)] = n
	}
	switch {
	case t.started.IsZero():
		view.Elapsed = "0s"
	case t.finished.IsZero():
		view.Elapsed = time.Since(t.started).Round(time.Millisecond).String()
	default:
		view.Elapsed = t.finished.Sub(t.started).Round(time.Millisecond).String()
	}
	return view
}
