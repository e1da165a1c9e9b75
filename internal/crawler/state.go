package crawler

import "sync"

// Snapshot is the externally visible view of the current/last crawl run.
type Snapshot struct {
	Status          Status   `json:"status"`
	CaptchaRequired bool     `json:"captcha_required"`
	LastSource      string   `json:"last_source"`
	CollectedURLs   []string `json:"collected_urls"`
}

// State holds the process-wide crawl state. The orchestrator is its single
// writer; observers read point-in-time snapshots. Readers concurrent with an
// in-progress run see whatever was last written.
type State struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewState returns an idle state with no history.
func NewState() *State {
	return &State{snap: Snapshot{Status: StatusIdle, CollectedURLs: []string{}}}
}

// Snapshot returns a copy of the current state. The URL slice is copied so
// callers can hold it across a concurrent run.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.snap
	out.CollectedURLs = make([]string, len(s.snap.CollectedURLs))
	copy(out.CollectedURLs, s.snap.CollectedURLs)
	return out
}

// Status returns just the lifecycle status.
func (s *State) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Status
}

// beginRun resets the state for a fresh run. A new crawl overwrites the
// previous run's snapshot; there is no auto-reset.
func (s *State) beginRun() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = Snapshot{Status: StatusRunning, CollectedURLs: []string{}}
}

// recordSource appends a source's fresh URLs and marks it as the last one
// completed.
func (s *State) recordSource(name string, urls []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.LastSource = name
	s.snap.CollectedURLs = append(s.snap.CollectedURLs, urls...)
}

// pause marks the run as stopped by a CAPTCHA.
func (s *State) pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.CaptchaRequired = true
	s.snap.Status = StatusPaused
}

// complete marks the run as finished normally.
func (s *State) complete() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Status = StatusCompleted
}
