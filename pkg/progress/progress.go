// Package progress defines the checkpoints a long-running synthesis job reports,
// and a keyed in-memory store whose lifetime is owned by the caller.
package progress

import (
	"sync"
	"time"
)

// Status of a job at a checkpoint.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusStarted    Status = "started"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// Update is one checkpoint.
type Update struct {
	JobID     string    `json:"job_id"`
	Stage     string    `json:"stage"`
	Status    Status    `json:"status"`
	Percent   int       `json:"percent"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Terminal reports whether no further updates are expected for the job.
func (u Update) Terminal() bool {
	return u.Status == StatusCompleted || u.Status == StatusError
}

// Reporter receives checkpoints. Implementations must be safe for concurrent use.
type Reporter interface {
	Report(u Update)
}

// Percent returns floor(done/total*100), clamped to [0, 100].
func Percent(done, total int) int {
	if total <= 0 {
		return 0
	}
	p := done * 100 / total
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// Scale maps a step-local percentage into the window [from, to] of an outer job.
func Scale(from, to, percent int) int {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	return from + (to-from)*percent/100
}

// Nop discards every update.
type Nop struct{}

func (Nop) Report(Update) {}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(Update)

func (f ReporterFunc) Report(u Update) { f(u) }

// Multi fans an update out to several reporters.
type Multi []Reporter

func (m Multi) Report(u Update) {
	for _, r := range m {
		if r != nil {
			r.Report(u)
		}
	}
}

// Tracker binds a reporter to one job so call sites only pass what changed.
type Tracker struct {
	r     Reporter
	jobID string
	stage string
	now   func() time.Time
}

// NewTracker returns a tracker for jobID. A nil reporter is treated as Nop.
// Methods on a nil *Tracker are no-ops.
func NewTracker(r Reporter, jobID, stage string) *Tracker {
	if r == nil {
		r = Nop{}
	}
	return &Tracker{r: r, jobID: jobID, stage: stage, now: time.Now}
}

// JobID of the tracked job.
func (t *Tracker) JobID() string {
	if t == nil {
		return ""
	}
	return t.jobID
}

func (t *Tracker) emit(s Status, percent int, msg string) {
	if t == nil {
		return
	}
	t.r.Report(Update{
		JobID:     t.jobID,
		Stage:     t.stage,
		Status:    s,
		Percent:   percent,
		Message:   msg,
		Timestamp: t.now(),
	})
}

// Start reports 0%.
func (t *Tracker) Start(msg string) { t.emit(StatusStarted, 0, msg) }

// Step reports an intermediate percentage.
func (t *Tracker) Step(percent int, msg string) { t.emit(StatusProcessing, percent, msg) }

// Done reports 100%.
func (t *Tracker) Done(msg string) { t.emit(StatusCompleted, 100, msg) }

// Fail reports an error; the percentage resets to 0.
func (t *Tracker) Fail(msg string) { t.emit(StatusError, 0, msg) }

// Store keeps the latest update per job. Entries expire ttl after their last update.
type Store struct {
	mu      sync.RWMutex
	entries map[string]Update
	results map[string]JobResult
	ttl     time.Duration
	now     func() time.Time
}

// JobResult is the terminal outcome of a job, kept next to its progress.
type JobResult struct {
	JobID     string    `json:"job_id"`
	Status    Status    `json:"status"`
	Result    any       `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewStore creates a store. ttl <= 0 means entries never expire.
func NewStore(ttl time.Duration) *Store {
	return &Store{
		entries: make(map[string]Update),
		results: make(map[string]JobResult),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Finish records the terminal result of a job. err != nil marks it StatusError.
func (s *Store) Finish(jobID string, result any, err error) {
	r := JobResult{JobID: jobID, Status: StatusCompleted, Result: result, Timestamp: s.now()}
	if err != nil {
		r.Status = StatusError
		r.Error = err.Error()
	}
	s.mu.Lock()
	s.results[jobID] = r
	s.mu.Unlock()
}

// Result returns the terminal result of a job, if it finished and has not expired.
func (s *Store) Result(jobID string) (JobResult, bool) {
	s.mu.RLock()
	r, ok := s.results[jobID]
	s.mu.RUnlock()
	if !ok || s.expiredAt(r.Timestamp) {
		return JobResult{}, false
	}
	return r, true
}

// Report implements Reporter.
func (s *Store) Report(u Update) {
	if u.Timestamp.IsZero() {
		u.Timestamp = s.now()
	}
	s.mu.Lock()
	s.entries[u.JobID] = u
	s.mu.Unlock()
}

// Get returns the latest update for a job, or an idle placeholder.
func (s *Store) Get(jobID string) Update {
	s.mu.RLock()
	u, ok := s.entries[jobID]
	s.mu.RUnlock()
	if !ok || s.expired(u) {
		return Update{JobID: jobID, Status: StatusIdle, Timestamp: s.now()}
	}
	return u
}

// Clear forgets a job.
func (s *Store) Clear(jobID string) {
	s.mu.Lock()
	delete(s.entries, jobID)
	delete(s.results, jobID)
	s.mu.Unlock()
}

// Sweep drops expired entries and returns how many were removed.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, u := range s.entries {
		if s.expired(u) {
			delete(s.entries, id)
			n++
		}
	}
	for id, r := range s.results {
		if s.expiredAt(r.Timestamp) {
			delete(s.results, id)
			n++
		}
	}
	return n
}

// Len returns the number of live entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, u := range s.entries {
		if !s.expired(u) {
			n++
		}
	}
	return n
}

func (s *Store) expired(u Update) bool {
	return s.expiredAt(u.Timestamp)
}

func (s *Store) expiredAt(t time.Time) bool {
	return s.ttl > 0 && s.now().Sub(t) > s.ttl
}
