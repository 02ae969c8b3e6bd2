package analysis

import (
	"errors"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var ErrJobNotFound = errors.New("job not found")

type JobStatus string

const (
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// ProgressUpdate is pushed to subscribers on every row and on the terminal transition.
type ProgressUpdate struct {
	JobID    string    `json:"job_id"`
	Progress float64   `json:"progress"`
	Status   JobStatus `json:"status"`
	Message  string    `json:"message,omitempty"`
}

// JobView is the JSON shape of a job.
type JobView struct {
	ID           string         `json:"id"`
	SessionID    string         `json:"session_id"`
	Mode         string         `json:"mode"`
	Column       string         `json:"column"`
	OutputColumn string         `json:"output_column"`
	Preview      bool           `json:"preview"`
	Status       JobStatus      `json:"status"`
	Progress     float64        `json:"progress"`
	Message      string         `json:"message,omitempty"`
	StartedAt    time.Time      `json:"started_at"`
	FinishedAt   *time.Time     `json:"finished_at,omitempty"`
	Summary      *SummaryView   `json:"summary,omitempty"`
	Categories   []CategoryView `json:"categories,omitempty"`
	// Rows carries the augmented table for preview runs only.
	Rows []map[string]string `json:"rows,omitempty"`
}

// SummaryView mirrors domain.RunSummary with JSON names.
type SummaryView struct {
	Rows        int   `json:"rows"`
	OK          int   `json:"ok"`
	Absent      int   `json:"absent"`
	Malformed   int   `json:"malformed"`
	Transport   int   `json:"transport"`
	Auth        int   `json:"auth"`
	PromptChars int   `json:"prompt_chars"`
	ReplyChars  int   `json:"reply_chars"`
	Tokens      int64 `json:"tokens"`
}

type CategoryView struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}

// Job tracks one asynchronous analysis.
type Job struct {
	ID           string
	SessionID    string
	Mode         string
	Column       string
	OutputColumn string
	Preview      bool
	StartedAt    time.Time

	mu          sync.Mutex
	progress    float64
	status      JobStatus
	message     string
	finishedAt  time.Time
	outcome     *Outcome
	subscribers map[chan ProgressUpdate]struct{}
	done        chan struct{}
}

func (j *Job) snapshotLocked() ProgressUpdate {
	return ProgressUpdate{JobID: j.ID, Progress: j.progress, Status: j.status, Message: j.message}
}

func (j *Job) broadcastLocked() {
	update := j.snapshotLocked()
	for ch := range j.subscribers {
		// slow subscribers miss intermediate updates
		select {
		case ch <- update:
		default:
		}
	}
}

// Update records a progress fraction. Progress never moves backwards.
func (j *Job) Update(fraction float64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status != JobRunning {
		return
	}
	if fraction > j.progress {
		j.progress = fraction
	}
	j.broadcastLocked()
}

func (j *Job) Complete(outcome *Outcome, message string) {
	j.finish(JobCompleted, outcome, message)
}

func (j *Job) Fail(err error) {
	j.finish(JobFailed, nil, err.Error())
}

func (j *Job) finish(status JobStatus, outcome *Outcome, message string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status != JobRunning {
		return
	}
	j.status = status
	j.message = message
	j.outcome = outcome
	j.finishedAt = time.Now()
	if status == JobCompleted {
		j.progress = 1
	}
	j.broadcastLocked()
	close(j.done)
}

// Subscribe returns a channel primed with the current state. Terminal jobs
// still deliver their final update.
func (j *Job) Subscribe() chan ProgressUpdate {
	j.mu.Lock()
	defer j.mu.Unlock()
	ch := make(chan ProgressUpdate, 16)
	ch <- j.snapshotLocked()
	j.subscribers[ch] = struct{}{}
	return ch
}

func (j *Job) Unsubscribe(ch chan ProgressUpdate) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, ok := j.subscribers[ch]; ok {
		delete(j.subscribers, ch)
		close(ch)
	}
}

// Done is closed once the job completes or fails.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

func (j *Job) Status() JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// Outcome is nil until the job completes.
func (j *Job) Outcome() *Outcome {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.outcome
}

func (j *Job) View() JobView {
	j.mu.Lock()
	defer j.mu.Unlock()
	v := JobView{
		ID:           j.ID,
		SessionID:    j.SessionID,
		Mode:         j.Mode,
		Column:       j.Column,
		OutputColumn: j.OutputColumn,
		Preview:      j.Preview,
		Status:       j.status,
		Progress:     j.progress,
		Message:      j.message,
		StartedAt:    j.StartedAt,
	}
	if !j.finishedAt.IsZero() {
		finished := j.finishedAt
		v.FinishedAt = &finished
	}
	if o := j.outcome; o != nil {
		s := o.Summary
		v.Summary = &SummaryView{
			Rows: s.Rows, OK: s.OK, Absent: s.Absent, Malformed: s.Malformed,
			Transport: s.Transport, Auth: s.Auth, PromptChars: s.PromptChars, ReplyChars: s.ReplyChars,
			Tokens: s.Tokens,
		}
		for _, c := range o.Categories {
			v.Categories = append(v.Categories, CategoryView{Category: c.Category, Count: c.Count})
		}
		if o.Preview && o.Table != nil {
			v.Rows = rowsAsMaps(o.Table.Header, o.Table.Rows)
		}
	}
	return v
}

func rowsAsMaps(header []string, rows [][]string) []map[string]string {
	out := make([]map[string]string, 0, len(rows))
	for _, row := range rows {
		m := make(map[string]string, len(header))
		for i, h := range header {
			m[h] = row[i]
		}
		out = append(out, m)
	}
	return out
}

// Jobs indexes jobs by id.
type Jobs struct {
	mu    sync.RWMutex
	items map[string]*Job
}

func NewJobs() *Jobs {
	return &Jobs{items: make(map[string]*Job)}
}

func (s *Jobs) Create(sessionID, mode, column, outputColumn string, preview bool) *Job {
	job := &Job{
		ID:           ulid.Make().String(),
		SessionID:    sessionID,
		Mode:         mode,
		Column:       column,
		OutputColumn: outputColumn,
		Preview:      preview,
		StartedAt:    time.Now(),
		status:       JobRunning,
		subscribers:  make(map[chan ProgressUpdate]struct{}),
		done:         make(chan struct{}),
	}
	s.mu.Lock()
	s.items[job.ID] = job
	s.mu.Unlock()
	return job
}

func (s *Jobs) Get(id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.items[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return job, nil
}

// Cleanup drops finished jobs older than maxAge.
func (s *Jobs) Cleanup(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, job := range s.items {
		job.mu.Lock()
		expired := job.status != JobRunning && job.finishedAt.Before(cutoff)
		job.mu.Unlock()
		if expired {
			delete(s.items, id)
			removed++
		}
	}
	return removed
}
