package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Collection is the stamp stored for every vector collection. The embed model
// and dimension are fixed at creation and checked on every read and write.
type Collection struct {
	Name       string
	EmbedModel string
	Dimension  int
	CreatedAt  time.Time
}

// Build is the persisted summary of one ingest/index run.
type Build struct {
	ID            string    `json:"id"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
	Source        string    `json:"source"`
	Collection    string    `json:"collection"`
	Rows          int       `json:"rows"`
	Records       int       `json:"records"`
	Malformed     int       `json:"malformed"`
	Chunks        int       `json:"chunks"`
	ChunkFailures int       `json:"chunk_failures"`
	Added         int       `json:"added"`
	Updated       int       `json:"updated"`
	Failed        int       `json:"failed"`
	Total         int       `json:"total"`
	Status        string    `json:"status"`
	Error         string    `json:"error,omitempty"`
}

// Build statuses.
const (
	BuildCompleted = "completed"
	BuildFailed    = "failed"
)

// Job statuses.
const (
	JobPending   = "pending"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

// Job is a queued background build. PayloadJSON is owned by the job type.
type Job struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	PayloadJSON string    `json:"-"`
	Status      string    `json:"status"`
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"max_attempts"`
	RunAfter    time.Time `json:"run_after"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	LastError   string    `json:"last_error,omitempty"`
	BuildID     string    `json:"build_id,omitempty"`
}
