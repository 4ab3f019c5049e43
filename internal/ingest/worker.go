package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/dailydrip/internal/brew"
	"github.com/kalambet/dailydrip/internal/storage"
)

// JobTypeIngestFile is the job type for a staged brew log waiting to be built.
const JobTypeIngestFile = "ingest_file"

// JobStore abstracts the job queue operations.
type JobStore interface {
	EnqueueJob(job storage.Job) error
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id, buildID string) error
	FailJob(id string, errMsg string) error
}

// Runner runs a build for one source.
type Runner interface {
	Run(ctx context.Context, src Source) (Report, error)
}

type filePayload struct {
	Path   string      `json:"path"`
	Format brew.Format `json:"format,omitempty"`
	Source string      `json:"source"`
}

// Stage copies an uploaded brew log into dir and queues a build for it. The
// staged file is removed once the build succeeds.
func Stage(store JobStore, dir, source string, format brew.Format, r io.Reader) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating upload directory: %w", err)
	}
	jobID := uuid.New().String()
	ext := ".json"
	if format == brew.FormatCSV {
		ext = ".csv"
	}
	path := filepath.Join(dir, jobID+ext)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("staging upload: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("staging upload: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("staging upload: %w", err)
	}

	payload, err := json.Marshal(filePayload{Path: path, Format: format, Source: source})
	if err != nil {
		os.Remove(path)
		return "", fmt.Errorf("encoding job payload: %w", err)
	}
	if err := store.EnqueueJob(storage.Job{ID: jobID, Type: JobTypeIngestFile, PayloadJSON: string(payload)}); err != nil {
		os.Remove(path)
		return "", err
	}
	return jobID, nil
}

// Worker processes staged ingest jobs from the SQLite job queue one at a
// time, so builds never run concurrently.
type Worker struct {
	store  JobStore
	runner Runner
	poll   time.Duration
	logger *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, runner Runner, pollInterval time.Duration, logger *slog.Logger) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		store:  store,
		runner: runner,
		poll:   pollInterval,
		logger: logger,
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single ingest job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{JobTypeIngestFile})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	rep, err := w.processJob(ctx, job)
	if err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID, rep.BuildID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) (Report, error) {
	var payload filePayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return Report{}, fmt.Errorf("parsing payload: %w", err)
	}

	rep, err := w.runner.Run(ctx, Source{Path: payload.Path, Format: payload.Format, Name: payload.Source})
	if err != nil {
		return rep, err
	}
	if err := os.Remove(payload.Path); err != nil && !os.IsNotExist(err) {
		w.logger.Warn("could not remove staged upload", "path", payload.Path, "error", err)
	}
	return rep, nil
}
