package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// RunLog keeps the job_runs bookkeeping.
type RunLog interface {
	Start(ctx context.Context, companyID, jobType string) (string, error)
	Finish(ctx context.Context, runID, status string, details []byte) error
}

type Observer interface {
	ObserveJob(jobType, status string)
}

type Service struct {
	log      RunLog
	observer Observer
	queue    chan job
	workers  int
}

type job struct {
	ID        string
	Type      string
	CompanyID string
	Run       func(context.Context) (any, error)
}

type Option func(*Service)

func WithObserver(observer Observer) Option {
	return func(s *Service) { s.observer = observer }
}

func WithWorkers(workers int) Option {
	return func(s *Service) {
		if workers > 0 {
			s.workers = workers
		}
	}
}

func New(log RunLog, opts ...Option) *Service {
	s := &Service{
		log:     log,
		queue:   make(chan job, 128),
		workers: 1,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs the queue workers until ctx is done.
func (s *Service) Start(ctx context.Context) {
	for range s.workers {
		go s.worker(ctx)
	}
}

func (s *Service) Enqueue(jobType, companyID string, run func(context.Context) (any, error)) {
	j := job{ID: uuid.NewString(), Type: jobType, CompanyID: companyID, Run: run}
	select {
	case s.queue <- j:
		slog.Debug("job enqueued", "jobId", j.ID, "jobType", jobType, "companyId", companyID)
	default:
		slog.Warn("job queue full", "jobType", jobType, "companyId", companyID)
	}
}

func (s *Service) RunNow(ctx context.Context, jobType, companyID string, run func(context.Context) (any, error)) (any, error) {
	return s.runJob(ctx, job{ID: uuid.NewString(), Type: jobType, CompanyID: companyID, Run: run})
}

func (s *Service) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-s.queue:
			if _, err := s.runJob(ctx, j); err != nil {
				slog.Warn("job run failed", "jobId", j.ID, "jobType", j.Type, "companyId", j.CompanyID, "err", err)
			}
		}
	}
}

func (s *Service) runJob(ctx context.Context, j job) (any, error) {
	runID := ""
	if s.log != nil {
		id, err := s.log.Start(ctx, j.CompanyID, j.Type)
		if err != nil {
			slog.Warn("job run insert failed", "jobId", j.ID, "err", err)
		}
		runID = id
	}

	details, err := j.Run(ctx)
	status := StatusCompleted
	if err != nil {
		status = StatusFailed
		details = map[string]any{"error": err.Error()}
	}
	if s.observer != nil {
		s.observer.ObserveJob(j.Type, status)
	}
	if runID != "" {
		detailsJSON, marshalErr := json.Marshal(details)
		if marshalErr != nil {
			slog.Warn("job details marshal failed", "jobId", j.ID, "err", marshalErr)
			detailsJSON = []byte("{}")
		}
		if updErr := s.log.Finish(context.WithoutCancel(ctx), runID, status, detailsJSON); updErr != nil {
			slog.Warn("job run update failed", "jobId", j.ID, "err", updErr)
		}
	}
	return details, err
}

// PGRunLog stores job runs in the job_runs table.
type PGRunLog struct {
	DB *pgxpool.Pool
}

func NewRunLog(db *pgxpool.Pool) *PGRunLog {
	return &PGRunLog{DB: db}
}

func (l *PGRunLog) Start(ctx context.Context, companyID, jobType string) (string, error) {
	var id string
	err := l.DB.QueryRow(ctx, `
    INSERT INTO job_runs (company_id, job_type, status)
    VALUES ($1,$2,$3)
    RETURNING id
  `, companyID, jobType, StatusRunning).Scan(&id)
	return id, err
}

func (l *PGRunLog) Finish(ctx context.Context, runID, status string, details []byte) error {
	_, err := l.DB.Exec(ctx, `
    UPDATE job_runs
    SET status = $1, details_json = $2, completed_at = now()
    WHERE id = $3
  `, status, details, runID)
	return err
}
