package extraction

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hearthmind/hearth/internal/metrics"
)

const defaultJobTimeout = 30 * time.Second

// Runner dispatches extraction jobs off the turn's critical path. Each job is
// a single best-effort attempt; failures are logged and dropped, never
// retried, and never surfaced to the waiting user.
type Runner struct {
	extractor *Extractor
	store     GraphStore
	logger    *slog.Logger
	limiter   *rate.Limiter
	timeout   time.Duration
	wg        sync.WaitGroup
}

// NewRunner creates a Runner. jobsPerSecond throttles how fast queued jobs
// reach the LLM; extraction shares a provider budget with user-facing turns
// and must never starve them.
func NewRunner(extractor *Extractor, store GraphStore, logger *slog.Logger, jobsPerSecond float64) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if jobsPerSecond <= 0 {
		jobsPerSecond = 1
	}
	return &Runner{
		extractor: extractor,
		store:     store,
		logger:    logger,
		limiter:   rate.NewLimiter(rate.Limit(jobsPerSecond), 1),
		timeout:   defaultJobTimeout,
	}
}

// Dispatch queues a job and returns immediately. The job runs on its own
// goroutine with its own timeout, detached from the request context.
func (r *Runner) Dispatch(job Job) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		r.run(ctx, job)
	}()
}

// Wait blocks until all dispatched jobs have finished, for shutdown and tests.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) run(ctx context.Context, job Job) {
	if err := r.limiter.Wait(ctx); err != nil {
		r.logger.Debug("extraction throttle wait aborted", "user_id", job.UserID, "error", err)
		metrics.ExtractionJobs.WithLabelValues(metrics.OutcomeError).Inc()
		return
	}
	result, err := r.extractor.Extract(ctx, job.UserText, job.AIResponse)
	if err != nil {
		r.logger.Debug("extraction skipped", "user_id", job.UserID, "error", err)
		metrics.ExtractionJobs.WithLabelValues(metrics.OutcomeError).Inc()
		return
	}
	Apply(ctx, r.store, job.UserID, job.EpisodeID, result, r.logger)
	metrics.ExtractionJobs.WithLabelValues(metrics.OutcomeOK).Inc()
}
