package polling

import (
	"context"
	"time"

	"github.com/go-go-golems/solace/pkg/retry"
	"github.com/go-go-golems/solace/pkg/turns"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	DefaultInterval    = time.Second
	DefaultMaxAttempts = 10
)

var (
	// ErrTimeout means the job never reached a terminal status within the
	// attempt budget. It may still complete out-of-band.
	ErrTimeout = errors.New("timed out waiting for job")
	// ErrJobFailed means the downstream reported the job as failed.
	ErrJobFailed = errors.New("job failed")
)

// StatusReader reads the current status of an asynchronous job.
type StatusReader interface {
	PollRender(ctx context.Context, jobID string) (turns.RenderJob, error)
}

type StatusReaderFunc func(ctx context.Context, jobID string) (turns.RenderJob, error)

func (f StatusReaderFunc) PollRender(ctx context.Context, jobID string) (turns.RenderJob, error) {
	return f(ctx, jobID)
}

// Waiter polls a job at a fixed interval until it is done, failed, or the
// attempt budget runs out.
type Waiter struct {
	reader      StatusReader
	interval    time.Duration
	maxAttempts int
	sleep       retry.SleepFunc
}

type Option func(*Waiter)

func WithInterval(d time.Duration) Option {
	return func(w *Waiter) {
		w.interval = d
	}
}

func WithMaxAttempts(n int) Option {
	return func(w *Waiter) {
		if n < 1 {
			n = 1
		}
		w.maxAttempts = n
	}
}

func WithSleep(sleep retry.SleepFunc) Option {
	return func(w *Waiter) {
		w.sleep = sleep
	}
}

func NewWaiter(reader StatusReader, opts ...Option) *Waiter {
	w := &Waiter{
		reader:      reader,
		interval:    DefaultInterval,
		maxAttempts: DefaultMaxAttempts,
		sleep:       retry.Sleep,
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// AwaitCompletion returns the result URL of the job once its status is done.
// Read errors count as a non-terminal poll.
func (w *Waiter) AwaitCompletion(ctx context.Context, jobID string) (string, error) {
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		job, err := w.reader.PollRender(ctx, jobID)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			log.Warn().Err(err).Str("job_id", jobID).Int("attempt", attempt).Msg("Failed to read job status")
		case job.Status == turns.RenderDone:
			log.Debug().Str("job_id", jobID).Int("attempt", attempt).Msg("Job completed")
			return job.ResultURL, nil
		case job.Status == turns.RenderFailed:
			if job.Detail != "" {
				return "", errors.Wrapf(ErrJobFailed, "job %s: %s", jobID, job.Detail)
			}
			return "", errors.Wrapf(ErrJobFailed, "job %s", jobID)
		}

		if attempt == w.maxAttempts {
			break
		}
		if err := w.sleep(ctx, w.interval); err != nil {
			return "", err
		}
	}

	return "", errors.Wrapf(ErrTimeout, "job %s after %d polls", jobID, w.maxAttempts)
}
