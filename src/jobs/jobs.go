package jobs

import (
	"context"
	"time"

	"github.com/odysseia/protect/src/logging"
	"github.com/rs/zerolog"
)

// A Job tracks a long-running background task (the gateway connection, the
// metrics listener) so that shutdown can cancel it and wait for it to finish.
type Job struct {
	Name   string
	Ctx    context.Context
	Logger zerolog.Logger
	cancel func()
	done   chan struct{}
}

func New(name string) *Job {
	return NewWithContext(context.Background(), name)
}

func NewWithContext(parent context.Context, name string) *Job {
	logger := logging.With().Str("job", name).Logger()
	ctx, cancel := context.WithCancel(parent)
	ctx = logging.AttachLoggerToContext(&logger, ctx)
	return &Job{
		Name:   name,
		Ctx:    ctx,
		Logger: logger,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Run starts f on its own goroutine and finishes the job when f returns. A
// non-nil error from f is logged unless the job was canceled. Panics are
// logged and also finish the job.
func Run(name string, f func(ctx context.Context) error) *Job {
	job := New(name)
	go func() {
		defer job.Finish()
		defer logging.LogPanics(&job.Logger)

		job.Logger.Debug().Msg("job started")
		err := f(job.Ctx)
		if err != nil && job.Ctx.Err() == nil {
			job.Logger.Error().Err(err).Msg("job exited with an error")
		} else {
			job.Logger.Debug().Msg("job finished")
		}
	}()
	return job
}

// Cancel asks the job to wind down by canceling its context.
func (j *Job) Cancel() {
	j.cancel()
}

func (j *Job) Canceled() <-chan struct{} {
	return j.Ctx.Done()
}

// Finish marks the job as done. Called by the job itself.
func (j *Job) Finish() *Job {
	close(j.done)
	return j
}

func (j *Job) Finished() <-chan struct{} {
	return j.done
}

type Jobs []*Job

// CancelAndWait cancels every job and waits until they all finish or the
// timeout expires. It returns the names of the jobs that did not finish.
func (jobs Jobs) CancelAndWait(timeout time.Duration) []string {
	allDoneChan := make(chan struct{})
	for _, job := range jobs {
		job.Cancel()
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	go func() {
		for _, job := range jobs {
			<-job.Finished()
		}
		close(allDoneChan)
	}()

	select {
	case <-timer.C:
		return jobs.ListUnfinished()
	case <-allDoneChan:
		return nil
	}
}

func (jobs Jobs) ListUnfinished() []string {
	unfinished := []string{}
	for _, job := range jobs {
		select {
		case <-job.Finished():
			continue
		default:
			unfinished = append(unfinished, job.Name)
		}
	}
	return unfinished
}
