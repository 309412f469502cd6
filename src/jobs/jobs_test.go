package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCancelAndWait(t *testing.T) {
	t.Run("finishes fast enough", func(t *testing.T) {
		testJobs := Jobs{
			FakeJob("gateway", time.Millisecond*100),
			FakeJob("metrics", time.Millisecond*200),
		}

		before := time.Now()
		unfinished := testJobs.CancelAndWait(time.Second * 1)
		after := time.Now()
		assert.WithinDuration(t, after, before, time.Millisecond*500)
		assert.Len(t, unfinished, 0)
	})
	t.Run("reports unfinished jobs", func(t *testing.T) {
		testJobs := Jobs{
			FakeJob("gateway", time.Millisecond*100),
			FakeJob("metrics", time.Second*10),
		}

		unfinished := testJobs.CancelAndWait(time.Second * 1)
		assert.Equal(t, []string{"metrics"}, unfinished)
	})
}

func TestRun(t *testing.T) {
	t.Run("finishes when the function returns", func(t *testing.T) {
		job := Run("short", func(ctx context.Context) error {
			return errors.New("gave up")
		})
		select {
		case <-job.Finished():
		case <-time.After(time.Second):
			t.Fatal("job did not finish")
		}
	})
	t.Run("stops on cancel", func(t *testing.T) {
		job := Run("long", func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		})
		assert.Empty(t, Jobs{job}.CancelAndWait(time.Second))
	})
	t.Run("survives panics", func(t *testing.T) {
		job := Run("panicky", func(ctx context.Context) error {
			panic("no gateway url")
		})
		select {
		case <-job.Finished():
		case <-time.After(time.Second):
			t.Fatal("job did not finish after panicking")
		}
	})
}

func FakeJob(name string, timeout time.Duration) *Job {
	job := New(name)
	go func() {
		<-job.Ctx.Done()
		timer := time.NewTimer(timeout)
		<-timer.C
		job.Finish()
	}()
	return job
}
