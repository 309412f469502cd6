package utils

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/odysseia/protect/src/oops"
	"github.com/stretchr/testify/assert"
)

type archiveError struct{}

func (err *archiveError) Error() string {
	return "archive thread vanished"
}

func TestMust(t *testing.T) {
	t.Run("nil error", func(t *testing.T) {
		Must(nil)
	})
	t.Run("non-nil error", func(t *testing.T) {
		assert.Panics(t, func() {
			Must(&archiveError{})
		})
	})
}

func TestMust1(t *testing.T) {
	t.Run("nil error", func(t *testing.T) {
		f := func() (int, error) { return 3, nil }
		assert.Equal(t, 3, Must1(f()))
	})
	t.Run("non-nil error", func(t *testing.T) {
		f := func() (int, error) { return 0, &archiveError{} }
		assert.Panics(t, func() {
			Must1(f())
		})
	})
}

func TestOrDefault(t *testing.T) {
	assert.Equal(t, "not provided", OrDefault("", "not provided"))
	assert.Equal(t, "v1.2", OrDefault("v1.2", "not provided"))
	assert.Equal(t, 10, OrDefault(0, 10))
}

func TestDeref(t *testing.T) {
	assert.Equal(t, "", Deref[string](nil))
	assert.Equal(t, "hunter2", Deref(P("hunter2")))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10, "..."))
	assert.Equal(t, "exactly10!", Truncate("exactly10!", 10, "..."))
	assert.Equal(t, "abc...", Truncate("abcdef", 3, "..."))
	assert.Equal(t, "汉字...", Truncate("汉字汉字", 2, "..."))
}

var sentinelError = errors.New("sentinel")

func TestRecoverPanicAsError(t *testing.T) {
	t.Run("no panic, no error", func(t *testing.T) {
		f := func() (err error) {
			defer RecoverPanicAsError(&err)
			return nil
		}
		assert.Nil(t, f())
	})
	t.Run("no panic, error", func(t *testing.T) {
		f := func() (err error) {
			defer RecoverPanicAsError(&err)
			return sentinelError
		}
		assert.ErrorIs(t, f(), sentinelError)
	})
	t.Run("panic, no error", func(t *testing.T) {
		f := func() (err error) {
			defer RecoverPanicAsError(&err)
			panic("blerp")
		}
		err := f()
		var asOops *oops.Error
		assert.ErrorContains(t, err, "blerp")
		assert.True(t, errors.As(err, &asOops))
	})
	t.Run("panic, error", func(t *testing.T) {
		f := func() (err error) {
			defer RecoverPanicAsError(&err)
			err = sentinelError
			panic("blerp")
		}
		err := f()
		assert.ErrorContains(t, err, "blerp")
		assert.ErrorIs(t, err, sentinelError)
	})
}

func TestSleepContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, SleepContext(ctx, time.Hour), ErrSleepInterrupted)
	assert.NoError(t, SleepContext(context.Background(), time.Millisecond))
}
