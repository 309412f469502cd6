package bot

import (
	"context"
	"testing"
	"time"

	"github.com/odysseia/protect/src/config"
	"github.com/odysseia/protect/src/jobs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenStore(t *testing.T) {
	ctx := context.Background()

	s, err := OpenStore(ctx, config.ProtectConfig{Database: config.DriverSqlite, Sqlite: config.SqliteConfig{Path: ":memory:"}})
	require.Nil(t, err)
	defer s.Close()

	thread, err := s.UpsertThread(ctx, "thread", "author")
	require.Nil(t, err)
	assert.Equal(t, "author", thread.AuthorID)

	_, err = OpenStore(ctx, config.ProtectConfig{Database: "mysql"})
	assert.NotNil(t, err)
}

func TestServeMetrics(t *testing.T) {
	disabled := ServeMetrics("")
	select {
	case <-disabled.Finished():
	default:
		t.Fatal("a disabled metrics server should finish right away")
	}

	job := ServeMetrics("127.0.0.1:0")
	unfinished := jobs.Jobs{job}.CancelAndWait(5 * time.Second)
	assert.Empty(t, unfinished)
}
