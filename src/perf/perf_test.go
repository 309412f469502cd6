package perf

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestBlocks(t *testing.T) {
	rp := MakeNewRequestPerf("/download")
	outer := rp.StartBlock("SQL", "get resource")
	rp.StartBlock("DISCORD", "get message")
	outer.End()

	assert.False(t, rp.Blocks[0].End.IsZero())
	assert.True(t, rp.Blocks[1].End.IsZero())

	rp.EndRequest()
	assert.False(t, rp.Blocks[1].End.IsZero())
	assert.False(t, rp.EndBlock())
	assert.GreaterOrEqual(t, rp.Duration(), time.Duration(0))
}

func TestNilSafe(t *testing.T) {
	var rp *RequestPerf
	assert.NotPanics(t, func() {
		rp.StartBlock("SQL", "nothing").End()
		rp.Checkpoint("x", "y")
		rp.EndRequest()
		rp.LogIfSlow(nil, 0)
	})
	assert.Nil(t, ExtractPerf(context.Background()))
}

func TestContext(t *testing.T) {
	rp := MakeNewRequestPerf("/upload")
	ctx := AttachPerf(context.Background(), rp)
	assert.Same(t, rp, ExtractPerf(ctx))
}

func TestLogIfSlow(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	rp := MakeNewRequestPerf("/manage delete")
	rp.StartBlock("SQL", "delete resource")
	rp.EndRequest()

	rp.LogIfSlow(&logger, time.Hour)
	assert.Empty(t, buf.String())

	rp.LogIfSlow(&logger, 0)
	assert.Contains(t, buf.String(), "slow interaction")
	assert.Contains(t, buf.String(), "delete resource")
}
