package perf

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// RequestPerf records timing blocks for one interaction (a slash command, a
// modal submit, a button press). Every method is safe on a nil receiver so
// code paths without a perf record need no special casing.
type RequestPerf struct {
	Name   string
	Start  time.Time
	End    time.Time
	Blocks []PerfBlock
}

func MakeNewRequestPerf(name string) *RequestPerf {
	return &RequestPerf{
		Name:  name,
		Start: time.Now(),
	}
}

func (rp *RequestPerf) EndRequest() {
	if rp == nil {
		return
	}
	for rp.EndBlock() {
	}
	rp.End = time.Now()
}

func (rp *RequestPerf) Checkpoint(category, description string) {
	if rp == nil {
		return
	}
	now := time.Now()
	rp.Blocks = append(rp.Blocks, PerfBlock{
		Start:       now,
		End:         now,
		Category:    category,
		Description: description,
	})
}

func (rp *RequestPerf) StartBlock(category, description string) BlockHandle {
	if rp == nil {
		return BlockHandle{}
	}
	rp.Blocks = append(rp.Blocks, PerfBlock{
		Start:       time.Now(),
		Category:    category,
		Description: description,
	})
	return BlockHandle{rp: rp, idx: len(rp.Blocks) - 1}
}

// EndBlock closes the most recently opened block. Returns false if there was
// none left open.
func (rp *RequestPerf) EndBlock() bool {
	if rp == nil {
		return false
	}
	for i := len(rp.Blocks) - 1; i >= 0; i -= 1 {
		if rp.Blocks[i].End.IsZero() {
			rp.Blocks[i].End = time.Now()
			return true
		}
	}
	return false
}

func (rp *RequestPerf) Duration() time.Duration {
	if rp == nil || rp.End.IsZero() {
		return 0
	}
	return rp.End.Sub(rp.Start)
}

// LogIfSlow writes the whole block breakdown when the request took longer
// than threshold.
func (rp *RequestPerf) LogIfSlow(logger *zerolog.Logger, threshold time.Duration) {
	if rp == nil || rp.Duration() < threshold {
		return
	}
	arr := zerolog.Arr()
	for _, block := range rp.Blocks {
		arr.Dict(zerolog.Dict().
			Str("category", block.Category).
			Str("description", block.Description).
			Float64("ms_from_start", float64(block.Start.Sub(rp.Start).Microseconds())/1000).
			Float64("ms", block.DurationMs()))
	}
	logger.Warn().
		Str("interaction", rp.Name).
		Dur("duration", rp.Duration()).
		Array("blocks", arr).
		Msg("slow interaction")
}

// BlockHandle ends one specific block, even if others were opened after it.
type BlockHandle struct {
	rp  *RequestPerf
	idx int
}

func (h BlockHandle) End() {
	if h.rp == nil {
		return
	}
	if h.rp.Blocks[h.idx].End.IsZero() {
		h.rp.Blocks[h.idx].End = time.Now()
	}
}

type PerfBlock struct {
	Start       time.Time
	End         time.Time
	Category    string
	Description string
}

func (pb *PerfBlock) Duration() time.Duration {
	return pb.End.Sub(pb.Start)
}

func (pb *PerfBlock) DurationMs() float64 {
	return float64(pb.Duration().Microseconds()) / 1000
}

type perfContextKey struct{}

func AttachPerf(ctx context.Context, perf *RequestPerf) context.Context {
	return context.WithValue(ctx, perfContextKey{}, perf)
}

// ExtractPerf returns the perf record attached to ctx, or nil.
func ExtractPerf(ctx context.Context) *RequestPerf {
	if ctx == nil {
		return nil
	}
	perf, _ := ctx.Value(perfContextKey{}).(*RequestPerf)
	return perf
}
