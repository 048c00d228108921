package negotiation

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/po-studio/negotiator/internal/candidate"
)

func hostCandidate(i int) candidate.Indexed {
	return candidate.Indexed{Text: fmt.Sprintf("candidate:%d 1 udp 2130706431 10.0.0.%d 5000%d typ host", i, i, i)}
}

func TestGatherStopsAtMax(t *testing.T) {
	in := make(chan candidate.Indexed, 5)
	for i := 1; i <= 5; i++ {
		in <- hostCandidate(i)
	}

	got := Gather(context.Background(), in, 2, time.Second)

	assert.Equal(t, []candidate.Indexed{hostCandidate(1), hostCandidate(2)}, got)
	assert.Len(t, in, 3)
}

func TestGatherStopsOnQuiescence(t *testing.T) {
	in := make(chan candidate.Indexed, 1)
	in <- hostCandidate(1)

	start := time.Now()
	got := Gather(context.Background(), in, 16, 50*time.Millisecond)

	assert.Len(t, got, 1)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestGatherQuiescenceResetsPerCandidate(t *testing.T) {
	in := make(chan candidate.Indexed)
	go func() {
		for i := 1; i <= 3; i++ {
			time.Sleep(20 * time.Millisecond)
			in <- hostCandidate(i)
		}
	}()

	got := Gather(context.Background(), in, 16, 150*time.Millisecond)
	assert.Len(t, got, 3)
}

func TestGatherNothingArrives(t *testing.T) {
	got := Gather(context.Background(), make(chan candidate.Indexed), 16, 10*time.Millisecond)
	assert.Empty(t, got)
}

func TestGatherClosedChannel(t *testing.T) {
	in := make(chan candidate.Indexed, 1)
	in <- hostCandidate(1)
	close(in)

	got := Gather(context.Background(), in, 16, time.Hour)
	assert.Len(t, got, 1)
}

func TestGatherContextDone(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	got := Gather(ctx, make(chan candidate.Indexed), 16, time.Hour)
	assert.Empty(t, got)
}

func TestGatherZeroMax(t *testing.T) {
	in := make(chan candidate.Indexed, 1)
	in <- hostCandidate(1)

	assert.Empty(t, Gather(context.Background(), in, 0, time.Second))
}
