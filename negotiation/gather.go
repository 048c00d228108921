package negotiation

import (
	"context"
	"time"

	"github.com/po-studio/negotiator/internal/candidate"
)

// Gather collects candidates from in until maxItems have arrived, no
// candidate has arrived for quiescence, in is closed, or ctx ends. Whatever
// was collected is returned in every case.
func Gather(ctx context.Context, in <-chan candidate.Indexed, maxItems int, quiescence time.Duration) []candidate.Indexed {
	var out []candidate.Indexed
	if maxItems <= 0 {
		return out
	}

	timer := time.NewTimer(quiescence)
	defer timer.Stop()

	for {
		select {
		case c, ok := <-in:
			if !ok {
				return out
			}
			out = append(out, c)
			if len(out) >= maxItems {
				return out
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(quiescence)
		case <-timer.C:
			return out
		case <-ctx.Done():
			return out
		}
	}
}
