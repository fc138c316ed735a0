package transfer

import "context"

// Summary aggregates the outcome of a set of handles. Completed counts files
// actually uploaded; dedup hits are counted in Skipped only.
type Summary struct {
	Total     int   `json:"total"`
	Completed int   `json:"completed"`
	Skipped   int   `json:"skipped"`
	Failed    int   `json:"failed"`
	Cancelled int   `json:"cancelled"`
	Pending   int   `json:"pending"`
	Bytes     int64 `json:"bytes"`
}

// Succeeded reports whether every handle ended completed or skipped
func (s Summary) Succeeded() bool {
	return s.Failed == 0 && s.Cancelled == 0 && s.Pending == 0
}

// Add merges other into s
func (s *Summary) Add(other Summary) {
	s.Total += other.Total
	s.Completed += other.Completed
	s.Skipped += other.Skipped
	s.Failed += other.Failed
	s.Cancelled += other.Cancelled
	s.Pending += other.Pending
	s.Bytes += other.Bytes
}

// Summarize counts handles by their current state
func Summarize(handles []*Handle) Summary {
	summary := Summary{Total: len(handles)}
	for _, h := range handles {
		snap := h.Snapshot()
		switch {
		case snap.State == StateCompleted && snap.Skipped:
			summary.Skipped++
		case snap.State == StateCompleted:
			summary.Completed++
		case snap.State == StateFailed:
			summary.Failed++
		case snap.State == StateCancelled:
			summary.Cancelled++
		default:
			summary.Pending++
		}
		summary.Bytes += snap.BytesTransferred
	}
	return summary
}

// WaitAll blocks until every handle is terminal or ctx is done, then summarizes them
func WaitAll(ctx context.Context, handles []*Handle) Summary {
	for _, h := range handles {
		if _, err := h.Wait(ctx); err != nil {
			break
		}
	}
	return Summarize(handles)
}
