package memory

import (
	"context"

	"github.com/xela07ax/capgov/internal/audit"
)

func (s *Store) AppendBatch(_ context.Context, events []audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range events {
		e.Seq = s.nextSeq
		s.nextSeq++
		s.events = append(s.events, e)
	}
	return nil
}

// Query scans newest-first, keeps the first Limit matches and returns them in
// seq order, matching the SQL backend. With MinSeq set it pages forward from
// the cursor instead.
func (s *Store) Query(_ context.Context, f audit.Filter) ([]audit.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	matched := make([]audit.Event, 0, limit)

	if f.MinSeq > 0 {
		for i := 0; i < len(s.events) && len(matched) < limit; i++ {
			if f.Matches(s.events[i]) {
				matched = append(matched, s.events[i])
			}
		}
		return matched, nil
	}

	for i := len(s.events) - 1; i >= 0 && len(matched) < limit; i-- {
		if f.Matches(s.events[i]) {
			matched = append(matched, s.events[i])
		}
	}

	// Reverse back to ascending seq.
	for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
		matched[i], matched[j] = matched[j], matched[i]
	}
	return matched, nil
}
