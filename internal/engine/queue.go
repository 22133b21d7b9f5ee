package engine

import (
	"sort"

	"examline/internal/domain"
)

// Position returns the 1-based spot of target within the demand's active
// submissions, ordered by arrival (created_at, then id as tie-break).
// Position 1 is the current slot holder. Returns false when the target is
// not active, which callers treat as "no longer in the queue".
func Position(target domain.Submission, active []domain.Submission) (int, bool) {
	if !target.Status.Active() {
		return 0, false
	}
	ordered := make([]domain.Submission, len(active))
	copy(ordered, active)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].CreatedAt != ordered[j].CreatedAt {
			return ordered[i].CreatedAt < ordered[j].CreatedAt
		}
		return ordered[i].ID < ordered[j].ID
	})
	for i, s := range ordered {
		if s.ID == target.ID {
			return i + 1, true
		}
	}
	return 0, false
}
