package domain

import "fmt"

type DemandStatus string

const (
	DemandOpen        DemandStatus = "open"
	DemandUnderReview DemandStatus = "under_review"
	DemandClosed      DemandStatus = "closed"
	DemandCancelled   DemandStatus = "cancelled"
)

// AcceptsSubmissions reports whether new participants may still join the
// queue. A demand under review keeps accepting queue entries; only closed
// and cancelled demands refuse.
func (s DemandStatus) AcceptsSubmissions() bool {
	return s == DemandOpen || s == DemandUnderReview
}

func EnsureDemandTransition(old, new DemandStatus) error {
	switch old {
	case DemandOpen:
		if new == DemandUnderReview || new == DemandCancelled {
			return nil
		}
	case DemandUnderReview:
		if new == DemandOpen || new == DemandClosed || new == DemandCancelled {
			return nil
		}
	}
	return fmt.Errorf("invalid demand status transition %s -> %s", old, new)
}

type SubmissionStatus string

const (
	SubmissionQueued         SubmissionStatus = "queued"
	SubmissionNotified       SubmissionStatus = "notified"
	SubmissionAwaitingReview SubmissionStatus = "awaiting_review"
	SubmissionInReview       SubmissionStatus = "in_review"
	SubmissionApproved       SubmissionStatus = "approved"
	SubmissionPaid           SubmissionStatus = "paid"
	SubmissionRejected       SubmissionStatus = "rejected"
	SubmissionExpired        SubmissionStatus = "expired"
)

// Active statuses occupy a spot in the demand's queue: the holder is either
// waiting, notified, or under analysis. Exactly one submission per demand may
// be in the analysis pair at a time.
func (s SubmissionStatus) Active() bool {
	switch s {
	case SubmissionQueued, SubmissionNotified, SubmissionAwaitingReview, SubmissionInReview:
		return true
	}
	return false
}

// InAnalysis reports whether the submission holds the review slot proper.
func (s SubmissionStatus) InAnalysis() bool {
	return s == SubmissionAwaitingReview || s == SubmissionInReview
}

// Live statuses are non-terminal: the participant still has a stake in the
// demand. Approved counts as live until payment lands.
func (s SubmissionStatus) Live() bool {
	return s.Active() || s == SubmissionApproved
}

func (s SubmissionStatus) Terminal() bool {
	switch s {
	case SubmissionPaid, SubmissionRejected, SubmissionExpired:
		return true
	}
	return false
}

func EnsureSubmissionTransition(old, new SubmissionStatus) error {
	switch old {
	case SubmissionQueued:
		if new == SubmissionNotified || new == SubmissionRejected {
			return nil
		}
	case SubmissionNotified:
		if new == SubmissionAwaitingReview || new == SubmissionExpired || new == SubmissionRejected {
			return nil
		}
	case SubmissionAwaitingReview:
		if new == SubmissionInReview || new == SubmissionApproved || new == SubmissionRejected {
			return nil
		}
	case SubmissionInReview:
		if new == SubmissionApproved || new == SubmissionRejected {
			return nil
		}
	case SubmissionApproved:
		if new == SubmissionPaid || new == SubmissionRejected {
			return nil
		}
	}
	return fmt.Errorf("invalid submission status transition %s -> %s", old, new)
}
