package domain

import "testing"

func TestSubmissionStatusSets(t *testing.T) {
	for _, s := range []SubmissionStatus{SubmissionQueued, SubmissionNotified, SubmissionAwaitingReview, SubmissionInReview} {
		if !s.Active() || !s.Live() || s.Terminal() {
			t.Errorf("%s should be active and live, not terminal", s)
		}
	}
	if !SubmissionApproved.Live() || SubmissionApproved.Active() {
		t.Error("approved is live but no longer active")
	}
	for _, s := range []SubmissionStatus{SubmissionPaid, SubmissionRejected, SubmissionExpired} {
		if !s.Terminal() || s.Live() {
			t.Errorf("%s should be terminal", s)
		}
	}
}

func TestSubmissionTransitionGuards(t *testing.T) {
	allowed := []struct{ from, to SubmissionStatus }{
		{SubmissionQueued, SubmissionNotified},
		{SubmissionNotified, SubmissionAwaitingReview},
		{SubmissionNotified, SubmissionExpired},
		{SubmissionAwaitingReview, SubmissionInReview},
		{SubmissionInReview, SubmissionApproved},
		{SubmissionApproved, SubmissionPaid},
		{SubmissionQueued, SubmissionRejected},
	}
	for _, c := range allowed {
		if err := EnsureSubmissionTransition(c.from, c.to); err != nil {
			t.Errorf("%s -> %s should be allowed: %v", c.from, c.to, err)
		}
	}
	denied := []struct{ from, to SubmissionStatus }{
		{SubmissionQueued, SubmissionInReview},
		{SubmissionExpired, SubmissionNotified},
		{SubmissionPaid, SubmissionRejected},
		{SubmissionApproved, SubmissionExpired},
	}
	for _, c := range denied {
		if err := EnsureSubmissionTransition(c.from, c.to); err == nil {
			t.Errorf("%s -> %s should be denied", c.from, c.to)
		}
	}
}

func TestDemandTransitionGuards(t *testing.T) {
	if err := EnsureDemandTransition(DemandOpen, DemandUnderReview); err != nil {
		t.Errorf("open -> under_review should be allowed: %v", err)
	}
	if err := EnsureDemandTransition(DemandUnderReview, DemandOpen); err != nil {
		t.Errorf("under_review -> open should be allowed: %v", err)
	}
	if err := EnsureDemandTransition(DemandClosed, DemandOpen); err == nil {
		t.Error("closed demands must not reopen")
	}
	if !DemandUnderReview.AcceptsSubmissions() {
		t.Error("a demand under review keeps accepting queue entries")
	}
	if DemandClosed.AcceptsSubmissions() || DemandCancelled.AcceptsSubmissions() {
		t.Error("closed and cancelled demands refuse submissions")
	}
}
