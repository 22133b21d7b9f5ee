package domain

import "github.com/shopspring/decimal"

type Demand struct {
	ID           string          `json:"id"`
	Title        string          `json:"title"`
	NoticeNumber string          `json:"notice_number"`
	Authority    string          `json:"authority"`
	Office       string          `json:"office,omitempty"`
	ExamDate     string          `json:"exam_date,omitempty" format:"date"`
	Reward       decimal.Decimal `json:"reward"`
	Status       DemandStatus    `json:"status" enum:"open,under_review,closed,cancelled"`
	CreatedAt    string          `json:"created_at" format:"date-time"`
	UpdatedAt    string          `json:"updated_at" format:"date-time"`
}

type Submission struct {
	ID         int64            `json:"id"`
	DemandID   string           `json:"demand_id"`
	Name       string           `json:"name"`
	Handle     string           `json:"handle"`
	Email      string           `json:"email,omitempty"`
	PayoutKey  string           `json:"payout_key"`
	ProofPath  *string          `json:"proof_path,omitempty"`
	Code       string           `json:"code"`
	Status     SubmissionStatus `json:"status" enum:"queued,notified,awaiting_review,in_review,approved,paid,rejected,expired"`
	Note       *string          `json:"note,omitempty"`
	PaidAmount *decimal.Decimal `json:"paid_amount,omitempty"`
	CreatedAt  string           `json:"created_at" format:"date-time"`
	NotifiedAt *string          `json:"notified_at,omitempty" format:"date-time"`
	DeadlineAt *string          `json:"deadline_at,omitempty" format:"date-time"`
	AnalyzedAt *string          `json:"analyzed_at,omitempty" format:"date-time"`
	PaidAt     *string          `json:"paid_at,omitempty" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	DemandID   string `json:"demand_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type StaffKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
