package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"examline/internal/config"
	"examline/internal/domain"
	"examline/internal/events"
	"examline/internal/notify"
	"examline/internal/repo"
)

// closeOutNote is stamped on every live submission force-rejected when a
// competing proof wins.
const closeOutNote = "demand closed — another proof was selected"

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Notify *notify.Dispatcher
	Loc    *time.Location
	Now    func() time.Time
	Log    zerolog.Logger
}

func New(db *sql.DB, cfg *config.Config, log zerolog.Logger) Engine {
	loc, err := cfg.Location()
	if err != nil {
		loc = time.UTC
	}
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Loc:    loc,
		Now:    time.Now,
		Log:    log,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) dispatch(ctx context.Context, evts []notify.Event) {
	if e.Notify == nil || len(evts) == 0 {
		return
	}
	e.Notify.Dispatch(ctx, evts)
}

// DemandCreateOptions are parameters for posting a demand.
type DemandCreateOptions struct {
	Title        string
	NoticeNumber string
	Authority    string
	Office       string
	ExamDate     string
	Reward       decimal.Decimal
	ActorID      string
}

func (e Engine) CreateDemand(ctx context.Context, opts DemandCreateOptions) (domain.Demand, error) {
	if strings.TrimSpace(opts.Title) == "" {
		return domain.Demand{}, &ValidationError{Field: "title", Msg: "required"}
	}
	if strings.TrimSpace(opts.NoticeNumber) == "" {
		return domain.Demand{}, &ValidationError{Field: "notice_number", Msg: "required"}
	}
	if strings.TrimSpace(opts.Authority) == "" {
		return domain.Demand{}, &ValidationError{Field: "authority", Msg: "required"}
	}
	if opts.Reward.IsNegative() || opts.Reward.IsZero() {
		return domain.Demand{}, &ValidationError{Field: "reward", Msg: "must be positive"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Demand{}, err
	}
	defer tx.Rollback()

	now := e.now().UTC().Format(time.RFC3339)
	d := domain.Demand{
		ID:           uuid.NewString(),
		Title:        strings.TrimSpace(opts.Title),
		NoticeNumber: strings.TrimSpace(opts.NoticeNumber),
		Authority:    strings.TrimSpace(opts.Authority),
		Office:       strings.TrimSpace(opts.Office),
		ExamDate:     opts.ExamDate,
		Reward:       opts.Reward,
		Status:       domain.DemandOpen,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := e.Repo.InsertDemandTx(ctx, tx, d); err != nil {
		return domain.Demand{}, fmt.Errorf("insert demand: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "demand.created", d.ID, "demand", d.ID, opts.ActorID, events.EventPayload{"title": d.Title, "reward": d.Reward.String()}); err != nil {
		return domain.Demand{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Demand{}, err
	}
	return d, nil
}

// DemandUpdateOptions patch a demand. Nil fields are left unchanged.
type DemandUpdateOptions struct {
	ID           string
	Title        *string
	NoticeNumber *string
	Authority    *string
	Office       *string
	ExamDate     *string
	Reward       *decimal.Decimal
	Status       *domain.DemandStatus
	ActorID      string
}

func (e Engine) UpdateDemand(ctx context.Context, opts DemandUpdateOptions) (domain.Demand, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Demand{}, err
	}
	defer tx.Rollback()

	d, err := e.Repo.GetDemandTx(ctx, tx, opts.ID)
	if err != nil {
		return domain.Demand{}, err
	}
	if opts.Title != nil {
		d.Title = strings.TrimSpace(*opts.Title)
	}
	if opts.NoticeNumber != nil {
		d.NoticeNumber = strings.TrimSpace(*opts.NoticeNumber)
	}
	if opts.Authority != nil {
		d.Authority = strings.TrimSpace(*opts.Authority)
	}
	if opts.Office != nil {
		d.Office = strings.TrimSpace(*opts.Office)
	}
	if opts.ExamDate != nil {
		d.ExamDate = *opts.ExamDate
	}
	if opts.Reward != nil {
		if opts.Reward.IsNegative() || opts.Reward.IsZero() {
			return domain.Demand{}, &ValidationError{Field: "reward", Msg: "must be positive"}
		}
		d.Reward = *opts.Reward
	}
	if opts.Status != nil && *opts.Status != d.Status {
		if err := domain.EnsureDemandTransition(d.Status, *opts.Status); err != nil {
			return domain.Demand{}, &StateConflictError{Entity: "demand", ID: d.ID, Status: string(d.Status), Op: "set status " + string(*opts.Status)}
		}
		d.Status = *opts.Status
	}
	d.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdateDemandTx(ctx, tx, d); err != nil {
		return domain.Demand{}, err
	}
	if err := e.Events.Append(ctx, tx, "demand.updated", d.ID, "demand", d.ID, opts.ActorID, events.EventPayload{"status": string(d.Status)}); err != nil {
		return domain.Demand{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Demand{}, err
	}
	return d, nil
}

// SubmissionCreateOptions are parameters for a participant joining a demand.
type SubmissionCreateOptions struct {
	DemandID  string
	Name      string
	Handle    string
	Email     string
	PayoutKey string
	ProofPath string
	ActorID   string
}

// CreateSubmission records a participant's entry and returns the stored
// submission plus its 1-based queue position. The first entry while no one
// holds the active slot goes straight into review; later entries queue.
func (e Engine) CreateSubmission(ctx context.Context, opts SubmissionCreateOptions) (domain.Submission, int, error) {
	if strings.TrimSpace(opts.Name) == "" {
		return domain.Submission{}, 0, &ValidationError{Field: "name", Msg: "required"}
	}
	if strings.TrimSpace(opts.Handle) == "" {
		return domain.Submission{}, 0, &ValidationError{Field: "handle", Msg: "required"}
	}
	if strings.TrimSpace(opts.PayoutKey) == "" {
		return domain.Submission{}, 0, &ValidationError{Field: "payout_key", Msg: "required"}
	}
	// Store handles in normalized digit form so the same number written as
	// "(11) 98888-0001" and "11 98888-0001" dedupes to one live submission.
	handle := notify.NormalizeHandle(opts.Handle, e.Config.Notifications.WhatsApp.CountryCode)
	if handle == "" {
		return domain.Submission{}, 0, &ValidationError{Field: "handle", Msg: "must contain a phone number"}
	}
	opts.Handle = handle

	sub, pos, err := e.createSubmissionOnce(ctx, opts)
	if isUniqueViolation(err) {
		// Lost a same-day code race; the serialized writer makes a second
		// loss effectively impossible.
		sub, pos, err = e.createSubmissionOnce(ctx, opts)
		if isUniqueViolation(err) {
			return domain.Submission{}, 0, ErrDuplicateCode
		}
	}
	return sub, pos, err
}

func (e Engine) createSubmissionOnce(ctx context.Context, opts SubmissionCreateOptions) (domain.Submission, int, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Submission{}, 0, err
	}
	defer tx.Rollback()

	d, err := e.Repo.GetDemandTx(ctx, tx, opts.DemandID)
	if err != nil {
		return domain.Submission{}, 0, err
	}
	if !d.Status.AcceptsSubmissions() {
		return domain.Submission{}, 0, &StateConflictError{Entity: "demand", ID: d.ID, Status: string(d.Status), Op: "create submission"}
	}

	if existing, err := e.Repo.LiveByHandleTx(ctx, tx, d.ID, opts.Handle); err == nil {
		active, err := e.Repo.ListActiveSubmissionsTx(ctx, tx, d.ID)
		if err != nil {
			return domain.Submission{}, 0, err
		}
		pos, _ := Position(existing, active)
		return domain.Submission{}, 0, &DuplicateSubmissionError{Code: existing.Code, Position: pos}
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Submission{}, 0, err
	}

	code, err := e.nextCodeTx(ctx, tx)
	if err != nil {
		return domain.Submission{}, 0, err
	}
	slotTaken, err := e.Repo.ActiveExistsTx(ctx, tx, d.ID)
	if err != nil {
		return domain.Submission{}, 0, err
	}

	now := e.now().UTC().Format(time.RFC3339)
	s := domain.Submission{
		DemandID:  d.ID,
		Name:      strings.TrimSpace(opts.Name),
		Handle:    opts.Handle,
		Email:     strings.TrimSpace(opts.Email),
		PayoutKey: strings.TrimSpace(opts.PayoutKey),
		Code:      code,
		CreatedAt: now,
	}
	if opts.ProofPath != "" {
		s.ProofPath = &opts.ProofPath
	}
	if slotTaken {
		s.Status = domain.SubmissionQueued
	} else {
		// Empty slot: the arrival skips the queue and is reviewed at once.
		s.Status = domain.SubmissionInReview
	}

	s.ID, err = e.Repo.InsertSubmissionTx(ctx, tx, s)
	if err != nil {
		return domain.Submission{}, 0, err
	}
	if !slotTaken {
		if err := e.demandStatusTx(ctx, tx, &d, domain.DemandUnderReview, now); err != nil {
			return domain.Submission{}, 0, err
		}
	}
	active, err := e.Repo.ListActiveSubmissionsTx(ctx, tx, d.ID)
	if err != nil {
		return domain.Submission{}, 0, err
	}
	pos, _ := Position(s, active)

	if err := e.Events.Append(ctx, tx, "submission.created", d.ID, "submission", s.Code, opts.ActorID, events.EventPayload{
		"code":     s.Code,
		"status":   string(s.Status),
		"position": pos,
	}); err != nil {
		return domain.Submission{}, 0, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Submission{}, 0, err
	}

	// Queue-entry copy promises "we will call you when it is your turn";
	// a direct entrant already holds the slot, so only queued arrivals get it.
	if s.Status == domain.SubmissionQueued {
		e.dispatch(ctx, []notify.Event{{Kind: notify.KindQueueEntry, Demand: d, Submission: s, Position: pos}})
	}
	return s, pos, nil
}

// QueuePosition returns a submission by code with its current queue rank.
// ok is false when the submission is no longer active.
func (e Engine) QueuePosition(ctx context.Context, code string) (domain.Submission, int, bool, error) {
	s, err := e.Repo.GetSubmissionByCode(ctx, code)
	if err != nil {
		return domain.Submission{}, 0, false, err
	}
	active, err := e.Repo.ListActiveSubmissions(ctx, s.DemandID)
	if err != nil {
		return domain.Submission{}, 0, false, err
	}
	pos, ok := Position(s, active)
	return s, pos, ok, nil
}

// AttachProof stores the uploaded proof artifact for a submission. A
// notified submission past its deadline is expired (with promotion) instead,
// mirroring the lazy check done when the participant revisits the upload
// endpoint.
func (e Engine) AttachProof(ctx context.Context, id int64, proofPath, actorID string) (domain.Submission, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Submission{}, err
	}
	defer tx.Rollback()

	s, err := e.Repo.GetSubmissionTx(ctx, tx, id)
	if err != nil {
		return domain.Submission{}, err
	}
	d, err := e.Repo.GetDemandTx(ctx, tx, s.DemandID)
	if err != nil {
		return domain.Submission{}, err
	}
	now := e.now()
	nowStr := now.UTC().Format(time.RFC3339)

	if s.Status == domain.SubmissionNotified && s.DeadlineAt != nil {
		deadline, parseErr := time.Parse(time.RFC3339, *s.DeadlineAt)
		if parseErr == nil && now.After(deadline) {
			evts, err := e.expireAndPromoteTx(ctx, tx, &d, &s, nowStr, actorID)
			if err != nil {
				return domain.Submission{}, err
			}
			if err := tx.Commit(); err != nil {
				return domain.Submission{}, err
			}
			e.dispatch(ctx, evts)
			return s, &StateConflictError{Entity: "submission", ID: s.Code, Status: string(s.Status), Op: "attach proof after deadline"}
		}
	}

	switch s.Status {
	case domain.SubmissionNotified:
		if err := domain.EnsureSubmissionTransition(s.Status, domain.SubmissionAwaitingReview); err != nil {
			return domain.Submission{}, err
		}
		s.Status = domain.SubmissionAwaitingReview
		s.ProofPath = &proofPath
		if err := e.demandStatusTx(ctx, tx, &d, domain.DemandUnderReview, nowStr); err != nil {
			return domain.Submission{}, err
		}
	case domain.SubmissionAwaitingReview, domain.SubmissionInReview:
		// Replacing or late-attaching the artifact while under analysis.
		s.ProofPath = &proofPath
	default:
		return domain.Submission{}, &StateConflictError{Entity: "submission", ID: s.Code, Status: string(s.Status), Op: "attach proof"}
	}

	if err := e.Repo.UpdateSubmissionTx(ctx, tx, s); err != nil {
		return domain.Submission{}, err
	}
	if err := e.Events.Append(ctx, tx, "submission.proof_attached", d.ID, "submission", s.Code, actorID, events.EventPayload{"status": string(s.Status)}); err != nil {
		return domain.Submission{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Submission{}, err
	}
	return s, nil
}

// StartReview moves an awaiting submission into active analysis.
func (e Engine) StartReview(ctx context.Context, id int64, actorID string) (domain.Submission, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Submission{}, err
	}
	defer tx.Rollback()

	s, err := e.Repo.GetSubmissionTx(ctx, tx, id)
	if err != nil {
		return domain.Submission{}, err
	}
	if err := domain.EnsureSubmissionTransition(s.Status, domain.SubmissionInReview); err != nil {
		return domain.Submission{}, &StateConflictError{Entity: "submission", ID: s.Code, Status: string(s.Status), Op: "start review"}
	}
	s.Status = domain.SubmissionInReview
	if err := e.Repo.UpdateSubmissionTx(ctx, tx, s); err != nil {
		return domain.Submission{}, err
	}
	if err := e.Events.Append(ctx, tx, "submission.review_started", s.DemandID, "submission", s.Code, actorID, nil); err != nil {
		return domain.Submission{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Submission{}, err
	}
	return s, nil
}

// Approve marks the active submission approved and force-rejects every other
// live submission on the demand, notifying each of the close-out. The demand
// stays under review until payment lands.
func (e Engine) Approve(ctx context.Context, id int64, note, actorID string) (domain.Submission, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Submission{}, err
	}
	defer tx.Rollback()

	s, err := e.Repo.GetSubmissionTx(ctx, tx, id)
	if err != nil {
		return domain.Submission{}, err
	}
	d, err := e.Repo.GetDemandTx(ctx, tx, s.DemandID)
	if err != nil {
		return domain.Submission{}, err
	}
	if err := domain.EnsureSubmissionTransition(s.Status, domain.SubmissionApproved); err != nil {
		return domain.Submission{}, &StateConflictError{Entity: "submission", ID: s.Code, Status: string(s.Status), Op: "approve"}
	}
	now := e.now().UTC().Format(time.RFC3339)
	s.Status = domain.SubmissionApproved
	s.AnalyzedAt = &now
	if note != "" {
		s.Note = &note
	}
	if err := e.Repo.UpdateSubmissionTx(ctx, tx, s); err != nil {
		return domain.Submission{}, err
	}
	if err := e.Events.Append(ctx, tx, "submission.approved", d.ID, "submission", s.Code, actorID, nil); err != nil {
		return domain.Submission{}, err
	}

	losers, err := e.Repo.ListLiveTx(ctx, tx, d.ID, s.ID)
	if err != nil {
		return domain.Submission{}, err
	}
	var evts []notify.Event
	for _, loser := range losers {
		if err := domain.EnsureSubmissionTransition(loser.Status, domain.SubmissionRejected); err != nil {
			return domain.Submission{}, err
		}
		loser.Status = domain.SubmissionRejected
		loser.AnalyzedAt = &now
		n := closeOutNote
		loser.Note = &n
		if err := e.Repo.UpdateSubmissionTx(ctx, tx, loser); err != nil {
			return domain.Submission{}, err
		}
		if err := e.Events.Append(ctx, tx, "submission.rejected", d.ID, "submission", loser.Code, actorID, events.EventPayload{"note": closeOutNote}); err != nil {
			return domain.Submission{}, err
		}
		evts = append(evts, notify.Event{Kind: notify.KindClosed, Demand: d, Submission: loser})
	}
	if err := tx.Commit(); err != nil {
		return domain.Submission{}, err
	}
	e.dispatch(ctx, evts)
	return s, nil
}

// Reject turns down a submission with a staff reason. Rejecting the slot
// holder reopens the demand and promotes the next queued participant.
func (e Engine) Reject(ctx context.Context, id int64, note, actorID string) (domain.Submission, error) {
	if strings.TrimSpace(note) == "" {
		return domain.Submission{}, &ValidationError{Field: "note", Msg: "a rejection reason is required"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Submission{}, err
	}
	defer tx.Rollback()

	s, err := e.Repo.GetSubmissionTx(ctx, tx, id)
	if err != nil {
		return domain.Submission{}, err
	}
	d, err := e.Repo.GetDemandTx(ctx, tx, s.DemandID)
	if err != nil {
		return domain.Submission{}, err
	}
	if err := domain.EnsureSubmissionTransition(s.Status, domain.SubmissionRejected); err != nil {
		return domain.Submission{}, &StateConflictError{Entity: "submission", ID: s.Code, Status: string(s.Status), Op: "reject"}
	}
	heldSlot := s.Status.InAnalysis() || s.Status == domain.SubmissionNotified || s.Status == domain.SubmissionApproved
	now := e.now().UTC().Format(time.RFC3339)
	s.Status = domain.SubmissionRejected
	s.AnalyzedAt = &now
	s.Note = &note
	if err := e.Repo.UpdateSubmissionTx(ctx, tx, s); err != nil {
		return domain.Submission{}, err
	}
	if err := e.Events.Append(ctx, tx, "submission.rejected", d.ID, "submission", s.Code, actorID, events.EventPayload{"note": note}); err != nil {
		return domain.Submission{}, err
	}

	evts := []notify.Event{{Kind: notify.KindRejected, Demand: d, Submission: s, Reason: note}}
	if heldSlot && d.Status == domain.DemandUnderReview {
		if err := e.demandStatusTx(ctx, tx, &d, domain.DemandOpen, now); err != nil {
			return domain.Submission{}, err
		}
	}
	if heldSlot {
		promoted, err := e.promoteNextTx(ctx, tx, d, now, actorID)
		if err != nil {
			return domain.Submission{}, err
		}
		evts = append(evts, promoted...)
	}
	if err := tx.Commit(); err != nil {
		return domain.Submission{}, err
	}
	e.dispatch(ctx, evts)
	return s, nil
}

// MarkPaid records the payout for an approved submission and closes the
// demand. Amount defaults to the demand's reward when nil.
func (e Engine) MarkPaid(ctx context.Context, id int64, amount *decimal.Decimal, actorID string) (domain.Submission, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Submission{}, err
	}
	defer tx.Rollback()

	s, err := e.Repo.GetSubmissionTx(ctx, tx, id)
	if err != nil {
		return domain.Submission{}, err
	}
	d, err := e.Repo.GetDemandTx(ctx, tx, s.DemandID)
	if err != nil {
		return domain.Submission{}, err
	}
	if err := domain.EnsureSubmissionTransition(s.Status, domain.SubmissionPaid); err != nil {
		return domain.Submission{}, &StateConflictError{Entity: "submission", ID: s.Code, Status: string(s.Status), Op: "mark paid"}
	}
	now := e.now().UTC().Format(time.RFC3339)
	s.Status = domain.SubmissionPaid
	s.PaidAt = &now
	if amount != nil {
		if amount.IsNegative() || amount.IsZero() {
			return domain.Submission{}, &ValidationError{Field: "amount", Msg: "must be positive"}
		}
		s.PaidAmount = amount
	} else {
		reward := d.Reward
		s.PaidAmount = &reward
	}
	if err := e.Repo.UpdateSubmissionTx(ctx, tx, s); err != nil {
		return domain.Submission{}, err
	}
	if err := e.demandStatusTx(ctx, tx, &d, domain.DemandClosed, now); err != nil {
		return domain.Submission{}, err
	}
	if err := e.Events.Append(ctx, tx, "submission.paid", d.ID, "submission", s.Code, actorID, events.EventPayload{"amount": s.PaidAmount.String()}); err != nil {
		return domain.Submission{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Submission{}, err
	}
	return s, nil
}

// SweepExpired expires every notified submission past its deadline and
// promotes successors. Returns the number of submissions expired. Each
// expiry runs in its own transaction so one failure does not stall the rest.
func (e Engine) SweepExpired(ctx context.Context) (int, error) {
	due, err := e.Repo.ListDueNotified(ctx, e.now().UTC().Format(time.RFC3339))
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, s := range due {
		if err := e.expireOne(ctx, s.ID); err != nil {
			e.Log.Warn().Err(err).Str("code", s.Code).Msg("expiry failed")
			continue
		}
		expired++
	}
	return expired, nil
}

func (e Engine) expireOne(ctx context.Context, id int64) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	s, err := e.Repo.GetSubmissionTx(ctx, tx, id)
	if err != nil {
		return err
	}
	if s.Status != domain.SubmissionNotified {
		// Already resolved between the scan and now.
		return nil
	}
	d, err := e.Repo.GetDemandTx(ctx, tx, s.DemandID)
	if err != nil {
		return err
	}
	now := e.now().UTC().Format(time.RFC3339)
	evts, err := e.expireAndPromoteTx(ctx, tx, &d, &s, now, "system")
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.dispatch(ctx, evts)
	return nil
}

// expireAndPromoteTx transitions a notified submission past deadline to
// expired and hands the slot to the next queued participant.
func (e Engine) expireAndPromoteTx(ctx context.Context, tx *sql.Tx, d *domain.Demand, s *domain.Submission, now, actorID string) ([]notify.Event, error) {
	if err := domain.EnsureSubmissionTransition(s.Status, domain.SubmissionExpired); err != nil {
		return nil, err
	}
	s.Status = domain.SubmissionExpired
	s.AnalyzedAt = &now
	if err := e.Repo.UpdateSubmissionTx(ctx, tx, *s); err != nil {
		return nil, err
	}
	if err := e.Events.Append(ctx, tx, "submission.expired", d.ID, "submission", s.Code, actorID, nil); err != nil {
		return nil, err
	}
	return e.promoteNextTx(ctx, tx, *d, now, actorID)
}

// promoteNextTx hands the slot to the oldest queued submission, if any:
// status notified, deadline one upload window out, turn-available
// notification queued for dispatch after commit.
func (e Engine) promoteNextTx(ctx context.Context, tx *sql.Tx, d domain.Demand, now, actorID string) ([]notify.Event, error) {
	next, err := e.Repo.NextQueuedTx(ctx, tx, d.ID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := domain.EnsureSubmissionTransition(next.Status, domain.SubmissionNotified); err != nil {
		return nil, err
	}
	nowT, err := time.Parse(time.RFC3339, now)
	if err != nil {
		nowT = e.now().UTC()
	}
	deadline := nowT.Add(e.Config.UploadWindow()).UTC().Format(time.RFC3339)
	next.Status = domain.SubmissionNotified
	next.NotifiedAt = &now
	next.DeadlineAt = &deadline
	if err := e.Repo.UpdateSubmissionTx(ctx, tx, next); err != nil {
		return nil, err
	}
	if err := e.Events.Append(ctx, tx, "submission.promoted", d.ID, "submission", next.Code, actorID, events.EventPayload{"deadline_at": deadline}); err != nil {
		return nil, err
	}
	return []notify.Event{{Kind: notify.KindTurnAvailable, Demand: d, Submission: next}}, nil
}

// demandStatusTx applies a demand status transition, tolerating no-ops.
func (e Engine) demandStatusTx(ctx context.Context, tx *sql.Tx, d *domain.Demand, to domain.DemandStatus, now string) error {
	if d.Status == to {
		return nil
	}
	if err := domain.EnsureDemandTransition(d.Status, to); err != nil {
		return err
	}
	d.Status = to
	d.UpdatedAt = now
	return e.Repo.UpdateDemandStatusTx(ctx, tx, d.ID, to, now)
}
