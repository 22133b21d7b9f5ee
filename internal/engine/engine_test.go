package engine_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"examline/internal/config"
	"examline/internal/db"
	"examline/internal/domain"
	"examline/internal/engine"
	"examline/internal/migrate"
	"examline/internal/notify"
)

type recorder struct {
	events []notify.Event
}

func (r *recorder) Notify(ctx context.Context, evt notify.Event) error {
	r.events = append(r.events, evt)
	return nil
}

func (r *recorder) ofKind(kind notify.Kind) []notify.Event {
	var out []notify.Event
	for _, e := range r.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

type testEnv struct {
	Engine   engine.Engine
	Ctx      context.Context
	Now      *time.Time
	Notified *recorder
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	eng := engine.New(conn, cfg, zerolog.Nop())
	now := time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC)
	env := &testEnv{Ctx: context.Background(), Now: &now}
	eng.Now = func() time.Time { return *env.Now }
	rec := &recorder{}
	eng.Notify = &notify.Dispatcher{Channels: []notify.Notifier{rec}, Log: zerolog.Nop()}
	env.Engine = eng
	env.Notified = rec
	return env
}

func (env *testEnv) advance(d time.Duration) {
	*env.Now = env.Now.Add(d)
}

func (env *testEnv) createDemand(t *testing.T) domain.Demand {
	t.Helper()
	d, err := env.Engine.CreateDemand(env.Ctx, engine.DemandCreateOptions{
		Title:        "Auditor Fiscal",
		NoticeNumber: "01/2026",
		Authority:    "FCC",
		Reward:       decimal.NewFromInt(150),
		ActorID:      "staff",
	})
	if err != nil {
		t.Fatalf("create demand: %v", err)
	}
	return d
}

func (env *testEnv) submit(t *testing.T, demandID, name, handle string) (domain.Submission, int) {
	t.Helper()
	s, pos, err := env.Engine.CreateSubmission(env.Ctx, engine.SubmissionCreateOptions{
		DemandID:  demandID,
		Name:      name,
		Handle:    handle,
		PayoutKey: handle + "@pix",
		ActorID:   "public",
	})
	if err != nil {
		t.Fatalf("submit %s: %v", name, err)
	}
	return s, pos
}

func TestFirstSubmissionSkipsQueue(t *testing.T) {
	env := newTestEnv(t)
	d := env.createDemand(t)

	a, pos := env.submit(t, d.ID, "Ana Silva", "11 98888-0001")
	if a.Status != domain.SubmissionInReview {
		t.Fatalf("first submission status = %s, want in_review", a.Status)
	}
	if pos != 1 {
		t.Fatalf("position = %d, want 1", pos)
	}
	got, err := env.Engine.Repo.GetDemand(env.Ctx, d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.DemandUnderReview {
		t.Fatalf("demand status = %s, want under_review", got.Status)
	}
	// The direct entrant already holds the slot; the "we will call you"
	// queue-entry message would be wrong for them.
	if n := len(env.Notified.ofKind(notify.KindQueueEntry)); n != 0 {
		t.Fatalf("queue-entry notifications = %d, want 0 for a direct entrant", n)
	}
}

func TestLaterSubmissionsQueueInArrivalOrder(t *testing.T) {
	env := newTestEnv(t)
	d := env.createDemand(t)

	env.submit(t, d.ID, "Ana", "11 98888-0001")
	b, posB := env.submit(t, d.ID, "Bruno", "11 98888-0002")
	c, posC := env.submit(t, d.ID, "Carla", "11 98888-0003")

	if b.Status != domain.SubmissionQueued || c.Status != domain.SubmissionQueued {
		t.Fatalf("expected queued statuses, got %s/%s", b.Status, c.Status)
	}
	if posB != 2 || posC != 3 {
		t.Fatalf("positions = %d,%d, want 2,3", posB, posC)
	}
	// Same frozen clock means identical created_at; lower id wins the tie.
	if b.ID >= c.ID {
		t.Fatalf("expected b.ID < c.ID")
	}
	// Only the two queued arrivals are told to wait; the first entrant went
	// straight into review.
	entries := env.Notified.ofKind(notify.KindQueueEntry)
	if len(entries) != 2 {
		t.Fatalf("queue-entry notifications = %d, want 2", len(entries))
	}
}

func TestRejectPromotesNextQueued(t *testing.T) {
	env := newTestEnv(t)
	d := env.createDemand(t)
	a, _ := env.submit(t, d.ID, "Ana", "11 98888-0001")
	b, _ := env.submit(t, d.ID, "Bruno", "11 98888-0002")

	rejected, err := env.Engine.Reject(env.Ctx, a.ID, "proof unreadable", "staff")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.Status != domain.SubmissionRejected {
		t.Fatalf("status = %s, want rejected", rejected.Status)
	}
	if rejected.Note == nil || *rejected.Note != "proof unreadable" {
		t.Fatalf("note not stored")
	}

	got, err := env.Engine.Repo.GetDemand(env.Ctx, d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.DemandOpen {
		t.Fatalf("demand status = %s, want open", got.Status)
	}

	promoted, err := env.Engine.Repo.GetSubmission(env.Ctx, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if promoted.Status != domain.SubmissionNotified {
		t.Fatalf("successor status = %s, want notified", promoted.Status)
	}
	if promoted.DeadlineAt == nil {
		t.Fatal("deadline not set")
	}
	deadline, _ := time.Parse(time.RFC3339, *promoted.DeadlineAt)
	want := env.Now.Add(time.Hour)
	if !deadline.Equal(want) {
		t.Fatalf("deadline = %v, want %v", deadline, want)
	}
	if n := len(env.Notified.ofKind(notify.KindTurnAvailable)); n != 1 {
		t.Fatalf("turn-available notifications = %d, want 1", n)
	}
	if n := len(env.Notified.ofKind(notify.KindRejected)); n != 1 {
		t.Fatalf("rejected notifications = %d, want 1", n)
	}
}

func TestSweepExpiresOverdueAndIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	d := env.createDemand(t)
	a, _ := env.submit(t, d.ID, "Ana", "11 98888-0001")
	b, _ := env.submit(t, d.ID, "Bruno", "11 98888-0002")

	if _, err := env.Engine.Reject(env.Ctx, a.ID, "bad proof", "staff"); err != nil {
		t.Fatal(err)
	}
	env.advance(61 * time.Minute)

	n, err := env.Engine.SweepExpired(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expired = %d, want 1", n)
	}
	expired, _ := env.Engine.Repo.GetSubmission(env.Ctx, b.ID)
	if expired.Status != domain.SubmissionExpired {
		t.Fatalf("status = %s, want expired", expired.Status)
	}
	// Queue empty: demand stays open with no active slot.
	got, _ := env.Engine.Repo.GetDemand(env.Ctx, d.ID)
	if got.Status != domain.DemandOpen {
		t.Fatalf("demand status = %s, want open", got.Status)
	}
	active, _ := env.Engine.Repo.ListActiveSubmissions(env.Ctx, d.ID)
	if len(active) != 0 {
		t.Fatalf("active submissions = %d, want 0", len(active))
	}

	// Second sweep has nothing left to do.
	n, err = env.Engine.SweepExpired(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("second sweep expired = %d, want 0", n)
	}
}

func TestFirstSubmissionRuleResetsAfterSlotClears(t *testing.T) {
	env := newTestEnv(t)
	d := env.createDemand(t)
	a, _ := env.submit(t, d.ID, "Ana", "11 98888-0001")
	if _, err := env.Engine.Reject(env.Ctx, a.ID, "bad proof", "staff"); err != nil {
		t.Fatal(err)
	}

	// Queue is empty and demand is open again: next arrival skips queueing.
	c, pos := env.submit(t, d.ID, "Carla", "11 98888-0003")
	if c.Status != domain.SubmissionInReview {
		t.Fatalf("status = %s, want in_review", c.Status)
	}
	if pos != 1 {
		t.Fatalf("position = %d, want 1", pos)
	}
}

func TestApproveClosesOutCompetitors(t *testing.T) {
	env := newTestEnv(t)
	d := env.createDemand(t)
	a, _ := env.submit(t, d.ID, "Ana", "11 98888-0001")
	b, _ := env.submit(t, d.ID, "Bruno", "11 98888-0002")
	c, _ := env.submit(t, d.ID, "Carla", "11 98888-0003")

	approved, err := env.Engine.Approve(env.Ctx, a.ID, "", "staff")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.Status != domain.SubmissionApproved {
		t.Fatalf("status = %s, want approved", approved.Status)
	}
	if approved.AnalyzedAt == nil {
		t.Fatal("analyzed_at not set")
	}

	for _, id := range []int64{b.ID, c.ID} {
		loser, _ := env.Engine.Repo.GetSubmission(env.Ctx, id)
		if loser.Status != domain.SubmissionRejected {
			t.Fatalf("competitor %d status = %s, want rejected", id, loser.Status)
		}
		if loser.Note == nil || *loser.Note == "" {
			t.Fatalf("competitor %d missing close-out note", id)
		}
	}
	if n := len(env.Notified.ofKind(notify.KindClosed)); n != 2 {
		t.Fatalf("close-out notifications = %d, want 2", n)
	}

	// Demand closes only once payment lands.
	got, _ := env.Engine.Repo.GetDemand(env.Ctx, d.ID)
	if got.Status != domain.DemandUnderReview {
		t.Fatalf("demand status = %s, want under_review", got.Status)
	}
	paid, err := env.Engine.MarkPaid(env.Ctx, a.ID, nil, "staff")
	if err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	if paid.Status != domain.SubmissionPaid {
		t.Fatalf("status = %s, want paid", paid.Status)
	}
	if paid.PaidAmount == nil || !paid.PaidAmount.Equal(decimal.NewFromInt(150)) {
		t.Fatalf("paid amount should default to demand reward")
	}
	got, _ = env.Engine.Repo.GetDemand(env.Ctx, d.ID)
	if got.Status != domain.DemandClosed {
		t.Fatalf("demand status = %s, want closed", got.Status)
	}
}

func TestDuplicateHandleRejected(t *testing.T) {
	env := newTestEnv(t)
	d := env.createDemand(t)
	env.submit(t, d.ID, "Ana", "11 98888-0001")
	b, _ := env.submit(t, d.ID, "Bruno", "11 98888-0002")

	_, _, err := env.Engine.CreateSubmission(env.Ctx, engine.SubmissionCreateOptions{
		DemandID:  d.ID,
		Name:      "Bruno Again",
		Handle:    "11 98888-0002",
		PayoutKey: "other@pix",
		ActorID:   "public",
	})
	var dup *engine.DuplicateSubmissionError
	if !errors.As(err, &dup) {
		t.Fatalf("err = %v, want DuplicateSubmissionError", err)
	}
	if dup.Code != b.Code {
		t.Fatalf("dup code = %s, want %s", dup.Code, b.Code)
	}
	if dup.Position != 2 {
		t.Fatalf("dup position = %d, want 2", dup.Position)
	}
}

func TestCodeFormatAndDailySequence(t *testing.T) {
	env := newTestEnv(t)
	d := env.createDemand(t)

	a, _ := env.submit(t, d.ID, "Ana", "11 98888-0001")
	b, _ := env.submit(t, d.ID, "Bruno", "11 98888-0002")
	// Clock frozen at 2026-08-27; the config timezone is UTC-3, so the
	// participant-facing date is still the 27th.
	if a.Code != "2708260001" {
		t.Fatalf("first code = %s, want 2708260001", a.Code)
	}
	if b.Code != "2708260002" {
		t.Fatalf("second code = %s, want 2708260002", b.Code)
	}
}

func TestConcurrentCreationsGetDistinctCodes(t *testing.T) {
	env := newTestEnv(t)
	d := env.createDemand(t)

	const n = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	codes := make(map[string]bool, n)
	var errs []error
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, _, err := env.Engine.CreateSubmission(env.Ctx, engine.SubmissionCreateOptions{
				DemandID:  d.ID,
				Name:      fmt.Sprintf("Participante %d", i),
				Handle:    fmt.Sprintf("11 98888-00%02d", i),
				PayoutKey: fmt.Sprintf("p%d@pix", i),
				ActorID:   "public",
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			codes[s.Code] = true
		}(i)
	}
	wg.Wait()

	if len(errs) != 0 {
		t.Fatalf("%d of %d concurrent creations failed, first: %v", len(errs), n, errs[0])
	}
	if len(codes) != n {
		t.Fatalf("distinct codes = %d, want %d", len(codes), n)
	}
}

func TestDoubleApprovalConflicts(t *testing.T) {
	env := newTestEnv(t)
	d := env.createDemand(t)
	a, _ := env.submit(t, d.ID, "Ana", "11 98888-0001")

	if _, err := env.Engine.Approve(env.Ctx, a.ID, "", "staff"); err != nil {
		t.Fatalf("first approve: %v", err)
	}
	_, err := env.Engine.Approve(env.Ctx, a.ID, "", "staff")
	var conflict *engine.StateConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("second approve err = %v, want StateConflictError", err)
	}
	// The conflicting call must not have mutated anything.
	got, err := env.Engine.Repo.GetSubmission(env.Ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.SubmissionApproved {
		t.Fatalf("status after conflict = %s, want approved", got.Status)
	}
}

func TestCodeSequencePastDailyLimitWidens(t *testing.T) {
	env := newTestEnv(t)
	d := env.createDemand(t)

	// Seed the day at its four-digit ceiling plus one already-widened code.
	now := env.Now.Format(time.RFC3339)
	for i, code := range []string{"2708269999", "27082610000"} {
		_, err := env.Engine.DB.Exec(`INSERT INTO submissions(demand_id,name,handle,payout_key,code,status,created_at) VALUES (?,?,?,?,?,?,?)`,
			d.ID, fmt.Sprintf("Seed %d", i), fmt.Sprintf("5511977770%03d", i), "seed@pix", code, "rejected", now)
		if err != nil {
			t.Fatalf("seed code %s: %v", code, err)
		}
	}

	s, _ := env.submit(t, d.ID, "Ana", "11 98888-0001")
	if s.Code != "27082610001" {
		t.Fatalf("code = %s, want 27082610001", s.Code)
	}
}

func TestDuplicateHandleDetectedAcrossFormats(t *testing.T) {
	env := newTestEnv(t)
	d := env.createDemand(t)
	b, _ := env.submit(t, d.ID, "Bruno", "(11) 98888-0002")

	// Same number, different formatting: still one live submission.
	_, _, err := env.Engine.CreateSubmission(env.Ctx, engine.SubmissionCreateOptions{
		DemandID:  d.ID,
		Name:      "Bruno Again",
		Handle:    "11 98888 0002",
		PayoutKey: "other@pix",
		ActorID:   "public",
	})
	var dup *engine.DuplicateSubmissionError
	if !errors.As(err, &dup) {
		t.Fatalf("err = %v, want DuplicateSubmissionError", err)
	}
	if dup.Code != b.Code {
		t.Fatalf("dup code = %s, want %s", dup.Code, b.Code)
	}

	// A handle with no digits cannot receive the turn notification.
	_, _, err = env.Engine.CreateSubmission(env.Ctx, engine.SubmissionCreateOptions{
		DemandID:  d.ID,
		Name:      "Sem Telefone",
		Handle:    "not-a-number",
		PayoutKey: "x@pix",
		ActorID:   "public",
	})
	var ve *engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
}

func TestCodeSequenceRollsOverAtLocalMidnight(t *testing.T) {
	env := newTestEnv(t)
	d := env.createDemand(t)
	env.submit(t, d.ID, "Ana", "11 98888-0001")

	env.advance(24 * time.Hour)
	b, _ := env.submit(t, d.ID, "Bruno", "11 98888-0002")
	if b.Code != "2808260001" {
		t.Fatalf("next-day code = %s, want 2808260001", b.Code)
	}
}

func TestAttachProofFlow(t *testing.T) {
	env := newTestEnv(t)
	d := env.createDemand(t)
	a, _ := env.submit(t, d.ID, "Ana", "11 98888-0001")
	b, _ := env.submit(t, d.ID, "Bruno", "11 98888-0002")
	if _, err := env.Engine.Reject(env.Ctx, a.ID, "bad proof", "staff"); err != nil {
		t.Fatal(err)
	}

	// B was promoted to notified; uploading moves it to awaiting_review.
	s, err := env.Engine.AttachProof(env.Ctx, b.ID, "/tmp/proof.pdf", "public")
	if err != nil {
		t.Fatalf("attach proof: %v", err)
	}
	if s.Status != domain.SubmissionAwaitingReview {
		t.Fatalf("status = %s, want awaiting_review", s.Status)
	}
	got, _ := env.Engine.Repo.GetDemand(env.Ctx, d.ID)
	if got.Status != domain.DemandUnderReview {
		t.Fatalf("demand status = %s, want under_review", got.Status)
	}

	reviewed, err := env.Engine.StartReview(env.Ctx, b.ID, "staff")
	if err != nil {
		t.Fatalf("start review: %v", err)
	}
	if reviewed.Status != domain.SubmissionInReview {
		t.Fatalf("status = %s, want in_review", reviewed.Status)
	}
}

func TestAttachProofAfterDeadlineExpires(t *testing.T) {
	env := newTestEnv(t)
	d := env.createDemand(t)
	a, _ := env.submit(t, d.ID, "Ana", "11 98888-0001")
	b, _ := env.submit(t, d.ID, "Bruno", "11 98888-0002")
	c, _ := env.submit(t, d.ID, "Carla", "11 98888-0003")
	if _, err := env.Engine.Reject(env.Ctx, a.ID, "bad proof", "staff"); err != nil {
		t.Fatal(err)
	}

	env.advance(2 * time.Hour)
	_, err := env.Engine.AttachProof(env.Ctx, b.ID, "/tmp/late.pdf", "public")
	var conflict *engine.StateConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("err = %v, want StateConflictError", err)
	}
	expired, _ := env.Engine.Repo.GetSubmission(env.Ctx, b.ID)
	if expired.Status != domain.SubmissionExpired {
		t.Fatalf("status = %s, want expired", expired.Status)
	}
	// The lazy expiry promoted the next queued participant.
	promoted, _ := env.Engine.Repo.GetSubmission(env.Ctx, c.ID)
	if promoted.Status != domain.SubmissionNotified {
		t.Fatalf("successor status = %s, want notified", promoted.Status)
	}
}

func TestSingleActiveAnalysisSlot(t *testing.T) {
	env := newTestEnv(t)
	d := env.createDemand(t)
	env.submit(t, d.ID, "Ana", "11 98888-0001")
	env.submit(t, d.ID, "Bruno", "11 98888-0002")
	env.submit(t, d.ID, "Carla", "11 98888-0003")

	active, err := env.Engine.Repo.ListActiveSubmissions(env.Ctx, d.ID)
	if err != nil {
		t.Fatal(err)
	}
	inAnalysis := 0
	for _, s := range active {
		if s.Status.InAnalysis() {
			inAnalysis++
		}
	}
	if inAnalysis != 1 {
		t.Fatalf("submissions in analysis = %d, want 1", inAnalysis)
	}
}

func TestRejectRequiresReason(t *testing.T) {
	env := newTestEnv(t)
	d := env.createDemand(t)
	a, _ := env.submit(t, d.ID, "Ana", "11 98888-0001")

	_, err := env.Engine.Reject(env.Ctx, a.ID, "  ", "staff")
	var ve *engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
}

func TestClosedDemandRefusesSubmissions(t *testing.T) {
	env := newTestEnv(t)
	d := env.createDemand(t)
	a, _ := env.submit(t, d.ID, "Ana", "11 98888-0001")
	if _, err := env.Engine.Approve(env.Ctx, a.ID, "", "staff"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.MarkPaid(env.Ctx, a.ID, nil, "staff"); err != nil {
		t.Fatal(err)
	}

	_, _, err := env.Engine.CreateSubmission(env.Ctx, engine.SubmissionCreateOptions{
		DemandID:  d.ID,
		Name:      "Late",
		Handle:    "11 98888-0009",
		PayoutKey: "late@pix",
		ActorID:   "public",
	})
	var conflict *engine.StateConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("err = %v, want StateConflictError", err)
	}
}
