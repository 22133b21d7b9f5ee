package notify_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"examline/internal/domain"
	"examline/internal/notify"
)

func TestNormalizeHandle(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"(11) 98888-0001", "5511988880001"},
		{"11 98888 0001", "5511988880001"},
		{"5511988880001", "5511988880001"},
		{"3222-0001", "32220001"},
		{"", ""},
	}
	for _, c := range cases {
		if got := notify.NormalizeHandle(c.in, "55"); got != c.want {
			t.Errorf("NormalizeHandle(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestLinkEncodesMessage(t *testing.T) {
	link := notify.Link("https://wa.me", "5511988880001", "Olá Ana! Sua vez chegou.")
	if !strings.HasPrefix(link, "https://wa.me/5511988880001?text=") {
		t.Fatalf("unexpected link prefix: %s", link)
	}
	if strings.ContainsAny(strings.TrimPrefix(link, "https://wa.me/5511988880001?text="), " á!") {
		t.Fatalf("message not percent-encoded: %s", link)
	}
}

func TestFormatDeadlineUsesFixedZone(t *testing.T) {
	loc := time.FixedZone("BRT", -3*3600)
	got := notify.FormatDeadline("2026-08-27T18:30:00Z", loc)
	if got != "27/08/2026 às 15:30" {
		t.Fatalf("FormatDeadline = %q", got)
	}
}

type mailRecorder struct {
	to      []string
	bodies  []string
	failFor string
}

func (m *mailRecorder) Send(ctx context.Context, to, subject, body string) error {
	if to == m.failFor {
		return errors.New("smtp unavailable")
	}
	m.to = append(m.to, to)
	m.bodies = append(m.bodies, body)
	return nil
}

func testEvent(kind notify.Kind, email string) notify.Event {
	deadline := "2026-08-27T18:30:00Z"
	return notify.Event{
		Kind: kind,
		Demand: domain.Demand{
			ID:           "d1",
			Title:        "Auditor Fiscal",
			NoticeNumber: "01/2026",
			Reward:       decimal.NewFromInt(150),
		},
		Submission: domain.Submission{
			ID:         7,
			Name:       "Ana Silva",
			Handle:     "(11) 98888-0001",
			Email:      email,
			Code:       "2708260001",
			DeadlineAt: &deadline,
		},
		Position: 2,
		Reason:   "proof unreadable",
	}
}

func TestMailChannelSkipsMissingEmail(t *testing.T) {
	rec := &mailRecorder{}
	ch := &notify.MailChannel{Mailer: rec, ServiceBaseURL: "http://localhost:8080", Currency: "BRL"}
	if err := ch.Notify(context.Background(), testEvent(notify.KindQueueEntry, "")); err != nil {
		t.Fatalf("expected silent skip, got %v", err)
	}
	if len(rec.to) != 0 {
		t.Fatal("mail sent despite missing address")
	}
}

func TestMailChannelTurnAvailableIncludesUploadLink(t *testing.T) {
	rec := &mailRecorder{}
	ch := &notify.MailChannel{Mailer: rec, ServiceBaseURL: "http://localhost:8080", Currency: "BRL"}
	if err := ch.Notify(context.Background(), testEvent(notify.KindTurnAvailable, "ana@example.com")); err != nil {
		t.Fatal(err)
	}
	if len(rec.bodies) != 1 {
		t.Fatal("mail not sent")
	}
	if !strings.Contains(rec.bodies[0], "http://localhost:8080/v1/submissions/7/proof") {
		t.Fatalf("body missing upload link: %s", rec.bodies[0])
	}
	if !strings.Contains(rec.bodies[0], "2708260001") {
		t.Fatal("body missing code")
	}
}

func TestMailChannelWrapsDeliveryError(t *testing.T) {
	rec := &mailRecorder{failFor: "ana@example.com"}
	ch := &notify.MailChannel{Mailer: rec, ServiceBaseURL: "http://localhost:8080", Currency: "BRL"}
	err := ch.Notify(context.Background(), testEvent(notify.KindRejected, "ana@example.com"))
	var de *notify.DeliveryError
	if !errors.As(err, &de) {
		t.Fatalf("err = %v, want DeliveryError", err)
	}
	if de.Channel != "mail" {
		t.Fatalf("channel = %s", de.Channel)
	}
}

type flakyChannel struct {
	calls int
	fail  bool
}

func (f *flakyChannel) Notify(ctx context.Context, evt notify.Event) error {
	f.calls++
	if f.fail {
		return errors.New("down")
	}
	return nil
}

func TestDispatcherIsolatesFailures(t *testing.T) {
	bad := &flakyChannel{fail: true}
	good := &flakyChannel{}
	d := &notify.Dispatcher{Channels: []notify.Notifier{bad, good}, Log: zerolog.Nop()}

	d.Dispatch(context.Background(), []notify.Event{
		testEvent(notify.KindClosed, ""),
		testEvent(notify.KindClosed, ""),
	})
	if bad.calls != 2 || good.calls != 2 {
		t.Fatalf("calls = %d/%d, want 2/2; one failing channel must not block the batch", bad.calls, good.calls)
	}
}

func TestWhatsAppChannelRendersLink(t *testing.T) {
	ch := &notify.WhatsAppChannel{
		BaseURL:        "https://wa.me",
		CountryCode:    "55",
		ServiceBaseURL: "http://localhost:8080",
		Currency:       "BRL",
		Log:            zerolog.Nop(),
	}
	if err := ch.Notify(context.Background(), testEvent(notify.KindTurnAvailable, "")); err != nil {
		t.Fatalf("notify: %v", err)
	}
	// A handle with no digits cannot be addressed.
	evt := testEvent(notify.KindTurnAvailable, "")
	evt.Submission.Handle = "not-a-number"
	err := ch.Notify(context.Background(), evt)
	var de *notify.DeliveryError
	if !errors.As(err, &de) {
		t.Fatalf("err = %v, want DeliveryError", err)
	}
}
