package notify

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// NormalizeHandle strips spaces, hyphens, and parentheses from a phone
// handle and prefixes the country code when the number looks local (10 or 11
// digits).
func NormalizeHandle(handle, countryCode string) string {
	var digits strings.Builder
	for _, r := range handle {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	n := digits.String()
	if countryCode != "" && !strings.HasPrefix(n, countryCode) && (len(n) == 10 || len(n) == 11) {
		n = countryCode + n
	}
	return n
}

// Link builds a wa.me deep link with the message pre-filled.
func Link(baseURL, number, text string) string {
	return fmt.Sprintf("%s/%s?text=%s", strings.TrimSuffix(baseURL, "/"), number, url.QueryEscape(text))
}

// WhatsAppChannel produces deep links for staff to forward. It does not send
// anything itself: the rendered link is logged so an operator can act on it.
type WhatsAppChannel struct {
	BaseURL        string
	CountryCode    string
	ServiceBaseURL string
	Currency       string
	Location       *time.Location
	Log            zerolog.Logger
}

func (w *WhatsAppChannel) Notify(ctx context.Context, evt Event) error {
	number := NormalizeHandle(evt.Submission.Handle, w.CountryCode)
	if number == "" {
		return &DeliveryError{Channel: "whatsapp", Kind: evt.Kind, Err: fmt.Errorf("handle %q has no digits", evt.Submission.Handle)}
	}
	link := Link(w.BaseURL, number, w.message(evt))
	w.Log.Info().
		Str("kind", string(evt.Kind)).
		Str("code", evt.Submission.Code).
		Str("link", link).
		Msg("whatsapp link ready")
	return nil
}

func (w *WhatsAppChannel) message(evt Event) string {
	name := firstName(evt.Submission.Name)
	switch evt.Kind {
	case KindQueueEntry:
		return fmt.Sprintf("Olá %s! Recebemos sua inscrição na demanda %q (%s). Seu código é %s e sua posição na fila é %d. Avisaremos quando chegar a sua vez.",
			name, evt.Demand.Title, evt.Demand.NoticeNumber, evt.Submission.Code, evt.Position)
	case KindTurnAvailable:
		deadline := ""
		if evt.Submission.DeadlineAt != nil {
			deadline = FormatDeadline(*evt.Submission.DeadlineAt, w.Location)
		}
		upload := UploadLink(w.ServiceBaseURL, evt.Submission.ID)
		return fmt.Sprintf("Olá %s! Chegou a sua vez na demanda %q (%s). Envie o comprovante %s em %s até %s. A recompensa é de %s.",
			name, evt.Demand.Title, evt.Demand.NoticeNumber, evt.Submission.Code, upload, deadline, formatMoney(evt.Demand.Reward, w.Currency))
	case KindRejected:
		return fmt.Sprintf("Olá %s! O comprovante %s da demanda %q foi recusado. Motivo: %s.",
			name, evt.Submission.Code, evt.Demand.Title, evt.Reason)
	case KindClosed:
		return fmt.Sprintf("Olá %s! A demanda %q foi encerrada: outro comprovante foi selecionado. Obrigado pela participação.",
			name, evt.Demand.Title)
	}
	return fmt.Sprintf("Olá %s! Atualização sobre o comprovante %s da demanda %q.", name, evt.Submission.Code, evt.Demand.Title)
}

func formatMoney(amount decimal.Decimal, currency string) string {
	return fmt.Sprintf("%s %s", currency, amount.StringFixed(2))
}
