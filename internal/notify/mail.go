package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"
)

// Mailer sends a single message. SMTPMailer is the production
// implementation; tests substitute a recorder.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

type SMTPMailer struct {
	Host     string
	Port     int
	From     string
	Username string
	Password string
}

func (m *SMTPMailer) Send(ctx context.Context, to, subject, body string) error {
	addr := fmt.Sprintf("%s:%d", m.Host, m.Port)
	var auth smtp.Auth
	if m.Username != "" {
		auth = smtp.PlainAuth("", m.Username, m.Password, m.Host)
	}
	msg := strings.Join([]string{
		"From: " + m.From,
		"To: " + to,
		"Subject: " + subject,
		"MIME-Version: 1.0",
		`Content-Type: text/plain; charset="utf-8"`,
		"",
		body,
	}, "\r\n")
	return smtp.SendMail(addr, auth, m.From, []string{to}, []byte(msg))
}

// MailChannel sends participant email for each event. Submissions without an
// email address are skipped silently; email is optional at signup.
type MailChannel struct {
	Mailer         Mailer
	ServiceBaseURL string
	Currency       string
	Location       *time.Location
}

func (m *MailChannel) Notify(ctx context.Context, evt Event) error {
	if evt.Submission.Email == "" {
		return nil
	}
	subject, body := m.compose(evt)
	if err := m.Mailer.Send(ctx, evt.Submission.Email, subject, body); err != nil {
		return &DeliveryError{Channel: "mail", Kind: evt.Kind, Err: err}
	}
	return nil
}

func (m *MailChannel) compose(evt Event) (subject, body string) {
	name := firstName(evt.Submission.Name)
	switch evt.Kind {
	case KindQueueEntry:
		subject = fmt.Sprintf("Inscrição recebida — %s", evt.Submission.Code)
		body = fmt.Sprintf("Olá %s,\n\nRecebemos sua inscrição na demanda %q (edital %s).\nSeu código é %s e sua posição na fila é %d.\nAvisaremos quando chegar a sua vez.\n",
			name, evt.Demand.Title, evt.Demand.NoticeNumber, evt.Submission.Code, evt.Position)
	case KindTurnAvailable:
		deadline := ""
		if evt.Submission.DeadlineAt != nil {
			deadline = FormatDeadline(*evt.Submission.DeadlineAt, m.Location)
		}
		subject = fmt.Sprintf("Sua vez chegou — %s", evt.Demand.Title)
		body = fmt.Sprintf("Olá %s,\n\nChegou a sua vez na demanda %q (edital %s).\nEnvie o comprovante %s em %s até %s.\nA recompensa é de %s.\n",
			name, evt.Demand.Title, evt.Demand.NoticeNumber, evt.Submission.Code,
			UploadLink(m.ServiceBaseURL, evt.Submission.ID), deadline, formatMoney(evt.Demand.Reward, m.Currency))
	case KindRejected:
		subject = fmt.Sprintf("Comprovante recusado — %s", evt.Submission.Code)
		body = fmt.Sprintf("Olá %s,\n\nO comprovante %s da demanda %q foi recusado.\nMotivo: %s\n",
			name, evt.Submission.Code, evt.Demand.Title, evt.Reason)
	case KindClosed:
		subject = fmt.Sprintf("Demanda encerrada — %s", evt.Demand.Title)
		body = fmt.Sprintf("Olá %s,\n\nA demanda %q foi encerrada: outro comprovante foi selecionado.\nObrigado pela participação.\n",
			name, evt.Demand.Title)
	default:
		subject = fmt.Sprintf("Atualização — %s", evt.Submission.Code)
		body = fmt.Sprintf("Olá %s,\n\nHouve uma atualização no comprovante %s da demanda %q.\n",
			name, evt.Submission.Code, evt.Demand.Title)
	}
	return subject, body
}
