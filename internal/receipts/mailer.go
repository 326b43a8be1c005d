package receipts

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/lumenfund/giving-backend/pkg/config"
	"github.com/lumenfund/giving-backend/pkg/enums"
)

// Mailer delivers rendered receipts.
type Mailer interface {
	Send(ctx context.Context, receipt Receipt) error
}

// SMTPMailer sends plain-text receipts over authenticated SMTP.
type SMTPMailer struct {
	cfg config.SMTPConfig
}

// NewSMTPMailer validates the SMTP settings and returns a mailer.
func NewSMTPMailer(cfg config.SMTPConfig) (*SMTPMailer, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, fmt.Errorf("smtp host required")
	}
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("smtp port required")
	}
	if strings.TrimSpace(cfg.FromEmail) == "" {
		return nil, fmt.Errorf("smtp from address required")
	}
	return &SMTPMailer{cfg: cfg}, nil
}

// Send delivers one receipt email.
func (m *SMTPMailer) Send(ctx context.Context, receipt Receipt) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	to := strings.TrimSpace(receipt.Email)
	if to == "" {
		return fmt.Errorf("receipt email required")
	}

	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}
	return smtp.SendMail(m.cfg.Addr(), auth, m.cfg.FromEmail, []string{to}, buildMessage(m.cfg, receipt))
}

func buildMessage(cfg config.SMTPConfig, receipt Receipt) []byte {
	subject, body := renderReceipt(receipt)

	from := cfg.FromEmail
	if name := strings.TrimSpace(cfg.FromName); name != "" {
		from = fmt.Sprintf("%s <%s>", name, cfg.FromEmail)
	}

	var b strings.Builder
	b.WriteString("Subject: " + subject + "\r\n")
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + strings.TrimSpace(receipt.Email) + "\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	b.WriteString("\r\n")
	return []byte(b.String())
}

func renderReceipt(receipt Receipt) (subject, body string) {
	subject = "Your donation receipt"
	if receipt.FirstGift {
		subject = "Thank you for your first gift"
	}

	greeting := "Dear donor,"
	if name := strings.TrimSpace(receipt.DonorName); name != "" {
		greeting = fmt.Sprintf("Dear %s,", name)
	}

	amount := fmt.Sprintf("%s %s", receipt.Amount, strings.ToUpper(receipt.Currency))
	received := fmt.Sprintf("We received your gift of %s.", amount)
	if receipt.Kind == enums.DonationKindRecurring && receipt.Frequency != nil {
		received = fmt.Sprintf("We received your %s gift of %s.", receipt.Frequency.String(), amount)
	}

	lines := []string{greeting, "", received}
	if summary := receipt.CardSummary(); summary != "" {
		lines = append(lines, fmt.Sprintf("Charged to %s.", summary))
	}
	if !receipt.OccurredAt.IsZero() {
		lines = append(lines, fmt.Sprintf("Received on %s.", receipt.OccurredAt.UTC().Format("January 2, 2006")))
	}
	lines = append(lines,
		"",
		"No goods or services were provided in exchange for this contribution.",
		"Please keep this receipt for your tax records.",
	)
	return subject, strings.Join(lines, "\n")
}
