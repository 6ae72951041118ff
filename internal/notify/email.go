package notify

import (
	"fmt"
	"net/smtp"
	"strings"
)

// EmailConfig holds SMTP settings for assignment emails.
type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Emailer sends assignment emails over plain SMTP.
type Emailer struct {
	cfg EmailConfig
}

func NewEmailer(cfg EmailConfig) *Emailer {
	return &Emailer{cfg: cfg}
}

// SendAssignment mails the team contact about the new assignment.
func (e *Emailer) SendAssignment(event Event) error {
	if e.cfg.Host == "" || e.cfg.From == "" {
		return fmt.Errorf("smtp not configured")
	}

	subject := fmt.Sprintf("Incident %d assigned to %s (priority %d)", event.IncidentID, event.TeamName, event.Priority)
	body := fmt.Sprintf(
		"Team %s has been assigned to incident %d.\r\nPriority: %d\r\nEstimated arrival: %d minutes\r\nDispatch job: %s\r\n",
		event.TeamName, event.IncidentID, event.Priority, event.ETAMinutes, event.JobID,
	)
	if event.FinalSeverity != "" {
		body += fmt.Sprintf("Severity: %s\r\n", event.FinalSeverity)
	}
	if event.Summary != "" {
		body += fmt.Sprintf("Summary: %s\r\n", event.Summary)
	}

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", e.cfg.From)
	fmt.Fprintf(&msg, "To: %s\r\n", event.ContactEmail)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	msg.WriteString(body)

	addr := fmt.Sprintf("%s:%d", e.cfg.Host, e.cfg.Port)
	var auth smtp.Auth
	if e.cfg.Username != "" {
		auth = smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.Host)
	}
	if err := smtp.SendMail(addr, auth, e.cfg.From, []string{event.ContactEmail}, []byte(msg.String())); err != nil {
		return fmt.Errorf("send assignment email: %w", err)
	}
	return nil
}
