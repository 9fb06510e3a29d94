package notify

import (
	"net"
	"net/smtp"
	"strings"
)

type Sender interface {
	Send(to string, subject string, body string) error
}

// SMTPSender delivers mail over unauthenticated SMTP. Works against Mailpit
// in development and plain relays in production.
type SMTPSender struct {
	addr string
	from string
}

func NewSMTPSender(host string, port string, from string) *SMTPSender {
	if strings.TrimSpace(from) == "" {
		from = "no-reply@apptsync.local"
	}
	return &SMTPSender{
		addr: net.JoinHostPort(strings.TrimSpace(host), strings.TrimSpace(port)),
		from: strings.TrimSpace(from),
	}
}

func (s *SMTPSender) Send(to string, subject string, body string) error {
	var b strings.Builder
	b.WriteString("From: " + s.from + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + subject + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(body)
	b.WriteString("\r\n")
	return smtp.SendMail(s.addr, nil, s.from, []string{to}, []byte(b.String()))
}

// NoopSender discards mail, used when no SMTP host is configured.
type NoopSender struct{}

func (NoopSender) Send(string, string, string) error { return nil }
