// Package transport submits rendered messages over SMTP. Grounded directly
// on the teacher's internal/provider/smtp_provider.go: a net/smtp client
// dialed with a timeout, STARTTLS negotiated when the server advertises it,
// PLAIN auth when credentials are present, multipart/alternative MIME body.
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sendloop/campaign-dispatcher/internal/model"
)

// DefaultTimeout is the default bound on the whole SMTP round-trip, per the
// concurrency model's suspension-points guidance ("SMTP send timeout,
// default 10s").
const DefaultTimeout = 10 * time.Second

// Transport is the opaque outbound email submitter the Worker calls. A
// transport error is the only failure signal the Worker observes; there is
// no partial-success state.
type Transport interface {
	Send(ctx context.Context, mailbox model.Mailbox, toEmail, subject, html string) error
}

// SMTP implements Transport using net/smtp with optional STARTTLS.
type SMTP struct {
	StartTLS bool
	Timeout  time.Duration
}

// NewSMTP builds an SMTP transport. startTLS mirrors the SMTP_STARTTLS
// config flag.
func NewSMTP(startTLS bool) *SMTP {
	return &SMTP{StartTLS: startTLS, Timeout: DefaultTimeout}
}

func (s *SMTP) Send(ctx context.Context, mailbox model.Mailbox, toEmail, subject, html string) error {
	msg, err := buildMIMEMessage(mailbox.Email, toEmail, subject, html)
	if err != nil {
		return fmt.Errorf("build message: %w", err)
	}

	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	done := make(chan error, 1)
	go func() {
		done <- s.deliver(mailbox, toEmail, msg, timeout)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("smtp send: %w", ctx.Err())
	case err := <-done:
		return err
	}
}

func (s *SMTP) deliver(mailbox model.Mailbox, toEmail string, msg []byte, timeout time.Duration) error {
	addr := fmt.Sprintf("%s:%d", mailbox.SMTPHost, mailbox.SMTPPort)

	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return fmt.Errorf("dial smtp: %w", err)
	}
	// Bound the whole EHLO/STARTTLS/AUTH/MAIL/RCPT/DATA/QUIT conversation,
	// not just the dial: a server that accepts the connection and then
	// stalls must still fail as a timeout, per the transport-timeout
	// contract.
	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		conn.Close()
		return fmt.Errorf("set conn deadline: %w", err)
	}

	client, err := smtp.NewClient(conn, mailbox.SMTPHost)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp client: %w", err)
	}
	defer client.Close()

	if err := client.Hello("localhost"); err != nil {
		return fmt.Errorf("EHLO failed: %w", err)
	}

	if s.StartTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			tlsConfig := &tls.Config{ServerName: mailbox.SMTPHost}
			if err := client.StartTLS(tlsConfig); err != nil {
				return fmt.Errorf("STARTTLS failed: %w", err)
			}
		}
	}

	if mailbox.SMTPUser != "" && mailbox.SMTPPass != "" {
		auth := smtp.PlainAuth("", mailbox.SMTPUser, mailbox.SMTPPass, mailbox.SMTPHost)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth failed: %w", err)
		}
	}

	if err := client.Mail(mailbox.Email); err != nil {
		return fmt.Errorf("MAIL FROM failed: %w", err)
	}
	if err := client.Rcpt(toEmail); err != nil {
		return fmt.Errorf("RCPT TO failed: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("DATA failed: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close data writer: %w", err)
	}
	return client.Quit()
}

// buildMIMEMessage builds a multipart/alternative message with an empty
// text/plain part (the spec allows text/plain to be empty) and the
// rendered HTML part.
func buildMIMEMessage(from, to, subject, html string) ([]byte, error) {
	boundary := uuid.New().String()
	var b strings.Builder

	b.WriteString(fmt.Sprintf("From: %s\r\n", from))
	b.WriteString(fmt.Sprintf("To: %s\r\n", to))
	b.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	b.WriteString(fmt.Sprintf("Message-ID: <%s@%s>\r\n", uuid.New().String(), domainOf(from)))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString(fmt.Sprintf("Content-Type: multipart/alternative; boundary=\"%s\"\r\n\r\n", boundary))
	b.WriteString(fmt.Sprintf("--%s\r\n", boundary))
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n\r\n")
	b.WriteString(fmt.Sprintf("\r\n--%s\r\n", boundary))
	b.WriteString("Content-Type: text/html; charset=\"utf-8\"\r\n\r\n")
	b.WriteString(html)
	b.WriteString(fmt.Sprintf("\r\n--%s--\r\n", boundary))

	return []byte(b.String()), nil
}

func domainOf(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) == 2 {
		return parts[1]
	}
	return "localhost"
}
