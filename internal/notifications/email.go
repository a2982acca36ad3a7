// Package notifications delivers alert batches and recovery notices over
// SMTP as multipart text plus HTML emails.
package notifications

import (
	"crypto/tls"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/GiovanniCrudo00/Docker-Watcher/internal/alerts"
	"github.com/GiovanniCrudo00/Docker-Watcher/internal/config"
)

// deliverFn is the transport seam; tests swap it to capture composed mail.
var deliverFn = deliver

// EmailSender sends notification emails using the config snapshot passed to
// each call, so SMTP settings follow config reloads.
type EmailSender struct{}

// NewEmailSender creates an email sender.
func NewEmailSender() *EmailSender {
	return &EmailSender{}
}

// SendBatch sends one aggregate email for the batch's critical and warning
// events. Batches with no actionable events are skipped.
func (s *EmailSender) SendBatch(cfg *config.Config, batch alerts.Batch) error {
	if !batch.HasActionable() {
		return nil
	}

	subject, htmlBody, textBody := BatchTemplate(cfg, batch)
	if err := s.send(cfg, subject, htmlBody, textBody); err != nil {
		return fmt.Errorf("send alert email: %w", err)
	}

	log.Info().
		Str("subject", subject).
		Int("critical", len(batch.Critical)).
		Int("warning", len(batch.Warning)).
		Int("recipients", len(cfg.Email.RecipientEmails)).
		Msg("Alert email sent")
	return nil
}

// SendRecovery sends one email for a single recovery event.
func (s *EmailSender) SendRecovery(cfg *config.Config, event alerts.Event) error {
	subject, htmlBody, textBody := RecoveryTemplate(cfg, event)
	if err := s.send(cfg, subject, htmlBody, textBody); err != nil {
		return fmt.Errorf("send recovery email: %w", err)
	}

	log.Info().
		Str("container", event.ContainerName).
		Str("downtime", event.Downtime).
		Msg("Recovery email sent")
	return nil
}

func (s *EmailSender) send(cfg *config.Config, subject, htmlBody, textBody string) error {
	email := cfg.Email
	if email.SMTPServer == "" || len(email.RecipientEmails) == 0 {
		return fmt.Errorf("email configuration incomplete")
	}

	msg := buildMessage(email.SenderEmail, email.RecipientEmails, subject, textBody, htmlBody)
	return deliverFn(email, cfg.EmailUseTLS(), msg)
}

// buildMessage assembles a multipart/alternative MIME message with a plain
// text part followed by the HTML part.
func buildMessage(from string, to []string, subject, textBody, htmlBody string) []byte {
	boundary := fmt.Sprintf("dw-%d", time.Now().UnixNano())

	var msg strings.Builder
	msg.WriteString(fmt.Sprintf("From: %s\r\n", from))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", strings.Join(to, ", ")))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject)))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString(fmt.Sprintf("Content-Type: multipart/alternative; boundary=%q\r\n", boundary))
	msg.WriteString(fmt.Sprintf("Date: %s\r\n", time.Now().Format(time.RFC1123Z)))
	msg.WriteString("\r\n")

	msg.WriteString(fmt.Sprintf("--%s\r\n", boundary))
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	msg.WriteString(textBody)
	msg.WriteString("\r\n")

	msg.WriteString(fmt.Sprintf("--%s\r\n", boundary))
	msg.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
	msg.WriteString(htmlBody)
	msg.WriteString("\r\n")

	msg.WriteString(fmt.Sprintf("--%s--\r\n", boundary))
	return []byte(msg.String())
}

// deliver connects to the SMTP server and submits the message. Port 465 uses
// implicit TLS; other ports negotiate STARTTLS when enabled.
func deliver(email config.EmailConfig, useTLS bool, msg []byte) error {
	addr := net.JoinHostPort(email.SMTPServer, strconv.Itoa(email.SMTPPort))

	var client *smtp.Client
	if email.SMTPPort == 465 {
		conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: email.SMTPServer})
		if err != nil {
			return fmt.Errorf("tls dial %s: %w", addr, err)
		}
		client, err = smtp.NewClient(conn, email.SMTPServer)
		if err != nil {
			conn.Close()
			return fmt.Errorf("smtp handshake: %w", err)
		}
	} else {
		var err error
		client, err = smtp.Dial(addr)
		if err != nil {
			return fmt.Errorf("dial %s: %w", addr, err)
		}
		if useTLS {
			if ok, _ := client.Extension("STARTTLS"); ok {
				if err := client.StartTLS(&tls.Config{ServerName: email.SMTPServer}); err != nil {
					client.Close()
					return fmt.Errorf("starttls: %w", err)
				}
			}
		}
	}
	defer client.Close()

	if email.SenderPassword != "" {
		auth := smtp.PlainAuth("", email.SenderEmail, email.SenderPassword, email.SMTPServer)
		if ok, _ := client.Extension("AUTH"); ok {
			if err := client.Auth(auth); err != nil {
				return fmt.Errorf("smtp auth: %w", err)
			}
		}
	}

	if err := client.Mail(email.SenderEmail); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	for _, rcpt := range email.RecipientEmails {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("rcpt %s: %w", rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		w.Close()
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finish message: %w", err)
	}

	return client.Quit()
}
