package mailer

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/google/uuid"

	"heron/internal/config"
	"heron/internal/utils/logger"
)

var log = logger.New("MAILER")

// SMTPTransport implements Transport against a single SMTP/IMAP provider.
type SMTPTransport struct {
	smtpAddr string
	smtpHost string
	imapAddr string
	imapHost string
}

func NewSMTPTransport(cfg config.MailerConfig) *SMTPTransport {
	return &SMTPTransport{
		smtpAddr: fmt.Sprintf("%s:%d", cfg.SMTPHost, cfg.SMTPPort),
		smtpHost: cfg.SMTPHost,
		imapAddr: fmt.Sprintf("%s:%d", cfg.IMAPHost, cfg.IMAPPort),
		imapHost: cfg.IMAPHost,
	}
}

// Send delivers one message and returns its Message-ID. It maps provider
// responses onto the sentinel errors: 535/530 class codes during AUTH become
// ErrAuthFailed, RCPT rejections become ErrRecipientRefused.
func (t *SMTPTransport) Send(ctx context.Context, credential string, msg Message) (string, error) {
	c, err := smtp.DialStartTLS(t.smtpAddr, &tls.Config{ServerName: t.smtpHost})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrConnectionFailure, err)
	}
	defer c.Close()

	// Providers show app passwords grouped in four-character blocks;
	// strip the spaces before authenticating.
	auth := sasl.NewPlainClient("", msg.From, strings.ReplaceAll(credential, " ", ""))
	if err := c.Auth(auth); err != nil {
		if isAuthError(err) {
			return "", fmt.Errorf("%w: %v", ErrAuthFailed, err)
		}
		return "", fmt.Errorf("auth exchange failed: %w", err)
	}

	if err := c.Mail(msg.From, nil); err != nil {
		return "", fmt.Errorf("MAIL FROM rejected: %w", err)
	}
	if err := c.Rcpt(msg.To, nil); err != nil {
		if isRecipientError(err) {
			return "", fmt.Errorf("%w: %v", ErrRecipientRefused, err)
		}
		return "", fmt.Errorf("RCPT TO rejected: %w", err)
	}

	messageID := newMessageID(msg.From)
	w, err := c.Data()
	if err != nil {
		return "", fmt.Errorf("DATA rejected: %w", err)
	}
	if _, err := w.Write(composeMIME(messageID, msg)); err != nil {
		w.Close()
		return "", fmt.Errorf("failed to write message body: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("message rejected: %w", err)
	}
	if err := c.Quit(); err != nil {
		log.Warn("QUIT failed after accepted message: %v", err)
	}
	return messageID, nil
}

// VerifyCredential attempts an SMTP login without sending anything.
func (t *SMTPTransport) VerifyCredential(ctx context.Context, identity, credential string) (bool, string) {
	c, err := smtp.DialStartTLS(t.smtpAddr, &tls.Config{ServerName: t.smtpHost})
	if err != nil {
		return false, fmt.Sprintf("connection failed: %v", err)
	}
	defer c.Close()

	auth := sasl.NewPlainClient("", identity, strings.ReplaceAll(credential, " ", ""))
	if err := c.Auth(auth); err != nil {
		if isAuthError(err) {
			return false, "authentication failed: check that you are using an app password, not your account password"
		}
		return false, fmt.Sprintf("auth exchange failed: %v", err)
	}
	return true, "credentials verified"
}

func newMessageID(from string) string {
	domain := "localhost"
	if at := strings.LastIndex(from, "@"); at >= 0 && at < len(from)-1 {
		domain = from[at+1:]
	}
	return fmt.Sprintf("<%s@%s>", uuid.New().String(), domain)
}

// composeMIME builds a multipart/alternative message carrying the text and
// HTML bodies, with threading headers when the message is a follow-up.
func composeMIME(messageID string, msg Message) []byte {
	boundary := strings.ReplaceAll(uuid.New().String(), "-", "")

	var b strings.Builder
	fmt.Fprintf(&b, "Message-ID: %s\r\n", messageID)
	fmt.Fprintf(&b, "From: %s\r\n", msg.From)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	if msg.InReplyTo != "" {
		fmt.Fprintf(&b, "In-Reply-To: %s\r\n", msg.InReplyTo)
		fmt.Fprintf(&b, "References: %s\r\n", msg.InReplyTo)
	}
	b.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&b, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", boundary)

	if msg.Text != "" {
		fmt.Fprintf(&b, "--%s\r\n", boundary)
		b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
		b.WriteString(msg.Text)
		b.WriteString("\r\n")
	}
	if msg.HTML != "" {
		fmt.Fprintf(&b, "--%s\r\n", boundary)
		b.WriteString("Content-Type: text/html; charset=utf-8\r\n\r\n")
		b.WriteString(msg.HTML)
		b.WriteString("\r\n")
	}
	fmt.Fprintf(&b, "--%s--\r\n", boundary)
	return []byte(b.String())
}

func isAuthError(err error) bool {
	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) {
		return smtpErr.Code == 535 || smtpErr.Code == 534 || smtpErr.Code == 530
	}
	return false
}

func isRecipientError(err error) bool {
	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) {
		switch smtpErr.Code {
		case 550, 551, 552, 553:
			return true
		}
	}
	return false
}
