package imapbox

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/google/uuid"

	"github.com/ndpham/inboxtriage/internal/mailbox"
)

// SendReply sends a plain-text reply via SMTP, threaded on the original
// message's RFC Message-ID, and records the original id in the replied log.
func (p *Provider) SendReply(
	ctx context.Context,
	to, subject, body, originalID string,
) (*mailbox.SentReply, error) {
	if to == "" {
		return nil, fmt.Errorf("no recipient specified for reply")
	}

	if !strings.HasPrefix(strings.ToLower(subject), "re:") {
		subject = "Re: " + subject
	}

	// Fetch the original's Message-ID header so the reply threads on
	// the recipient's side.
	var inReplyTo, threadID string
	if originalID != "" {
		if mid, origSubject, err := p.fetchEnvelope(ctx, originalID); err == nil {
			inReplyTo = mid
			threadID = threadKey(origSubject)
		}
	}
	if threadID == "" {
		threadID = threadKey(subject)
	}

	from := p.cfg.Username

	var msg strings.Builder
	msg.WriteString(fmt.Sprintf("From: %s\r\n", from))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", to))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	if inReplyTo != "" {
		msg.WriteString(fmt.Sprintf("In-Reply-To: <%s>\r\n", inReplyTo))
		msg.WriteString(fmt.Sprintf("References: <%s>\r\n", inReplyTo))
	}
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)

	addr := p.cfg.SMTPHost + ":" + p.cfg.SMTPPort

	var err error
	if p.cfg.UseTLS {
		err = p.sendSMTPWithTLS(addr, from, to, msg.String())
	} else {
		err = p.sendSMTPWithStartTLS(addr, from, to, msg.String())
	}
	if err != nil {
		return nil, err
	}

	if originalID != "" {
		if err := p.replied.Add(originalID); err != nil {
			return nil, fmt.Errorf("recording replied id: %w", err)
		}
	}

	// SMTP does not report a message id for the sent mail, so one is
	// generated locally for the stored reply row.
	return &mailbox.SentReply{
		MessageID: "sent-" + uuid.New().String(),
		ThreadID:  threadID,
	}, nil
}

// fetchEnvelope retrieves the envelope of a stored message, including
// its RFC Message-ID, in a single IMAP round trip.
func (p *Provider) fetchEnvelope(ctx context.Context, id string) (string, string, error) {
	uid, err := parseUID(id)
	if err != nil {
		return "", "", err
	}

	client, err := p.connect(ctx)
	if err != nil {
		return "", "", err
	}
	defer func() { _ = client.Logout().Wait() }()

	uidSet := imap.UIDSetNum(imap.UID(uid))
	fetchCmd := client.Fetch(uidSet, &imap.FetchOptions{Envelope: true, UID: true})
	defer fetchCmd.Close()

	buf := fetchCmd.Next()
	if buf == nil {
		return "", "", mailbox.ErrMessageNotFound
	}

	collected, err := buf.Collect()
	if err != nil {
		return "", "", fmt.Errorf("collecting envelope: %w", err)
	}

	var messageID, subject string
	if collected.Envelope != nil {
		messageID = collected.Envelope.MessageID
		subject = collected.Envelope.Subject
	}
	return messageID, subject, nil
}

// sendSMTPWithTLS sends an email over an implicit TLS connection.
func (p *Provider) sendSMTPWithTLS(addr, from, to, body string) error {
	tlsConfig := &tls.Config{ServerName: p.cfg.SMTPHost}

	conn, err := tls.Dial("tcp", addr, tlsConfig)
	if err != nil {
		return fmt.Errorf("TLS dial to %s: %w", addr, err)
	}

	client, err := smtp.NewClient(conn, p.cfg.SMTPHost)
	if err != nil {
		conn.Close()
		return fmt.Errorf("creating SMTP client: %w", err)
	}
	defer client.Close()

	auth := smtp.PlainAuth("", p.cfg.Username, p.cfg.Password, p.cfg.SMTPHost)
	if err := client.Auth(auth); err != nil {
		return fmt.Errorf("SMTP auth: %w", err)
	}

	return sendMailViaSMTPClient(client, from, to, body)
}

// sendSMTPWithStartTLS sends an email using STARTTLS.
func (p *Provider) sendSMTPWithStartTLS(addr, from, to, body string) error {
	conn, err := net.DialTimeout("tcp", addr, 30*time.Second)
	if err != nil {
		return fmt.Errorf("dial to %s: %w", addr, err)
	}

	client, err := smtp.NewClient(conn, p.cfg.SMTPHost)
	if err != nil {
		conn.Close()
		return fmt.Errorf("creating SMTP client: %w", err)
	}
	defer client.Close()

	tlsConfig := &tls.Config{ServerName: p.cfg.SMTPHost}
	if err := client.StartTLS(tlsConfig); err != nil {
		return fmt.Errorf("SMTP STARTTLS: %w", err)
	}

	auth := smtp.PlainAuth("", p.cfg.Username, p.cfg.Password, p.cfg.SMTPHost)
	if err := client.Auth(auth); err != nil {
		return fmt.Errorf("SMTP auth: %w", err)
	}

	return sendMailViaSMTPClient(client, from, to, body)
}

// sendMailViaSMTPClient sends a message using an already-authenticated
// SMTP client.
func sendMailViaSMTPClient(client *smtp.Client, from, to, body string) error {
	if err := client.Mail(from); err != nil {
		return fmt.Errorf("SMTP MAIL FROM: %w", err)
	}

	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("SMTP RCPT TO: %w", err)
	}

	writer, err := client.Data()
	if err != nil {
		return fmt.Errorf("SMTP DATA: %w", err)
	}

	if _, err := writer.Write([]byte(body)); err != nil {
		return fmt.Errorf("writing email body: %w", err)
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("closing email body: %w", err)
	}

	return client.Quit()
}

// parseUID converts a string message id to a uint32 IMAP UID.
func parseUID(id string) (uint32, error) {
	uid, err := strconv.ParseUint(id, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid message id %q: %w", id, err)
	}
	return uint32(uid), nil
}

var htmlTagPattern = regexp.MustCompile(`<[^>]*>`)

// stripHTML removes markup from an HTML body, leaving rough plain text.
func stripHTML(s string) string {
	text := htmlTagPattern.ReplaceAllString(s, " ")
	text = strings.ReplaceAll(text, "&nbsp;", " ")
	text = strings.ReplaceAll(text, "&amp;", "&")
	text = strings.ReplaceAll(text, "&lt;", "<")
	text = strings.ReplaceAll(text, "&gt;", ">")
	return strings.Join(strings.Fields(text), " ")
}
