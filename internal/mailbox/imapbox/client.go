// Package imapbox implements the mailbox provider against a plain
// IMAP/SMTP account.
package imapbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message/mail"

	"github.com/ndpham/inboxtriage/internal/mailbox"
)

// Config holds the IMAP/SMTP account settings.
type Config struct {
	IMAPHost   string
	IMAPPort   string
	SMTPHost   string
	SMTPPort   string
	Username   string
	Password   string
	UseTLS     bool
	BotAddress string
}

// Provider implements mailbox.Provider over IMAP for fetching and SMTP
// for sending.
type Provider struct {
	cfg     Config
	replied *mailbox.RepliedLog
}

// New creates an IMAP mailbox provider.
func New(cfg Config, replied *mailbox.RepliedLog) *Provider {
	return &Provider{cfg: cfg, replied: replied}
}

// Name returns the provider identifier.
func (p *Provider) Name() string { return "imap" }

// connect establishes a connection to the IMAP server, authenticates,
// and selects INBOX. The caller is responsible for calling Logout on
// the returned client.
func (p *Provider) connect(_ context.Context) (*imapclient.Client, error) {
	addr := p.cfg.IMAPHost + ":" + p.cfg.IMAPPort

	var client *imapclient.Client
	var err error

	if p.cfg.UseTLS {
		client, err = imapclient.DialTLS(addr, nil)
	} else {
		client, err = imapclient.DialStartTLS(addr, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to IMAP %s: %w", addr, err)
	}

	if err := client.Login(p.cfg.Username, p.cfg.Password).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, &mailbox.AuthError{
			Provider: "imap",
			Message: fmt.Sprintf(
				"authentication failed for %s: %v", p.cfg.Username, err,
			),
		}
	}

	if _, err := client.Select("INBOX", nil).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, fmt.Errorf("selecting INBOX: %w", err)
	}

	return client, nil
}

// ListUnread searches INBOX for unseen messages and returns their
// envelope data, skipping mail from the bot itself and ids already
// auto-replied.
func (p *Provider) ListUnread(ctx context.Context, max int) ([]mailbox.Message, error) {
	if max <= 0 {
		max = 25
	}

	client, err := p.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Logout().Wait() }()

	criteria := &imap.SearchCriteria{
		NotFlag: []imap.Flag{imap.FlagSeen},
	}

	searchData, err := client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("searching unseen messages: %w", err)
	}

	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}
	if len(uids) > max {
		uids = uids[len(uids)-max:]
	}

	uidSet := imap.UIDSetNum(uids...)
	fetchOpts := &imap.FetchOptions{
		Envelope: true,
		UID:      true,
	}

	fetchCmd := client.Fetch(uidSet, fetchOpts)
	defer fetchCmd.Close()

	var msgs []mailbox.Message
	for {
		buf := fetchCmd.Next()
		if buf == nil {
			break
		}

		collected, err := buf.Collect()
		if err != nil {
			continue
		}

		msg := messageFromBuffer(collected)
		if p.replied.Contains(msg.ID) {
			continue
		}
		if p.cfg.BotAddress != "" && strings.EqualFold(msg.From, p.cfg.BotAddress) {
			continue
		}
		msgs = append(msgs, msg)
	}

	if err := fetchCmd.Close(); err != nil {
		return msgs, fmt.Errorf("fetching envelopes: %w", err)
	}

	return msgs, nil
}

// GetMessage fetches the full message body for one UID and parses its
// MIME structure into a plain-text body.
func (p *Provider) GetMessage(ctx context.Context, id string) (*mailbox.Message, error) {
	uid, err := parseUID(id)
	if err != nil {
		return nil, err
	}

	client, err := p.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Logout().Wait() }()

	uidSet := imap.UIDSetNum(imap.UID(uid))
	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchOpts := &imap.FetchOptions{
		Envelope:    true,
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	}

	fetchCmd := client.Fetch(uidSet, fetchOpts)
	defer fetchCmd.Close()

	buf := fetchCmd.Next()
	if buf == nil {
		return nil, mailbox.ErrMessageNotFound
	}

	collected, err := buf.Collect()
	if err != nil {
		return nil, fmt.Errorf("collecting message data: %w", err)
	}

	msg := messageFromBuffer(collected)

	if raw := collected.FindBodySection(bodySection); raw != nil {
		textBody, htmlBody := parseMIMEBody(raw)
		msg.Body = textBody
		if msg.Body == "" {
			msg.Body = stripHTML(htmlBody)
		}
	}
	if msg.Body == "" {
		msg.Body = msg.Snippet
	}

	if err := fetchCmd.Close(); err != nil {
		return &msg, fmt.Errorf("closing fetch: %w", err)
	}

	return &msg, nil
}

// messageFromBuffer extracts a mailbox.Message from a fetched buffer.
func messageFromBuffer(buf *imapclient.FetchMessageBuffer) mailbox.Message {
	msg := mailbox.Message{
		ID: fmt.Sprintf("%d", uint32(buf.UID)),
	}

	if buf.Envelope != nil {
		msg.Subject = buf.Envelope.Subject
		if msg.Subject == "" {
			msg.Subject = "No Subject"
		}
		if !buf.Envelope.Date.IsZero() {
			msg.Date = buf.Envelope.Date.Format("Mon, 02 Jan 2006 15:04:05 -0700")
		}
		if len(buf.Envelope.From) > 0 {
			msg.From = buf.Envelope.From[0].Addr()
		}
		if len(buf.Envelope.To) > 0 {
			msg.To = buf.Envelope.To[0].Addr()
		}
		msg.ThreadID = threadKey(buf.Envelope.Subject)
	}

	return msg
}

// threadKey derives a conversation key from a subject line. IMAP has no
// native thread id, so replies are grouped by their normalized subject.
func threadKey(subject string) string {
	s := strings.TrimSpace(strings.ToLower(subject))
	for {
		trimmed := strings.TrimSpace(strings.TrimPrefix(s, "re:"))
		if trimmed == s {
			break
		}
		s = trimmed
	}
	if s == "" {
		return "no-subject"
	}
	return s
}

// parseMIMEBody parses a raw RFC 2822 message body using go-message
// and extracts the text/plain and text/html bodies.
func parseMIMEBody(raw []byte) (textBody, htmlBody string) {
	reader := bytes.NewReader(raw)

	mr, err := mail.CreateReader(reader)
	if err != nil {
		// If parsing fails, treat the whole thing as plain text.
		return string(raw), ""
	}
	defer mr.Close()

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}

		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}

		contentType, _, _ := h.ContentType()
		body, readErr := io.ReadAll(part.Body)
		if readErr != nil {
			continue
		}

		switch {
		case strings.HasPrefix(contentType, "text/plain"):
			textBody = string(body)
		case strings.HasPrefix(contentType, "text/html"):
			htmlBody = string(body)
		}
	}

	return textBody, htmlBody
}
