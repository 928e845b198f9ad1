// Package gmail implements the mailbox provider against the Gmail REST
// API using a refresh-token credential.
package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/time/rate"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/ndpham/inboxtriage/internal/mailbox"
)

const (
	// unreadQuery matches the inbox filter the assistant triages.
	unreadQuery = "is:inbox -from:me is:unread"

	// maxMessageSize skips oversized messages entirely.
	maxMessageSize = 10 * 1024 * 1024

	// Gmail quota units, see
	// https://developers.google.com/gmail/api/v1/reference/quota
	quotaUnitsPerMessagesList = 1
	quotaUnitsPerMessagesGet  = 5
	quotaUnitsPerMessagesSend = 100

	quotaUnitsPerSecond = 250
	rateLimitPerSecond  = quotaUnitsPerSecond * 0.8
	rateLimitBurst      = quotaUnitsPerSecond
)

// Config holds the Gmail OAuth credential and the bot's own address.
type Config struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	BotAddress   string
}

// Provider implements mailbox.Provider against the Gmail API.
type Provider struct {
	service *gmailapi.Service
	limiter *rate.Limiter
	replied *mailbox.RepliedLog
	botAddr string
}

// New builds a Gmail service from a refresh-token credential.
func New(ctx context.Context, cfg Config, replied *mailbox.RepliedLog) (*Provider, error) {
	conf := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     google.Endpoint,
	}
	ts := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken})

	svc, err := gmailapi.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("creating gmail service: %w", err)
	}

	return &Provider{
		service: svc,
		limiter: rate.NewLimiter(rateLimitPerSecond, rateLimitBurst),
		replied: replied,
		botAddr: cfg.BotAddress,
	}, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string { return "gmail" }

// ListUnread fetches unread inbox messages, skipping mail from the bot
// itself, oversized messages, and ids already auto-replied.
func (p *Provider) ListUnread(ctx context.Context, max int) ([]mailbox.Message, error) {
	if max <= 0 {
		max = 25
	}

	if err := p.limiter.WaitN(ctx, quotaUnitsPerMessagesList); err != nil {
		return nil, err
	}

	listResp, err := p.service.Users.Messages.List("me").
		Q(unreadQuery).
		LabelIds("INBOX").
		MaxResults(int64(max)).
		Context(ctx).Do()
	if err != nil {
		return nil, p.wrapAPIError("listing messages", err)
	}

	var msgs []mailbox.Message
	for _, ref := range listResp.Messages {
		if p.replied.Contains(ref.Id) {
			continue
		}

		if err := p.limiter.WaitN(ctx, quotaUnitsPerMessagesGet); err != nil {
			return nil, err
		}

		meta, err := p.service.Users.Messages.Get("me", ref.Id).
			Format("metadata").
			MetadataHeaders("From", "Subject", "Date").
			Context(ctx).Do()
		if err != nil {
			// A single unreadable message does not fail the listing.
			continue
		}

		if meta.SizeEstimate > maxMessageSize {
			continue
		}

		msg := messageFromMeta(meta)
		if p.botAddr != "" && strings.EqualFold(msg.From, p.botAddr) {
			continue
		}
		msgs = append(msgs, msg)
	}

	return msgs, nil
}

// GetMessage fetches the full detail, including a decoded body, for one
// message id.
func (p *Provider) GetMessage(ctx context.Context, id string) (*mailbox.Message, error) {
	if err := p.limiter.WaitN(ctx, quotaUnitsPerMessagesGet); err != nil {
		return nil, err
	}

	full, err := p.service.Users.Messages.Get("me", id).
		Format("full").
		Context(ctx).Do()
	if err != nil {
		return nil, p.wrapAPIError(fmt.Sprintf("getting message %s", id), err)
	}

	msg := messageFromMeta(full)
	msg.Body = extractBody(full.Payload)
	if msg.Body == "" {
		msg.Body = full.Snippet
	}

	return &msg, nil
}

// SendReply composes an RFC 2822 reply threaded to the original message
// and records the original id in the replied log.
func (p *Provider) SendReply(
	ctx context.Context,
	to, subject, body, originalID string,
) (*mailbox.SentReply, error) {
	if to == "" {
		return nil, fmt.Errorf("no recipient specified for reply")
	}

	// Fetch the original's thread id and RFC Message-ID so the reply
	// threads correctly on the recipient's side too.
	var threadID, rfcMessageID string
	if originalID != "" {
		if err := p.limiter.WaitN(ctx, quotaUnitsPerMessagesGet); err != nil {
			return nil, err
		}
		orig, err := p.service.Users.Messages.Get("me", originalID).
			Format("metadata").
			MetadataHeaders("Message-ID").
			Context(ctx).Do()
		if err == nil {
			threadID = orig.ThreadId
			rfcMessageID = headerValue(orig.Payload, "Message-ID")
		}
	}

	raw := buildReply(p.botAddr, to, subject, body, rfcMessageID)

	if err := p.limiter.WaitN(ctx, quotaUnitsPerMessagesSend); err != nil {
		return nil, err
	}

	sent, err := p.service.Users.Messages.Send("me", &gmailapi.Message{
		Raw:      base64.URLEncoding.EncodeToString(raw),
		ThreadId: threadID,
	}).Context(ctx).Do()
	if err != nil {
		return nil, p.wrapAPIError("sending reply", err)
	}

	if originalID != "" {
		if err := p.replied.Add(originalID); err != nil {
			return nil, fmt.Errorf("recording replied id: %w", err)
		}
	}

	return &mailbox.SentReply{
		MessageID: sent.Id,
		ThreadID:  sent.ThreadId,
	}, nil
}

// wrapAPIError maps googleapi failures to the mailbox error taxonomy.
func (p *Provider) wrapAPIError(op string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusUnauthorized, http.StatusForbidden:
			return &mailbox.AuthError{
				Provider: "gmail",
				Message:  fmt.Sprintf("%s: %v", op, err),
			}
		case http.StatusNotFound:
			return mailbox.ErrMessageNotFound
		case http.StatusTooManyRequests:
			return fmt.Errorf("%s: gmail rate limit exceeded: %w", op, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// messageFromMeta builds a mailbox.Message from message headers.
func messageFromMeta(m *gmailapi.Message) mailbox.Message {
	from := headerValue(m.Payload, "From")
	if addr, err := mail.ParseAddress(from); err == nil {
		from = addr.Address
	}

	subject := headerValue(m.Payload, "Subject")
	if subject == "" {
		subject = "No Subject"
	}

	date := headerValue(m.Payload, "Date")
	if date == "" {
		date = time.Now().Format(time.RFC3339)
	}

	return mailbox.Message{
		ID:       m.Id,
		ThreadID: m.ThreadId,
		From:     from,
		To:       "me",
		Subject:  subject,
		Date:     date,
		Snippet:  m.Snippet,
	}
}

// headerValue returns the named header from a message payload,
// case-insensitively.
func headerValue(payload *gmailapi.MessagePart, name string) string {
	if payload == nil {
		return ""
	}
	for _, h := range payload.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// extractBody walks the MIME tree and returns the first decoded
// text/plain part, falling back to text/html.
func extractBody(payload *gmailapi.MessagePart) string {
	if payload == nil {
		return ""
	}

	if payload.Body != nil && payload.Body.Data != "" &&
		(payload.MimeType == "text/plain" || payload.MimeType == "text/html") {
		if body, err := decodeBody(payload.Body.Data); err == nil {
			return body
		}
	}

	var htmlBody string
	for _, part := range payload.Parts {
		if part.Body == nil || part.Body.Data == "" {
			if nested := extractBody(part); nested != "" {
				return nested
			}
			continue
		}
		body, err := decodeBody(part.Body.Data)
		if err != nil {
			continue
		}
		switch part.MimeType {
		case "text/plain":
			return body
		case "text/html":
			if htmlBody == "" {
				htmlBody = body
			}
		}
	}

	return htmlBody
}

// decodeBody decodes Gmail's urlsafe base64 body data, which may or may
// not carry padding.
func decodeBody(data string) (string, error) {
	decoded, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(data, "="))
	if err != nil {
		return "", fmt.Errorf("decoding body data: %w", err)
	}
	return string(decoded), nil
}

// buildReply composes a plain-text RFC 2822 reply message.
func buildReply(from, to, subject, body, inReplyTo string) []byte {
	var msg strings.Builder
	msg.WriteString(fmt.Sprintf("From: %s\r\n", from))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", to))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	if inReplyTo != "" {
		msg.WriteString(fmt.Sprintf("In-Reply-To: %s\r\n", inReplyTo))
		msg.WriteString(fmt.Sprintf("References: %s\r\n", inReplyTo))
	}
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)
	return []byte(msg.String())
}
