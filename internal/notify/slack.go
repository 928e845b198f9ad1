// Package notify posts high-priority email alerts to Slack.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/ndpham/inboxtriage/internal/model"
)

const postMessageURL = "https://slack.com/api/chat.postMessage"

// SlackNotifier sends alerts to a Slack channel via chat.postMessage.
type SlackNotifier struct {
	token   string
	channel string
	baseURL string
	client  *http.Client
}

// NewSlack creates a notifier for the given bot token and channel.
func NewSlack(token, channel string) *SlackNotifier {
	return &SlackNotifier{
		token:   token,
		channel: channel,
		baseURL: postMessageURL,
		client:  &http.Client{},
	}
}

// SetBaseURL overrides the API endpoint, used in tests.
func (n *SlackNotifier) SetBaseURL(u string) { n.baseURL = u }

// NotifyHighPriority posts an alert for an email whose priority crossed
// the notification threshold.
func (n *SlackNotifier) NotifyHighPriority(
	ctx context.Context,
	e model.Email,
	a model.Analysis,
) error {
	text := fmt.Sprintf(
		":rotating_light: High priority email (%d/10) from %s", a.Priority, e.Sender,
	)

	payload := postMessageRequest{
		Channel: n.channel,
		Text:    text,
		Blocks: []block{
			{
				Type: "section",
				Text: &blockText{
					Type: "mrkdwn",
					Text: fmt.Sprintf(
						"*High priority email* (%d/10)\n*From:* %s\n*Subject:* %s",
						a.Priority, e.Sender, e.Subject,
					),
				},
			},
			{
				Type: "context",
				Elements: []blockText{
					{
						Type: "mrkdwn",
						Text: fmt.Sprintf("Category: %s | Message: %s", a.Category, e.MessageID),
					},
				},
			},
		},
	}

	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling slack message: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, n.baseURL, bytes.NewReader(bodyBytes),
	)
	if err != nil {
		return fmt.Errorf("creating slack request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+n.token)

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting slack message: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading slack response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack API error (%d): %s", resp.StatusCode, string(respBody))
	}

	// Slack reports most failures with 200 and ok=false.
	var result postMessageResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return fmt.Errorf("decoding slack response: %w", err)
	}
	if !result.OK {
		return fmt.Errorf("slack API error: %s", result.Error)
	}

	return nil
}

// --- Slack API types ---

type postMessageRequest struct {
	Channel string  `json:"channel"`
	Text    string  `json:"text"`
	Blocks  []block `json:"blocks,omitempty"`
}

type block struct {
	Type     string      `json:"type"`
	Text     *blockText  `json:"text,omitempty"`
	Elements []blockText `json:"elements,omitempty"`
}

type blockText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type postMessageResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	TS    string `json:"ts,omitempty"`
}
