// Package classify analyzes incoming email with an LLM and drafts
// replies. When the model is unreachable or returns garbage, analysis
// degrades to a keyword-based priority heuristic.
package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ndpham/inboxtriage/internal/model"
)

const (
	defaultModel     = "llama3-8b-8192"
	defaultMaxTokens = 500
	apiURL           = "https://api.groq.com/openai/v1/chat/completions"
)

// Classifier calls the Groq chat completions API to categorize emails
// and generate reply drafts.
type Classifier struct {
	apiKey    string
	model     string
	maxTokens int
	baseURL   string
	client    *http.Client
}

// New creates a classifier with the given configuration.
func New(apiKey, modelName string, maxTokens int) *Classifier {
	if modelName == "" {
		modelName = defaultModel
	}
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	return &Classifier{
		apiKey:    apiKey,
		model:     modelName,
		maxTokens: maxTokens,
		baseURL:   apiURL,
		client:    &http.Client{},
	}
}

// SetBaseURL overrides the API endpoint, used in tests.
func (c *Classifier) SetBaseURL(u string) { c.baseURL = u }

// Model returns the configured model name.
func (c *Classifier) Model() string { return c.model }

// Analyze categorizes an email and assigns a priority from 1 to 10.
// The model is asked for a strict JSON object; any failure, including
// an out-of-range priority, falls back to the keyword heuristic and
// never returns an error.
func (c *Classifier) Analyze(ctx context.Context, e model.Email) *model.Analysis {
	systemPrompt := "You are an email analysis assistant. Respond with a JSON object " +
		"containing exactly these fields: " +
		`"category" (one of: work, personal, newsletter, notification, spam, general), ` +
		`"priority" (integer 1-10, 10 being most urgent), ` +
		`"requires_action" (boolean), ` +
		`"action_type" (one of: reply, schedule, search, none), ` +
		`"key_topics" (array of up to 3 short strings).`

	userPrompt := fmt.Sprintf(
		"Analyze this email.\nFrom: %s\nSubject: %s\nBody: %s",
		e.Sender, e.Subject, truncate(e.Body, 2000),
	)

	content, err := c.complete(ctx, systemPrompt, userPrompt, true)
	if err != nil {
		return fallbackAnalysis(e)
	}

	var a model.Analysis
	if err := json.Unmarshal([]byte(content), &a); err != nil {
		return fallbackAnalysis(e)
	}
	if a.Priority < 1 || a.Priority > 10 {
		return fallbackAnalysis(e)
	}
	if a.Category == "" {
		a.Category = "general"
	}

	return &a
}

// GenerateReply drafts a reply to an email, optionally grounded in the
// prior messages of its thread. Unlike Analyze, failures propagate.
func (c *Classifier) GenerateReply(
	ctx context.Context,
	e model.Email,
	threadContext string,
) (string, error) {
	systemPrompt := "You are an email assistant. Write a concise, professional reply " +
		"to the email below. Output only the reply body, no subject line and no signature " +
		"placeholders."

	var sb strings.Builder
	if threadContext != "" {
		sb.WriteString("Earlier messages in this conversation:\n")
		sb.WriteString(threadContext)
		sb.WriteString("\n\n")
	}
	sb.WriteString(fmt.Sprintf(
		"Reply to this email.\nFrom: %s\nSubject: %s\nBody: %s",
		e.Sender, e.Subject, truncate(e.Body, 2000),
	))

	content, err := c.complete(ctx, systemPrompt, sb.String(), false)
	if err != nil {
		return "", fmt.Errorf("generating reply: %w", err)
	}

	return strings.TrimSpace(content), nil
}

// complete makes a single chat completion request and returns the first
// choice's message content.
func (c *Classifier) complete(
	ctx context.Context,
	systemPrompt, userPrompt string,
	jsonMode bool,
) (string, error) {
	reqBody := apiRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Messages: []apiMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
	}
	if jsonMode {
		reqBody.ResponseFormat = &apiResponseFormat{Type: "json_object"}
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, c.baseURL, bytes.NewReader(bodyBytes),
	)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling completions API: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr apiErrorResponse
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Message != "" {
			return "", fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Error.Message)
		}
		return "", fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	var result apiResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("empty completion response")
	}

	return result.Choices[0].Message.Content, nil
}

// fallbackAnalysis builds an Analysis from the keyword heuristic alone.
func fallbackAnalysis(e model.Email) *model.Analysis {
	priority := KeywordPriority(e.Subject + " " + e.Body)
	return &model.Analysis{
		Category:       "general",
		Priority:       priority,
		RequiresAction: priority >= 7,
		ActionType:     "none",
		KeyTopics:      nil,
	}
}

// keywordRule maps a set of phrases to a priority score.
type keywordRule struct {
	phrases  []string
	priority int
}

// keywordRules is checked in order; the first match wins.
var keywordRules = []keywordRule{
	{[]string{"urgent", "asap", "immediately"}, 9},
	{[]string{"please respond", "awaiting your response"}, 8},
	{[]string{"meeting", "schedule"}, 7},
	{[]string{"reminder"}, 6},
	{[]string{"fyi", "for your information"}, 3},
}

// KeywordPriority scores text by scanning for known phrases. Text that
// matches nothing scores 5.
func KeywordPriority(text string) int {
	lower := strings.ToLower(text)
	for _, rule := range keywordRules {
		for _, phrase := range rule.phrases {
			if strings.Contains(lower, phrase) {
				return rule.priority
			}
		}
	}
	return 5
}

// truncate limits s to max bytes on a rune boundary.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

// --- Chat completions API types ---

type apiRequest struct {
	Model          string             `json:"model"`
	MaxTokens      int                `json:"max_tokens"`
	Messages       []apiMessage       `json:"messages"`
	ResponseFormat *apiResponseFormat `json:"response_format,omitempty"`
}

type apiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type apiResponseFormat struct {
	Type string `json:"type"`
}

type apiResponse struct {
	ID      string      `json:"id"`
	Model   string      `json:"model"`
	Choices []apiChoice `json:"choices"`
}

type apiChoice struct {
	Index        int        `json:"index"`
	Message      apiMessage `json:"message"`
	FinishReason string     `json:"finish_reason"`
}

type apiErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}
