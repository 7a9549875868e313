// Package episodic bridges turns to an external semantic memory service.
// Retaining is asynchronous and best effort; recall and reflect are
// synchronous and their failures reach the caller.
package episodic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrDisabled is returned by Disabled for every call.
var ErrDisabled = errors.New("episodic memory is not configured")

// Replies used when the service has nothing to return.
const (
	NoMemories   = "I don't have any memories that match that."
	NoReflection = "I reflected but have nothing specific to share."
)

// Exchange is one persisted user/assistant pair handed to Retain.
type Exchange struct {
	ThreadID      string
	UserText      string
	AssistantText string
	UserID        string
	Channel       string
	Group         bool
	At            time.Time
}

// Service is the episodic memory boundary.
type Service interface {
	Retain(ctx context.Context, ex Exchange) error
	Recall(ctx context.Context, query string) (string, error)
	Reflect(ctx context.Context, query string) (string, error)
}

// Config holds connection settings for the memory service.
type Config struct {
	BaseURL string
	Bank    string
	Timeout time.Duration
}

// Client talks to a Hindsight-compatible HTTP API.
type Client struct {
	config     Config
	httpClient *http.Client
}

func New(config Config) *Client {
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
	}
}

type retainItem struct {
	Content   string            `json:"content"`
	Context   string            `json:"context"`
	Timestamp string            `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Tags      []string          `json:"tags,omitempty"`
}

type retainRequest struct {
	Items []retainItem `json:"items"`
	Async bool         `json:"async"`
}

type queryRequest struct {
	Query string `json:"query"`
}

type recallResponse struct {
	Results []struct {
		Text string `json:"text"`
	} `json:"results"`
}

type reflectResponse struct {
	Text string `json:"text"`
}

// Retain stores ex as a first-person narrative of the exchange.
func (c *Client) Retain(ctx context.Context, ex Exchange) error {
	at := ex.At
	if at.IsZero() {
		at = time.Now()
	}
	item := retainItem{
		Content:   Narrate(ex.UserText, ex.AssistantText),
		Context:   "conversation",
		Timestamp: at.UTC().Format(time.RFC3339),
		Metadata:  map[string]string{"request_id": uuid.NewString()},
		Tags:      Tags(ex),
	}
	if ex.ThreadID != "" {
		item.Metadata["thread_id"] = ex.ThreadID
	}
	return c.post(ctx, "/memories", retainRequest{Items: []retainItem{item}}, nil)
}

// Recall searches retained experiences. An empty result is not an error.
func (c *Client) Recall(ctx context.Context, query string) (string, error) {
	var resp recallResponse
	if err := c.post(ctx, "/memories/recall", queryRequest{Query: query}, &resp); err != nil {
		return "", err
	}
	var texts []string
	for _, r := range resp.Results {
		if t := strings.TrimSpace(r.Text); t != "" {
			texts = append(texts, t)
		}
	}
	if len(texts) == 0 {
		return NoMemories, nil
	}
	return "From my experience with the user:\n\n" + strings.Join(texts, "\n\n"), nil
}

// Reflect asks the service to synthesise an answer over retained memories.
func (c *Client) Reflect(ctx context.Context, query string) (string, error) {
	var resp reflectResponse
	if err := c.post(ctx, "/reflect", queryRequest{Query: query}, &resp); err != nil {
		return "", err
	}
	if t := strings.TrimSpace(resp.Text); t != "" {
		return t, nil
	}
	return NoReflection, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}
	endpoint := c.config.BaseURL + "/v1/default/banks/" + url.PathEscape(c.config.Bank) + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("episodic memory error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}

// Narrate renders an exchange as a first-person memory.
func Narrate(userText, assistantText string) string {
	userText = strings.TrimSpace(userText)
	assistantText = strings.TrimSpace(assistantText)
	if assistantText == "" {
		return fmt.Sprintf("The user reached out to me. They said: \"%s\"", userText)
	}
	return fmt.Sprintf("The user and I were in conversation. They said to me: \"%s\" I responded from our shared context: \"%s\"",
		userText, assistantText)
}

// Tags derives the user, channel and group tags for an exchange.
func Tags(ex Exchange) []string {
	var tags []string
	if id := strings.TrimSpace(ex.UserID); id != "" {
		if !strings.Contains(id, ":") {
			id = "user:" + id
		}
		tags = append(tags, id)
	}
	if ex.Channel != "" {
		tags = append(tags, "channel:"+strings.ToLower(ex.Channel))
	}
	if ex.Group {
		tags = append(tags, "group")
	}
	return tags
}

// Disabled stands in when no memory service is configured.
type Disabled struct{}

func (Disabled) Retain(context.Context, Exchange) error          { return ErrDisabled }
func (Disabled) Recall(context.Context, string) (string, error)  { return "", ErrDisabled }
func (Disabled) Reflect(context.Context, string) (string, error) { return "", ErrDisabled }
