package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/user/keepsake/internal/episodic"
	"github.com/user/keepsake/internal/types"
)

const (
	maxSearchResults = 20
	snippetLength    = 500
	// semanticThreshold is the keyword hit count below which "both" mode
	// also asks episodic memory.
	semanticThreshold = 3
)

// MessageSearcher finds messages by substring.
type MessageSearcher interface {
	SearchMessages(ctx context.Context, query string, thread types.ThreadID, limit int) ([]*types.Message, error)
}

// Recaller is the episodic recall surface.
type Recaller interface {
	Recall(ctx context.Context, query string) (string, error)
}

// ConversationSearch looks through the full message history beyond the
// recent window, and optionally through episodic memory.
type ConversationSearch struct {
	messages MessageSearcher
	recall   Recaller
	loc      *time.Location
}

func NewConversationSearch(messages MessageSearcher, recall Recaller, loc *time.Location) *ConversationSearch {
	if loc == nil {
		loc = time.UTC
	}
	return &ConversationSearch{messages: messages, recall: recall, loc: loc}
}

func (c *ConversationSearch) Name() string { return "conversation_search" }
func (c *ConversationSearch) Description() string {
	return "Search your full conversation history for messages matching a query. Your context only holds recent messages; use this when the user references something older or you need details outside the current window."
}
func (c *ConversationSearch) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string", "description": "Keywords, a phrase or a topic"},
			"mode": {"type": "string", "enum": ["keyword", "semantic", "both"], "description": "keyword for names, dates and exact phrases; semantic for topics and feelings; both runs keyword first and adds semantic recall when there are few hits (default)"},
			"limit": {"type": "integer", "description": "Maximum keyword results (default 10, max 20)"}
		},
		"required": ["query"]
	}`)
}

func (c *ConversationSearch) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var params struct {
		Query string `json:"query"`
		Mode  string `json:"mode"`
		Limit int    `json:"limit"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", fmt.Errorf("parse args: %w", err)
	}
	query := strings.TrimSpace(params.Query)
	if query == "" {
		return "", fmt.Errorf("%w: query is required", types.ErrValidation)
	}
	mode := params.Mode
	if mode == "" {
		mode = "both"
	}
	if mode != "keyword" && mode != "semantic" && mode != "both" {
		return "", fmt.Errorf("%w: unknown search mode %q", types.ErrValidation, mode)
	}
	limit := params.Limit
	if limit <= 0 {
		limit = 10
	}
	if limit > maxSearchResults {
		limit = maxSearchResults
	}

	var sections []string
	var hits []*types.Message
	if mode != "semantic" {
		var err error
		hits, err = c.messages.SearchMessages(ctx, query, "", limit)
		if err != nil {
			return "", fmt.Errorf("search messages: %w", err)
		}
		if len(hits) > 0 {
			sections = append(sections, "--- Keyword matches from conversation history ---", c.format(hits))
		}
	}

	if mode == "semantic" || (mode == "both" && len(hits) < semanticThreshold) {
		if text := c.semantic(ctx, query); text != "" {
			sections = append(sections, "--- Semantic recall from Hindsight ---", text)
		}
	}

	if len(sections) == 0 {
		return fmt.Sprintf("No conversation history found matching '%s'.", query), nil
	}
	return strings.Join(sections, "\n\n"), nil
}

// semantic returns recalled text, or "" when episodic memory has nothing
// or is unavailable.
func (c *ConversationSearch) semantic(ctx context.Context, query string) string {
	if c.recall == nil {
		return ""
	}
	text, err := c.recall.Recall(ctx, query)
	if err != nil {
		slog.Warn("semantic recall unavailable", "error", err)
		return ""
	}
	if text == episodic.NoMemories {
		return ""
	}
	return strings.TrimSpace(text)
}

func (c *ConversationSearch) format(msgs []*types.Message) string {
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		role := string(m.Role)
		if role != "" {
			role = strings.ToUpper(role[:1]) + role[1:]
		}
		content := strings.TrimSpace(m.Content)
		if r := []rune(content); len(r) > snippetLength {
			content = string(r[:snippetLength]) + "…"
		}
		parts = append(parts, fmt.Sprintf("[%s @ %s]\n%s", role, m.CreatedAt.In(c.loc).Format("2006-01-02 15:04"), content))
	}
	return strings.Join(parts, "\n\n")
}
