package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/user/keepsake/internal/types"
)

// Reflector synthesises answers over episodic memory.
type Reflector interface {
	Reflect(ctx context.Context, query string) (string, error)
}

func parseQuery(args json.RawMessage) (string, error) {
	var params struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", fmt.Errorf("parse args: %w", err)
	}
	q := strings.TrimSpace(params.Query)
	if q == "" {
		return "", fmt.Errorf("%w: query is required", types.ErrValidation)
	}
	return q, nil
}

var queryParameters = json.RawMessage(`{
	"type": "object",
	"properties": {
		"query": {"type": "string", "description": "What to search for or reflect on"}
	},
	"required": ["query"]
}`)

// HindsightRecall searches episodic memory for past experiences.
type HindsightRecall struct{ recall Recaller }

func NewHindsightRecall(recall Recaller) *HindsightRecall { return &HindsightRecall{recall: recall} }

func (h *HindsightRecall) Name() string { return "hindsight_recall" }
func (h *HindsightRecall) Description() string {
	return "Search your deep memory for past experiences. Use when the user references an event, project or detail that is not in core memory or the loaded history; the results are your own recollections."
}
func (h *HindsightRecall) Parameters() json.RawMessage { return queryParameters }

func (h *HindsightRecall) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	q, err := parseQuery(args)
	if err != nil {
		return "", err
	}
	return h.recall.Recall(ctx, q)
}

// HindsightReflect asks episodic memory to reason over retained experience.
type HindsightReflect struct{ reflect Reflector }

func NewHindsightReflect(reflect Reflector) *HindsightReflect {
	return &HindsightReflect{reflect: reflect}
}

func (h *HindsightReflect) Name() string { return "hindsight_reflect" }
func (h *HindsightReflect) Description() string {
	return "Reflect on your memories to find patterns and insights. Use for deep, relational or pattern-based questions that go beyond recalling a single event."
}
func (h *HindsightReflect) Parameters() json.RawMessage { return queryParameters }

func (h *HindsightReflect) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	q, err := parseQuery(args)
	if err != nil {
		return "", err
	}
	return h.reflect.Reflect(ctx, q)
}
