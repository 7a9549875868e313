package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/user/keepsake/internal/types"
)

// FactArchive stores and searches curated facts.
type FactArchive interface {
	Store(ctx context.Context, content, category string) (*types.ArchivalFact, error)
	Query(ctx context.Context, query, category string, limit int) ([]*types.ArchivalFact, error)
}

// ArchivalStore saves a fact to archival memory.
type ArchivalStore struct{ archive FactArchive }

func NewArchivalStore(archive FactArchive) *ArchivalStore { return &ArchivalStore{archive: archive} }

func (a *ArchivalStore) Name() string { return "archival_store" }
func (a *ArchivalStore) Description() string {
	return "Store a fact in your archival memory for the long term. Use for preferences, decisions and key details worth keeping beyond this conversation; this is curated memory, not raw chat."
}
func (a *ArchivalStore) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"content": {"type": "string", "description": "The fact to store, clear and concise"},
			"category": {"type": "string", "description": "Optional category such as preferences, projects or family"}
		},
		"required": ["content"]
	}`)
}

func (a *ArchivalStore) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var params struct {
		Content  string `json:"content"`
		Category string `json:"category"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", fmt.Errorf("parse args: %w", err)
	}
	fact, err := a.archive.Store(ctx, params.Content, params.Category)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Stored fact %d.", fact.ID), nil
}

// ArchivalQuery searches archival memory.
type ArchivalQuery struct{ archive FactArchive }

func NewArchivalQuery(archive FactArchive) *ArchivalQuery { return &ArchivalQuery{archive: archive} }

func (a *ArchivalQuery) Name() string { return "archival_query" }
func (a *ArchivalQuery) Description() string {
	return "Query your archival memory for facts you stored. Searches archived facts by keyword, not conversation history."
}
func (a *ArchivalQuery) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string", "description": "Keywords or phrase to search for"},
			"category": {"type": "string", "description": "Optional category filter"},
			"limit": {"type": "integer", "description": "Maximum results (default 20, max 50)"}
		},
		"required": ["query"]
	}`)
}

func (a *ArchivalQuery) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var params struct {
		Query    string `json:"query"`
		Category string `json:"category"`
		Limit    int    `json:"limit"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", fmt.Errorf("parse args: %w", err)
	}
	facts, err := a.archive.Query(ctx, params.Query, params.Category, params.Limit)
	if err != nil {
		return "", err
	}
	if len(facts) == 0 {
		return "No matching facts in archival memory.", nil
	}
	var sb strings.Builder
	for i, f := range facts {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("- " + f.Content)
		if f.Category != "" {
			sb.WriteString(" [" + f.Category + "]")
		}
	}
	return sb.String(), nil
}

// SummaryWriter upserts daily summaries.
type SummaryWriter interface {
	Write(ctx context.Context, date, content string) (*types.DailySummary, error)
	Today() string
}

// DailySummaryWrite records the agent's summary of a day.
type DailySummaryWrite struct{ summaries SummaryWriter }

func NewDailySummaryWrite(summaries SummaryWriter) *DailySummaryWrite {
	return &DailySummaryWrite{summaries: summaries}
}

func (d *DailySummaryWrite) Name() string { return "daily_summary_write" }
func (d *DailySummaryWrite) Description() string {
	return "Write or replace the daily summary for a date. Recent summaries are loaded into your context every turn, so a good summary keeps the shape of the day after its messages scroll away."
}
func (d *DailySummaryWrite) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"date": {"type": "string", "description": "Date in YYYY-MM-DD format; defaults to today"},
			"summary": {"type": "string", "description": "3-8 sentences covering key topics, outcomes and anything to remember tomorrow"}
		},
		"required": ["summary"]
	}`)
}

func (d *DailySummaryWrite) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var params struct {
		Date    string `json:"date"`
		Summary string `json:"summary"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", fmt.Errorf("parse args: %w", err)
	}
	date := strings.TrimSpace(params.Date)
	if date == "" {
		date = d.summaries.Today()
	}
	row, err := d.summaries.Write(ctx, date, params.Summary)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Daily summary saved for %s.", row.Date), nil
}
