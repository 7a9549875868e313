// Package tools implements the memory and scheduling tools offered to the
// reasoning engine. Each tool validates its own arguments and returns a
// short plain-text result.
package tools

import (
	"context"
	"encoding/json"
	"time"
)

// Tool mirrors runtime.Tool so this package does not depend on the runtime.
type Tool interface {
	Name() string
	Description() string
	Parameters() json.RawMessage
	Execute(ctx context.Context, args json.RawMessage) (string, error)
}

// Episodic is the recall and reflect surface of episodic memory.
type Episodic interface {
	Recaller
	Reflector
}

// Deps are the services the tool surface runs against.
type Deps struct {
	Blocks    BlockEditor
	Facts     FactArchive
	Summaries SummaryWriter
	Messages  MessageSearcher
	Episodic  Episodic
	Jobs      JobManager
	Location  *time.Location
}

// All builds the full tool surface in manifest order. Tools whose
// dependency is missing are left out.
func All(d Deps) []Tool {
	var out []Tool
	if d.Blocks != nil {
		out = append(out,
			NewCoreMemoryAppend(d.Blocks),
			NewCoreMemoryUpdate(d.Blocks),
			NewCoreMemoryRollback(d.Blocks),
		)
	}
	if d.Facts != nil {
		out = append(out, NewArchivalStore(d.Facts), NewArchivalQuery(d.Facts))
	}
	if d.Summaries != nil {
		out = append(out, NewDailySummaryWrite(d.Summaries))
	}
	if d.Messages != nil {
		var recall Recaller
		if d.Episodic != nil {
			recall = d.Episodic
		}
		out = append(out, NewConversationSearch(d.Messages, recall, d.Location))
	}
	if d.Episodic != nil {
		out = append(out, NewHindsightRecall(d.Episodic), NewHindsightReflect(d.Episodic))
	}
	if d.Jobs != nil {
		out = append(out, CronTools(d.Jobs)...)
	}
	return out
}
