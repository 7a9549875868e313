// internal/types/interfaces.go
package types

import (
	"context"
	"time"
)

type MessageStore interface {
	// AppendMessages assigns consecutive idx values and inserts msgs in one
	// transaction. Idx and CreatedAt are written back into msgs.
	AppendMessages(ctx context.Context, thread ThreadID, msgs []*Message) error
	LastMessages(ctx context.Context, thread ThreadID, n int) ([]*Message, error)
	RecentMessages(ctx context.Context, thread ThreadID, limit int) ([]*Message, error)
	MessagesSince(ctx context.Context, thread ThreadID, since time.Time) ([]*Message, error)
	CountSince(ctx context.Context, thread ThreadID, since time.Time) (int, error)
	CountMessages(ctx context.Context, thread ThreadID) (int64, error)
	SearchMessages(ctx context.Context, query string, thread ThreadID, limit int) ([]*Message, error)
}

type MemoryStore interface {
	GetBlock(ctx context.Context, bt BlockType) (*CoreMemoryBlock, error)
	ListBlocks(ctx context.Context) ([]*CoreMemoryBlock, error)
	// SwapBlock pushes the current content onto the history stack and
	// replaces it, provided the block is still at expectRevision.
	SwapBlock(ctx context.Context, bt BlockType, expectRevision int64, content string, at time.Time) (*CoreMemoryBlock, error)
	// PopBlock restores the newest history entry, provided the block is
	// still at expectRevision.
	PopBlock(ctx context.Context, bt BlockType, expectRevision int64, at time.Time) (*CoreMemoryBlock, error)
	History(ctx context.Context, bt BlockType, limit int) ([]*HistoryEntry, error)
	HistoryDepth(ctx context.Context, bt BlockType) (int, error)
}

type SummaryStore interface {
	UpsertSummary(ctx context.Context, date, content string, at time.Time) (*DailySummary, error)
	TrailingSummaries(ctx context.Context, from, to string, limit int) ([]*DailySummary, error)
}

type FactStore interface {
	InsertFact(ctx context.Context, content, category string, at time.Time) (*ArchivalFact, error)
	SearchFacts(ctx context.Context, query, category string, limit int) ([]*ArchivalFact, error)
}

type JobStore interface {
	CreateJob(ctx context.Context, job *CronJob) error
	GetJob(ctx context.Context, id JobID) (*CronJob, error)
	ListJobs(ctx context.Context, status JobStatus) ([]*CronJob, error)
	UpdateJob(ctx context.Context, job *CronJob) error
	DeleteJob(ctx context.Context, id JobID) error
	SetJobStatus(ctx context.Context, id JobID, status JobStatus) (*CronJob, error)
	// RecordJobRun increments run_count and stores the outcome of one
	// trigger attempt. When pause is set the job is also moved to paused.
	RecordJobRun(ctx context.Context, id JobID, at time.Time, status JobRunStatus, runErr string, pause bool) (*CronJob, error)
}

type StateStore interface {
	GetState(ctx context.Context, key string) (string, error)
	PutState(ctx context.Context, key, value string, at time.Time) error
}

// Lease is a claim on a name shared by every process using the store. It is
// held until Release.
type Lease interface {
	Release(ctx context.Context) error
}

type LeaseStore interface {
	// TryLease claims name if no live lease holds it and reports whether it
	// succeeded.
	TryLease(ctx context.Context, name string) (Lease, bool, error)
	// AcquireLease waits until name can be claimed or ctx ends.
	AcquireLease(ctx context.Context, name string) (Lease, error)
}
