package storage

import (
	"time"

	"github.com/martinemde/orion/changeset"
)

// FileStat counts line changes for one written file.
type FileStat struct {
	Path    string `json:"path"`
	Added   int    `json:"added"`
	Removed int    `json:"removed"`
}

// CommitEntry records one successful apply.
type CommitEntry struct {
	ID          string     `json:"id"`
	TS          float64    `json:"ts"`
	Paths       []string   `json:"paths"`
	Explanation string     `json:"explanation"`
	Stats       []FileStat `json:"stats,omitempty"`
}

// PlanState is the durable plan record.
type PlanState struct {
	PlanID    string        `json:"plan_id"`
	CommitLog []CommitEntry `json:"commit_log"`
}

// ArchivePointer references a rotated transcript.
type ArchivePointer struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Filename  string    `json:"filename"`
	Synopsis  string    `json:"synopsis"`
}

// Metadata is the single durable document under the metadata directory.
type Metadata struct {
	PlanState                     PlanState              `json:"plan_state"`
	PendingChanges                []changeset.ChangeSpec `json:"pending_changes"`
	BatchesSinceLastConsolidation int                    `json:"batches_since_last_consolidation"`
	PathToDigest                  map[string]string      `json:"path_to_digest"`
	ConversationRefs              []ArchivePointer       `json:"conversation_refs"`
	StateVersion                  int                    `json:"state_version"`
}

// DefaultMetadata returns an empty document.
func DefaultMetadata() *Metadata {
	md := &Metadata{}
	md.normalize()
	return md
}

func (md *Metadata) normalize() {
	if md.PlanState.CommitLog == nil {
		md.PlanState.CommitLog = []CommitEntry{}
	}
	if md.PendingChanges == nil {
		md.PendingChanges = []changeset.ChangeSpec{}
	}
	if md.PathToDigest == nil {
		md.PathToDigest = map[string]string{}
	}
	if md.ConversationRefs == nil {
		md.ConversationRefs = []ArchivePointer{}
	}
}
