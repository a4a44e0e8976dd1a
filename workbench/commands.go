package workbench

import (
	"context"
	"errors"
	"fmt"

	"github.com/martinemde/orion/agentloop"
	"github.com/martinemde/orion/changeset"
	"github.com/martinemde/orion/storage"
	"go.uber.org/zap"
)

var helpLines = []string{
	":preview              - Show pending changes",
	":apply                - Apply all pending changes",
	":discard-change <id>  - Discard a pending change by id",
	":clear-changes        - Discard all pending changes",
	":refresh              - Rescan the repository and rebuild system state",
	":refresh-deps         - Check cached summaries of external Project Descriptions",
	":status               - Show status summary",
	":consolidate          - Manually consolidate pending changes",
	":help                 - Show this help",
	":quit                 - Exit",
}

// Help lists the commands.
func (s *Session) Help() {
	s.ui.SendToUser("Commands:")
	for _, l := range helpLines {
		s.ui.SendToUser(l)
	}
}

// Preview shows the pending change specs.
func (s *Session) Preview() error {
	md, err := s.st.LoadMetadata()
	if err != nil {
		return err
	}
	if len(md.PendingChanges) == 0 {
		s.ui.SendToUser("No pending changes.")
		return nil
	}
	s.ui.SendToUser(fmt.Sprintf("Pending changes (%d):", len(md.PendingChanges)))
	for _, ch := range md.PendingChanges {
		s.ui.SendToUser(fmt.Sprintf("- %s | %s", ch.ID, ch.Title))
		s.ui.SendToUser("  " + ch.Description)
		for _, it := range ch.Items {
			s.ui.SendToUser(fmt.Sprintf("  * %s %s: %s", it.ChangeType, it.Path, it.SummaryOfChange))
		}
	}
	return nil
}

// Discard removes one pending change by id.
func (s *Session) Discard(ctx context.Context, id string) error {
	var (
		pending []changeset.ChangeSpec
		found   bool
	)
	if _, err := s.st.UpdateMetadata(func(md *storage.Metadata) error {
		pending, found = changeset.Discard(md.PendingChanges, id)
		md.PendingChanges = pending
		return nil
	}); err != nil {
		return err
	}
	if !found {
		s.ui.SendToUser(fmt.Sprintf("No change with id %s found.", id))
		return nil
	}
	s.ui.SendToUser(fmt.Sprintf("Discarded change %s.", id))
	return s.syncPending(ctx, pending)
}

// ClearChanges drops every pending change.
func (s *Session) ClearChanges(ctx context.Context) error {
	if _, err := s.st.UpdateMetadata(func(md *storage.Metadata) error {
		md.PendingChanges = []changeset.ChangeSpec{}
		return nil
	}); err != nil {
		return err
	}
	s.ui.SendToUser("Cleared all pending changes.")
	return s.syncPending(ctx, nil)
}

// Consolidate removes duplicate pending changes and resets the batch
// counter.
func (s *Session) Consolidate(ctx context.Context) error {
	var pending []changeset.ChangeSpec
	if _, err := s.st.UpdateMetadata(func(md *storage.Metadata) error {
		pending = changeset.Consolidate(md.PendingChanges)
		md.PendingChanges = pending
		md.BatchesSinceLastConsolidation = 0
		return nil
	}); err != nil {
		return err
	}
	s.ui.Log(fmt.Sprintf("Consolidated. Pending changes now: %d", len(pending)))
	return s.syncPending(ctx, pending)
}

// syncPending mirrors the pending list into the system state, loading the
// state first when no turn has run yet.
func (s *Session) syncPending(ctx context.Context, pending []changeset.ChangeSpec) error {
	if s.state.Current() == nil {
		_, err := s.state.Ensure(ctx)
		return err
	}
	return s.state.SetPendingChanges(pending)
}

// Status prints a summary of the session and repository.
func (s *Session) Status(ctx context.Context) error {
	md, err := s.st.LoadMetadata()
	if err != nil {
		return err
	}
	paths, err := s.ws.ListPaths(ctx)
	if err != nil {
		return err
	}
	s.ui.SendToUser("Repo root: " + s.ws.Root())
	s.ui.SendToUser("Plan ID: " + md.PlanState.PlanID)
	s.ui.SendToUser(fmt.Sprintf("Pending changes: %d", len(md.PendingChanges)))
	s.ui.SendToUser(fmt.Sprintf("Batches since last consolidation: %d", md.BatchesSinceLastConsolidation))
	s.ui.SendToUser(fmt.Sprintf("Commit log entries: %d", len(md.PlanState.CommitLog)))
	s.ui.SendToUser(fmt.Sprintf("Files (non-ignored): %d", len(paths)))
	s.ui.SendToUser(fmt.Sprintf("Tracked digests: %d", len(md.PathToDigest)))
	version := md.StateVersion
	if cur := s.state.Current(); cur != nil {
		version = cur.Version
	}
	s.ui.SendToUser(fmt.Sprintf("State version: %d", version))
	s.ui.SendToUser(fmt.Sprintf("Archived conversations: %d", len(md.ConversationRefs)))
	if s.deps != nil {
		count := 0
		if names, err := s.deps.List(ctx); err == nil {
			count = len(names)
		}
		s.ui.SendToUser(fmt.Sprintf("External PD root: %s (flat). PD files: %d", s.deps.Root(), count))
	}
	return nil
}

// RefreshDeps reports which external Project Descriptions lack a current
// cached summary. Summaries are never generated here.
func (s *Session) RefreshDeps(ctx context.Context) error {
	if s.deps == nil {
		s.ui.Log("External directory not set or invalid; nothing to refresh.")
		return nil
	}
	names, err := s.deps.List(ctx)
	if err != nil {
		return err
	}
	missing, stale := 0, 0
	for _, name := range names {
		_, isStale, err := s.deps.Summary(name)
		switch {
		case errors.Is(err, agentloop.ErrNoSummary):
			missing++
		case err != nil:
			s.logger.Warn("unreadable project summary", zap.String("file", name), zap.Error(err))
			missing++
		case isStale:
			stale++
		}
	}
	s.ui.Log(fmt.Sprintf("Project descriptions: %d; %d without summary; %d stale.", len(names), missing, stale))
	return nil
}

// Refresh rescans the repository and rebuilds the system state from the
// current digests and colocated summaries.
func (s *Session) Refresh(ctx context.Context) error {
	before, err := s.st.LoadMetadata()
	if err != nil {
		return err
	}
	snap, err := s.state.Rebuild(ctx)
	if err != nil {
		return err
	}
	after, err := s.st.LoadMetadata()
	if err != nil {
		return err
	}

	changed := 0
	for p, d := range after.PathToDigest {
		if before.PathToDigest[p] != d {
			changed++
		}
	}
	unsummarized := 0
	for _, v := range snap.Files {
		if string(v.Body) == "null" {
			unsummarized++
		}
	}
	s.ui.Log(fmt.Sprintf("Refreshed %d file(s); %d changed since last scan; %d without summary.",
		len(snap.Files), changed, unsummarized))
	return nil
}
