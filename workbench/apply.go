package workbench

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/martinemde/orion/agentloop"
	"github.com/martinemde/orion/changeset"
	"github.com/martinemde/orion/llm"
	"github.com/martinemde/orion/state"
	"github.com/martinemde/orion/storage"
	"github.com/sergi/go-diff/diffmatchpatch"
	"go.uber.org/zap"
)

// Apply asks the model to implement every pending change as whole-file
// replacements. On success the files are written and the commit entry is
// recorded together with the cleared pending log. Then the conversation is
// archived and the system state is rebuilt.
// Files left over the line cap get a follow-up split change.
func (s *Session) Apply(ctx context.Context) error {
	md, err := s.st.LoadMetadata()
	if err != nil {
		return err
	}
	pending := md.PendingChanges
	if len(pending) == 0 {
		s.ui.SendToUser("No pending changes to apply.")
		return nil
	}

	before := make(map[string]string)
	req := applyRequest{Changes: pending, Files: []applyFile{}}
	for _, p := range changeset.AffectedPaths(pending) {
		content := ""
		if s.ws.Exists(p) {
			if c, err := s.ws.ReadFile(p); err == nil {
				content = c
			} else {
				s.logger.Warn("unreadable file in apply request", zap.String("path", p), zap.Error(err))
			}
		}
		before[p] = content
		req.Files = append(req.Files, applyFile{Path: p, Content: content})
	}
	userText, err := encodeJSON(req)
	if err != nil {
		return err
	}

	s.ui.Log("Calling model to apply changes...")
	raw, err := s.newLoop(false).Run(ctx, agentloop.Call{
		Input: []llm.Item{
			llm.SystemMessage(prompt("apply.txt", s.cfg.LineCap)),
			llm.UserMessage(userText),
		},
		Schema:     applySchema,
		SchemaName: "ApplyResponse",
		Class:      llm.CallApply,
	})
	if err != nil {
		return err
	}

	resp, err := llm.DecodeObject[ApplyResponse](string(raw))
	if err == nil {
		err = validateApply(&resp)
	}
	if err != nil {
		s.ui.ErrorMessage(fmt.Sprintf("Apply failed: invalid response from model: %v", err))
		return nil
	}

	if resp.Mode == ModeIncompatible {
		s.ui.SendToUser("Model reported incompatibility:")
		for _, issue := range resp.Issues {
			s.ui.SendToUser(fmt.Sprintf("- %s: %s", issue.Reason, strings.Join(issue.Paths, ", ")))
		}
		s.ui.SendToUser("Explanation: " + resp.Explanation)
		return nil
	}

	for _, f := range resp.Files {
		if _, err := s.ws.Resolve(f.Path); err != nil {
			s.ui.ErrorMessage(fmt.Sprintf("Apply failed: refusing to write %s: %v", f.Path, err))
			return nil
		}
	}
	written := make([]string, 0, len(resp.Files))
	stats := make([]storage.FileStat, 0, len(resp.Files))
	for _, f := range resp.Files {
		if err := s.ws.WriteFile(f.Path, f.Contents); err != nil {
			return fmt.Errorf("write %s: %w", f.Path, err)
		}
		written = append(written, f.Path)
		stats = append(stats, lineStats(f.Path, before[f.Path], f.Contents))
	}

	entry := storage.CommitEntry{
		ID:          s.newID(),
		TS:          float64(s.now().UnixNano()) / 1e9,
		Paths:       written,
		Explanation: resp.Explanation,
		Stats:       stats,
	}
	splits := s.splitFollowUps(resp.Files)
	if _, err := s.st.UpdateMetadata(func(md *storage.Metadata) error {
		md.PlanState.CommitLog = append(md.PlanState.CommitLog, entry)
		md.PendingChanges = splits
		md.BatchesSinceLastConsolidation = 0
		return nil
	}); err != nil {
		return err
	}
	s.ui.Log(fmt.Sprintf("Wrote %d files. Explanation: %s", len(written), resp.Explanation))
	if len(splits) > 0 {
		s.ui.Log(fmt.Sprintf("Added %d split follow-up change(s) due to LINE_CAP.", len(splits)))
	}

	if _, err := s.archiver.Archive(ctx, written, len(pending)); err != nil {
		return fmt.Errorf("archive conversation: %w", err)
	}
	s.ui.Log("Cleared conversation history and pending change log.")

	_, err = s.state.Rebuild(ctx)
	return err
}

func validateApply(resp *ApplyResponse) error {
	switch resp.Mode {
	case ModeOK, ModeIncompatible:
	default:
		return fmt.Errorf("unknown mode %q", resp.Mode)
	}
	for i := range resp.Files {
		p := changeset.NormalizePath(resp.Files[i].Path)
		if p == "" {
			return fmt.Errorf("file %d has no path", i)
		}
		resp.Files[i].Path = p
	}
	for i := range resp.Issues {
		for j, p := range resp.Issues[i].Paths {
			resp.Issues[i].Paths[j] = changeset.NormalizePath(p)
		}
	}
	return nil
}

// splitFollowUps queues a split for every written file over the line cap.
func (s *Session) splitFollowUps(files []FileOutput) []changeset.ChangeSpec {
	out := []changeset.ChangeSpec{}
	for _, f := range files {
		lines := state.CountLines(f.Contents)
		if lines <= s.cfg.LineCap {
			continue
		}
		ext := path.Ext(f.Path)
		stem := strings.TrimSuffix(path.Base(f.Path), ext)
		part2 := path.Join(path.Dir(f.Path), stem+"_part2"+ext)
		id := s.newID()
		if len(id) > 8 {
			id = id[:8]
		}
		out = append(out, changeset.ChangeSpec{
			ID:          "split-" + id,
			Title:       fmt.Sprintf("Split %s to meet LINE_CAP", f.Path),
			Description: "Split required to reduce line count",
			Items: []changeset.ChangeItem{
				{Path: f.Path, ChangeType: changeset.Modify, SummaryOfChange: fmt.Sprintf("Reduce lines from %d to below %d", lines, s.cfg.LineCap)},
				{Path: changeset.NormalizePath(part2), ChangeType: changeset.Create, SummaryOfChange: "Create second part of split"},
			},
		})
	}
	return out
}

// lineStats counts added and removed lines between two versions of a file.
func lineStats(p, before, after string) storage.FileStat {
	dmp := diffmatchpatch.New()
	beforeChars, afterChars, lineArray := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffMain(beforeChars, afterChars, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	st := storage.FileStat{Path: p}
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			st.Added += state.CountLines(d.Text)
		case diffmatchpatch.DiffDelete:
			st.Removed += state.CountLines(d.Text)
		}
	}
	return st
}

func encodeJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}
