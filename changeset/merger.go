package changeset

import "go.uber.org/zap"

// DefaultConsolidateEvery is the number of accepted batches between automatic
// consolidations.
const DefaultConsolidateEvery = 3

// MergeStats counts how each proposed spec was handled.
type MergeStats struct {
	Added    int
	Replaced int
	Deleted  int
	Ignored  int
	Rejected int
}

// Outcome is the result of merging one batch.
type Outcome struct {
	Pending      []ChangeSpec
	Batches      int
	Consolidated bool
	Stats        MergeStats
}

// Merger folds model-proposed batches into the pending list.
type Merger struct {
	consolidateEvery int
	logger           *zap.Logger
}

// MergerOption configures a Merger.
type MergerOption func(*Merger)

// WithConsolidateEvery sets the automatic consolidation cadence; zero
// disables it.
func WithConsolidateEvery(n int) MergerOption {
	return func(m *Merger) {
		if n >= 0 {
			m.consolidateEvery = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) MergerOption {
	return func(m *Merger) {
		m.logger = l
	}
}

// NewMerger creates a merger.
func NewMerger(opts ...MergerOption) *Merger {
	m := &Merger{
		consolidateEvery: DefaultConsolidateEvery,
		logger:           zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Merge applies proposed specs to pending in order:
//
//	existing id, non-empty items -> replace in place
//	existing id, empty items     -> delete
//	new id, non-empty items      -> append
//	new id, empty items          -> ignore
//
// Invalid specs are dropped with a warning. The input slices are not
// modified.
func (m *Merger) Merge(pending, proposed []ChangeSpec) ([]ChangeSpec, MergeStats) {
	out := Clone(pending)
	if out == nil {
		out = []ChangeSpec{}
	}
	var stats MergeStats
	for _, raw := range proposed {
		spec, err := Validate(raw)
		if err != nil {
			m.logger.Warn("dropping invalid change spec", zap.Error(err))
			stats.Rejected++
			continue
		}
		idx := indexOf(out, spec.ID)
		switch {
		case idx >= 0 && len(spec.Items) > 0:
			out[idx] = spec
			stats.Replaced++
		case idx >= 0:
			out = append(out[:idx], out[idx+1:]...)
			stats.Deleted++
		case len(spec.Items) > 0:
			out = append(out, spec)
			stats.Added++
		default:
			stats.Ignored++
		}
	}
	return out, stats
}

// Accept merges a batch and advances the batch counter. A batch counts when
// at least one of its specs passed validation. Every consolidateEvery
// counted batches the pending list is consolidated and the counter resets.
func (m *Merger) Accept(pending []ChangeSpec, batches int, proposed []ChangeSpec) Outcome {
	merged, stats := m.Merge(pending, proposed)
	out := Outcome{Pending: merged, Batches: batches, Stats: stats}
	if len(proposed) == 0 || stats.Rejected == len(proposed) {
		return out
	}
	out.Batches++
	n := m.consolidateEvery
	if n > 0 && out.Batches >= n && out.Batches%n == 0 {
		before := len(out.Pending)
		out.Pending = Consolidate(out.Pending)
		out.Batches = 0
		out.Consolidated = true
		m.logger.Info("consolidated pending changes",
			zap.Int("before", before),
			zap.Int("after", len(out.Pending)))
	}
	return out
}

func indexOf(specs []ChangeSpec, id string) int {
	for i, s := range specs {
		if s.ID == id {
			return i
		}
	}
	return -1
}
