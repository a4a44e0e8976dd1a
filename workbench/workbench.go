// Package workbench runs an interactive session over one repository: it
// routes user input to commands or conversation turns, merges proposed
// changes, and applies them.
package workbench

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/martinemde/orion/agentloop"
	"github.com/martinemde/orion/archive"
	"github.com/martinemde/orion/changeset"
	"github.com/martinemde/orion/config"
	"github.com/martinemde/orion/llm"
	"github.com/martinemde/orion/logging"
	"github.com/martinemde/orion/repo"
	"github.com/martinemde/orion/state"
	"github.com/martinemde/orion/storage"
	"go.uber.org/zap"
)

// ErrQuit is returned by HandleInput for the :quit command.
var ErrQuit = errors.New("quit")

// Session wires the workbench components for one repository.
type Session struct {
	cfg      *config.Settings
	ws       *repo.Workspace
	st       *storage.Store
	state    *state.Store
	merger   *changeset.Merger
	runner   llm.TurnRunner
	registry *agentloop.Registry
	archiver *archive.Archiver
	ui       logging.Context
	logger   *zap.Logger

	summarizer archive.Summarizer
	deps       *repo.Descriptions
	workDir    string
	model      string
	now        func() time.Time
	newID      func() string
}

// Option configures a Session.
type Option func(*Session)

// WithSettings replaces the default settings.
func WithSettings(cfg *config.Settings) Option {
	return func(s *Session) {
		if cfg != nil {
			s.cfg = cfg
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Session) {
		s.logger = l
	}
}

// WithSummarizer replaces the archive summarizer. By default synopses are
// requested from the session runner.
func WithSummarizer(sum archive.Summarizer) Option {
	return func(s *Session) {
		s.summarizer = sum
	}
}

// WithWorkDir sets the directory reported in the environment context.
func WithWorkDir(dir string) Option {
	return func(s *Session) {
		s.workDir = dir
	}
}

// WithModel sets the model name reported in the environment context.
func WithModel(model string) Option {
	return func(s *Session) {
		s.model = model
	}
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		s.now = now
	}
}

// WithDescriptions enables the dependency Project Description tools.
func WithDescriptions(d *repo.Descriptions) Option {
	return func(s *Session) {
		s.deps = d
	}
}

// WithIDFunc replaces the id generator used for commits, plans, and
// archive pointers.
func WithIDFunc(fn func() string) Option {
	return func(s *Session) {
		s.newID = fn
	}
}

// New creates a session over ws. runner serves every remote call and ui is
// where the session talks to the user.
func New(ws *repo.Workspace, runner llm.TurnRunner, ui logging.Context, opts ...Option) (*Session, error) {
	s := &Session{
		cfg:    config.Default(),
		ws:     ws,
		runner: runner,
		ui:     ui,
		logger: zap.NewNop(),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.summarizer == nil {
		s.summarizer = archive.NewDriverSummarizer(runner)
	}

	s.st = storage.New(ws.Fs(), "/", storage.WithClock(s.now), storage.WithLogger(s.logger))
	s.state = state.NewStore(s.st, ws, state.WithLogger(s.logger))
	s.merger = changeset.NewMerger(
		changeset.WithConsolidateEvery(s.cfg.ConsolidateEvery),
		changeset.WithLogger(s.logger),
	)
	s.archiver = archive.New(s.st, s.summarizer,
		archive.WithCap(s.cfg.ArchiveCap),
		archive.WithIDFunc(s.newID),
		archive.WithLogger(s.logger),
	)

	var extra []agentloop.Tool
	if s.deps != nil {
		extra = agentloop.DescriptionTools(s.deps)
	}
	registry, err := agentloop.NewCoreRegistry(ws, ui, extra...)
	if err != nil {
		return nil, fmt.Errorf("register tools: %w", err)
	}
	s.registry = registry

	if _, err := s.st.UpdateMetadata(func(md *storage.Metadata) error {
		if md.PlanState.PlanID == "" {
			md.PlanState.PlanID = s.newID()
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return s, nil
}

// Storage returns the session storage.
func (s *Session) Storage() *storage.Store { return s.st }

// State returns the session state store.
func (s *Session) State() *state.Store { return s.state }

// HandleInput runs a ":" command or a conversation turn. Failures are
// reported to the user and do not end the session; only :quit returns an
// error, ErrQuit.
func (s *Session) HandleInput(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if !strings.HasPrefix(text, ":") {
		return s.report(s.Converse(ctx, text))
	}

	parts := strings.Fields(text)
	switch parts[0] {
	case ":help":
		s.Help()
	case ":preview":
		return s.report(s.Preview())
	case ":apply":
		return s.report(s.Apply(ctx))
	case ":discard-change":
		if len(parts) < 2 {
			s.ui.ErrorMessage("Usage: :discard-change <id>")
			return nil
		}
		return s.report(s.Discard(ctx, parts[1]))
	case ":clear-changes":
		return s.report(s.ClearChanges(ctx))
	case ":refresh":
		return s.report(s.Refresh(ctx))
	case ":refresh-deps":
		return s.report(s.RefreshDeps(ctx))
	case ":status":
		return s.report(s.Status(ctx))
	case ":consolidate":
		return s.report(s.Consolidate(ctx))
	case ":quit":
		s.ui.SendToUser("Goodbye.")
		return ErrQuit
	default:
		s.ui.ErrorMessage(fmt.Sprintf("Unknown command: %s. Type :help for help.", parts[0]))
	}
	return nil
}

// report shows a failed command or turn to the user.
func (s *Session) report(err error) error {
	if err != nil {
		s.logger.Warn("command failed", zap.Error(err))
		s.ui.ErrorMessage(err.Error())
	}
	return nil
}

// Converse runs one conversation turn for text.
func (s *Session) Converse(ctx context.Context, text string) error {
	if _, err := s.state.Ensure(ctx); err != nil {
		return err
	}
	if err := s.st.AppendItem(llm.UserMessage(text)); err != nil {
		return err
	}
	history, err := s.st.LoadTranscript()
	if err != nil {
		return err
	}
	input := state.Assemble(history, s.systemPrompt(), s.cfg.ConvCapTurns)

	s.ui.Log("Calling model for conversation response...")
	var resp ConversationResponse
	if _, err := s.newLoop(true).Run(ctx, agentloop.Call{
		Input:      input,
		Schema:     conversationSchema,
		SchemaName: "ConversationResponse",
		Class:      llm.CallConversation,
		Sink:       agentloop.SinkFunc(s.st.AppendItem),
		Decode: func(raw json.RawMessage) (err error) {
			resp, err = llm.DecodeObject[ConversationResponse](string(raw))
			return err
		},
	}); err != nil {
		return err
	}

	s.ui.SendToUser(resp.AssistantMessage)
	if len(resp.Changes) == 0 {
		return nil
	}
	return s.acceptChanges(resp.Changes)
}

func (s *Session) acceptChanges(proposed []changeset.ChangeSpec) error {
	var out changeset.Outcome
	if _, err := s.st.UpdateMetadata(func(md *storage.Metadata) error {
		out = s.merger.Accept(md.PendingChanges, md.BatchesSinceLastConsolidation, proposed)
		md.PendingChanges = out.Pending
		md.BatchesSinceLastConsolidation = out.Batches
		return nil
	}); err != nil {
		return err
	}
	if out.Stats.Rejected > 0 {
		s.ui.ErrorMessage(fmt.Sprintf("Dropped %d invalid change spec(s).", out.Stats.Rejected))
	}
	if out.Consolidated {
		s.ui.Log(fmt.Sprintf("Auto-consolidated. Pending changes now: %d", len(out.Pending)))
	}
	return s.state.SetPendingChanges(out.Pending)
}

func (s *Session) systemPrompt() string {
	return agentloop.BuildSystemPrompt(
		prompt("conversation.txt", s.cfg.LineCap),
		agentloop.BuildEnvironmentContext(s.workDir, s.model, s.now()),
		agentloop.DiscoverProjectDocs(s.ws.Fs()),
	)
}

// newLoop builds a loop for one call. Conversation calls promote file reads
// into the persisted state.
func (s *Session) newLoop(promote bool) *agentloop.Loop {
	opts := []agentloop.LoopOption{
		agentloop.WithMaxToolTurns(s.cfg.MaxToolTurns),
		agentloop.WithLoopWindow(s.cfg.LoopWindow),
		agentloop.WithLogger(s.logger),
		agentloop.WithListener(s.onEvent),
	}
	if promote {
		opts = append(opts, agentloop.WithPromoter(s.state))
	}
	return agentloop.NewLoop(s.runner, s.registry, opts...)
}

func (s *Session) onEvent(ev agentloop.Event) {
	switch ev.Kind {
	case agentloop.EventToolCallEnd:
		name, _ := ev.Data["tool_name"].(string)
		output, _ := ev.Data["output"].(string)
		s.logger.Debug("tool result",
			zap.String("tool", name),
			zap.String("output", agentloop.DisplayOutput(name, output)))
	case agentloop.EventPromoted:
		path, _ := ev.Data["path"].(string)
		s.ui.Log("Loaded " + path + " into system state.")
	case agentloop.EventLoopDetected:
		s.ui.Log("The model is repeating the same tool calls.")
	}
}
