package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/reeze/piecode/internal/config"
	"github.com/reeze/piecode/internal/llm"
	"github.com/reeze/piecode/internal/session"
	"github.com/reeze/piecode/internal/tools"
)

// runtime bundles the wired components a command needs to drive turns
// through the engine: provider, tools, session store, and trajectory log.
type runtime struct {
	cfg       *config.Config
	engine    *llm.Engine
	provider  llm.Provider
	toolMgr   *tools.ToolManager
	store     session.Store
	traj      *llm.DebugLogger
	sess      *session.Session
	req       llm.Request
	turnIndex int
}

// newRuntime loads config, wires a provider and tool registry into a fresh
// Engine, opens (or reuses) session storage, and starts a trajectory log.
// mode labels the session the way the spec's persisted-state model expects
// (one trajectory.jsonl per session id). Callers must call close().
func newRuntime(mode session.SessionMode, resumeSessionID string) (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	providerName := flagProvider
	if providerName == "" {
		providerName = cfg.DefaultProvider
	}
	provider, err := llm.NewProviderByName(cfg, providerName, flagModel)
	if err != nil {
		return nil, fmt.Errorf("provider %q: %w", providerName, err)
	}

	engine := llm.NewEngine(provider, nil)

	toolCfg := tools.NewToolConfigFromFields(
		resolveEnabledTools(flagTools),
		cfg.Tools.ReadDirs,
		cfg.Tools.WriteDirs,
		cfg.Tools.ShellAllow,
		cfg.Tools.ShellAutoRun,
		cfg.Tools.ShellAutoRunEnv,
		cfg.Tools.ShellNonTTYEnv,
	)

	var toolMgr *tools.ToolManager
	if len(toolCfg.Enabled) > 0 {
		toolMgr, err = tools.NewToolManager(&toolCfg, cfg)
		if err != nil {
			return nil, fmt.Errorf("init tools: %w", err)
		}
		toolMgr.SetupEngine(engine)
	}

	if cfg.Tools.MaxToolOutputChars > 0 {
		engine.SetMaxToolOutputChars(cfg.Tools.MaxToolOutputChars)
	}

	inputLimit := llm.InputLimitForProviderModel(providerName, flagModel)
	if inputLimit > 0 {
		compactionCfg := llm.DefaultCompactionConfig()
		engine.ConfigureContextManagement(provider, providerName, flagModel, cfg.AutoCompact)
		engine.SetCompaction(inputLimit, compactionCfg)
	}

	store, err := openSessionStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}

	sess, err := resolveSession(store, mode, resumeSessionID, providerName, flagModel)
	if err != nil {
		store.Close()
		return nil, err
	}

	traj, err := llm.NewDebugLogger(config.GetDebugLogsDir(), sess.ID)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("open trajectory log: %w", err)
	}
	traj.LogSessionStart("piecode", os.Args[1:], mustGetwd())
	engine.SetDebugLogger(traj)

	rt := &runtime{
		cfg:      cfg,
		engine:   engine,
		provider: provider,
		toolMgr:  toolMgr,
		store:    store,
		traj:     traj,
		sess:     sess,
	}
	rt.req = llm.Request{
		Model:    flagModel,
		Search:   flagSearch,
		Debug:    flagDebug,
		DebugRaw: flagDebug,
		MaxTurns: flagMaxTurns,
	}
	if toolMgr != nil {
		rt.req.Tools = toolMgr.GetSpecs()
	}

	engine.SetTurnCompletedCallback(rt.onTurnCompleted)
	engine.SetResponseCompletedCallback(rt.onResponseCompleted)
	engine.SetCompactionCallback(rt.onCompaction)

	return rt, nil
}

func (rt *runtime) close() {
	rt.traj.Close()
	rt.store.Close()
}

// onTurnCompleted persists every message generated during a turn (assistant
// text plus tool results) and rolls metrics into the session record.
func (rt *runtime) onTurnCompleted(ctx context.Context, turnIndex int, messages []llm.Message, metrics llm.TurnMetrics) error {
	rt.turnIndex = turnIndex
	for i, m := range messages {
		sm := session.NewMessage(rt.sess.ID, m, turnIndex*1000+i)
		if err := rt.store.AddMessage(ctx, rt.sess.ID, sm); err != nil {
			return err
		}
	}
	rt.sess.LLMTurns++
	rt.sess.ToolCalls += metrics.ToolCalls
	rt.sess.InputTokens += metrics.InputTokens
	rt.sess.OutputTokens += metrics.OutputTokens
	rt.sess.CachedInputTokens += metrics.CachedInputTokens
	return rt.store.UpdateMetrics(ctx, rt.sess.ID,
		rt.sess.LLMTurns, rt.sess.ToolCalls, rt.sess.InputTokens, rt.sess.OutputTokens, rt.sess.CachedInputTokens)
}

// onResponseCompleted is a no-op hook point: per-event detail (usage, tool
// calls, retries) is already captured automatically by the DebugLogger
// wrapped around the engine's stream (see SetDebugLogger in newRuntime).
func (rt *runtime) onResponseCompleted(ctx context.Context, turnIndex int, assistantMsg llm.Message, metrics llm.TurnMetrics) error {
	return nil
}

// onCompaction persists the post-compaction message set so a resumed session
// starts from the same trimmed history the live engine is now using.
func (rt *runtime) onCompaction(ctx context.Context, result *llm.CompactionResult) error {
	return rt.store.ReplaceMessages(ctx, rt.sess.ID, sessionMessagesFrom(rt.sess.ID, result.NewMessages))
}

// compact manually folds older messages into a summary, mirroring the
// compactHistory(opts) CLI surface the spec names. Returns the compaction
// result so callers can report before/after counts.
func (rt *runtime) compact(ctx context.Context) (*llm.CompactionResult, error) {
	result, err := llm.CompactHistory(ctx, rt.provider, rt.req.Model, "", rt.req.Messages, 6)
	if err != nil {
		return nil, err
	}
	if result.Compacted {
		rt.req.Messages = result.NewMessages
		if err := rt.onCompaction(ctx, result); err != nil {
			return result, err
		}
	}
	return result, nil
}

func sessionMessagesFrom(sessionID string, messages []llm.Message) []session.Message {
	out := make([]session.Message, 0, len(messages))
	for i, m := range messages {
		out = append(out, *session.NewMessage(sessionID, m, i))
	}
	return out
}

func resolveEnabledTools(flag string) []string {
	switch flag {
	case "", "none":
		return nil
	default:
		return tools.ParseToolsFlag(flag)
	}
}

func openSessionStore(cfg *config.Config) (session.Store, error) {
	if !cfg.Sessions.Enabled {
		return &session.NoopStore{}, nil
	}
	store, err := session.NewStore(session.Config{
		Enabled:    cfg.Sessions.Enabled,
		MaxAgeDays: cfg.Sessions.MaxAgeDays,
		MaxCount:   cfg.Sessions.MaxCount,
		Path:       cfg.Sessions.Path,
	})
	if err != nil {
		return nil, err
	}
	return session.NewLoggingStore(store, func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, "warning: "+format+"\n", args...)
	}), nil
}

func resolveSession(store session.Store, mode session.SessionMode, resumeID, provider, model string) (*session.Session, error) {
	ctx := context.Background()
	if resumeID != "" {
		if sess, err := store.GetByPrefix(ctx, resumeID); err == nil {
			return sess, nil
		}
	}
	cwd, _ := os.Getwd()
	sess := &session.Session{
		ID:       uuid.NewString(),
		Provider: provider,
		Model:    model,
		Mode:     mode,
		CWD:      cwd,
		Status:   session.StatusActive,
	}
	if err := store.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return sess, nil
}

func mustGetwd() string {
	wd, err := os.Getwd()
	if err != nil {
		return ""
	}
	return wd
}
