package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"
)

func jsonUnmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

// normalizedJSON re-marshals arbitrary tool-call arguments through a decoded
// map so that key order and whitespace don't affect exact-repeat comparison.
func normalizedJSON(raw []byte) string {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return string(raw)
	}
	return string(out)
}

// Intent names produced by the Intent Classifier. These are data, not code:
// new intents are added to the Policy Table, not by branching in the loop.
const (
	IntentRepoStatus  = "repo_status"
	IntentDiffSummary = "diff_summary"
	IntentCommit      = "commit_intent"
	IntentGeneric     = "generic"
)

// TurnPolicy is the per-intent budget and tool-allowance record the Policy
// Table hands back to the agentic loop. It never changes mid-turn.
type TurnPolicy struct {
	Intent string `yaml:"-"`

	// MaxToolCalls bounds tool_calls_used before the loop is forced into the
	// finalize sub-turn. Zero means "use the engine default".
	MaxToolCalls int `yaml:"max_tool_calls"`

	// AllowedTools restricts which tool names may execute this turn. An empty
	// slice means no restriction beyond what the engine already allows.
	AllowedTools []string `yaml:"allowed_tools"`

	// ForceFinalizeAfterTool ends the loop (and runs the finalize sub-turn)
	// as soon as any tool has executed once, regardless of budget.
	ForceFinalizeAfterTool bool `yaml:"force_finalize_after_tool"`

	// DisableTodos drops the todo_write tool from this turn's tool list.
	DisableTodos bool `yaml:"disable_todos"`

	// ReadOnlyShell restricts shell tool calls to a read-only git subset
	// (status|diff|log|show); anything else is rejected without executing.
	ReadOnlyShell bool `yaml:"read_only_shell"`

	// FinalizeOnToolMatch, if non-empty, is a regexp matched against the
	// executed shell command; a match ends the loop and runs finalize.
	FinalizeOnToolMatch string `yaml:"finalize_on_tool_match"`

	// RequireCommitMessage asks the finalize sub-turn to end with a literal
	// "Suggested commit message: ..." request.
	RequireCommitMessage bool `yaml:"require_commit_message"`

	finalizeRe *regexp.Regexp
}

// AllowsTool reports whether name is permitted under this policy. An empty
// AllowedTools list means every tool the engine otherwise allows is fine.
func (p TurnPolicy) AllowsTool(name string) bool {
	if len(p.AllowedTools) == 0 {
		return true
	}
	for _, t := range p.AllowedTools {
		if t == name {
			return true
		}
	}
	return false
}

// MatchesFinalize reports whether an executed shell command should trigger
// finalize_on_tool_match.
func (p *TurnPolicy) MatchesFinalize(command string) bool {
	if p.FinalizeOnToolMatch == "" {
		return false
	}
	if p.finalizeRe == nil {
		p.finalizeRe = regexp.MustCompile(p.FinalizeOnToolMatch)
	}
	return p.finalizeRe.MatchString(command)
}

var readOnlyGitShellRe = regexp.MustCompile(`^\s*git\s+(status|diff|log|show)\b`)

// IsReadOnlyShellCommand reports whether a shell command is in the read-only
// git subset diff_summary restricts execution to.
func IsReadOnlyShellCommand(command string) bool {
	return readOnlyGitShellRe.MatchString(command)
}

// PolicyTable is a static, declarative map from intent name to TurnPolicy.
// New intents are added as data (compiled-in defaults or a project YAML
// file), never by branching in the agentic loop.
type PolicyTable struct {
	mu       sync.RWMutex
	policies map[string]TurnPolicy
}

// DefaultPolicyTable returns the four spec-literal intents with their
// compiled-in budgets.
func DefaultPolicyTable() *PolicyTable {
	return &PolicyTable{
		policies: map[string]TurnPolicy{
			IntentRepoStatus: {
				Intent:                 IntentRepoStatus,
				MaxToolCalls:           1,
				AllowedTools:           []string{ShellToolName},
				ForceFinalizeAfterTool: true,
				DisableTodos:           true,
			},
			IntentDiffSummary: {
				Intent:                 IntentDiffSummary,
				MaxToolCalls:           2,
				AllowedTools:           []string{ShellToolName},
				ForceFinalizeAfterTool: true,
				ReadOnlyShell:          true,
			},
			IntentCommit: {
				Intent:                IntentCommit,
				MaxToolCalls:          1,
				FinalizeOnToolMatch:   `\bgit\s+commit\b`,
				RequireCommitMessage: true,
			},
			IntentGeneric: {
				Intent:       IntentGeneric,
				MaxToolCalls: 0, // engine default (defaultMaxTurns)
			},
		},
	}
}

// Get returns the policy for intent, falling back to the generic policy if
// intent is unknown.
func (t *PolicyTable) Get(intent string) TurnPolicy {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if p, ok := t.policies[intent]; ok {
		return p
	}
	return t.policies[IntentGeneric]
}

// Set installs or overrides a single intent's policy.
func (t *PolicyTable) Set(intent string, policy TurnPolicy) {
	t.mu.Lock()
	defer t.mu.Unlock()
	policy.Intent = intent
	policy.finalizeRe = nil
	t.policies[intent] = policy
}

// policyFile is the on-disk shape of policy.yaml: a flat map of intent name
// to policy fields, merged over (not replacing) the compiled-in defaults.
type policyFile struct {
	Intents map[string]TurnPolicy `yaml:"intents"`
}

// MergeYAML merges intent policies decoded from YAML bytes into the table,
// overriding any compiled-in default with the same name and adding new
// intents outright. Mirrors the teacher's config-merge pattern: project
// config augments defaults rather than replacing the whole table.
func (t *PolicyTable) MergeYAML(unmarshal func(interface{}) error) error {
	var f policyFile
	if err := unmarshal(&f); err != nil {
		return fmt.Errorf("parse policy table: %w", err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for name, p := range f.Intents {
		p.Intent = name
		p.finalizeRe = nil
		t.policies[name] = p
	}
	return nil
}

var editingVerbRe = regexp.MustCompile(`(?i)\b(edit|change|modify|fix|add|remove|delete|update|write|create|refactor|rename|implement)\b`)
var gitStatusRe = regexp.MustCompile(`(?i)\bgit status\b`)
var diffSummaryRe = regexp.MustCompile(`(?i)summari[sz]e .*\bdiff\b|what .* happened`)
var commitMessageRe = regexp.MustCompile(`(?i)\bcommit message\b`)
var bareYesRe = regexp.MustCompile(`(?i)^\s*(yes|yep|yeah|do it|go ahead)\.?\s*$`)

// ClassifyIntent is a pure, deterministic, keyword-based mapping from a
// user's turn input to an intent name. lastAssistantText is the previous
// assistant reply, used only to detect a bare "yes" confirming a commit
// message the assistant just suggested; pass "" when there is none.
func ClassifyIntent(input, lastAssistantText string) string {
	switch {
	case gitStatusRe.MatchString(input) && !editingVerbRe.MatchString(input):
		return IntentRepoStatus
	case diffSummaryRe.MatchString(input):
		return IntentDiffSummary
	case commitMessageRe.MatchString(input):
		return IntentCommit
	case bareYesRe.MatchString(input) && strings.Contains(lastAssistantText, "Suggested commit message"):
		return IntentCommit
	default:
		return IntentGeneric
	}
}

// TaskAbortedError is the error code surfaced when requestAbort() cancels a
// turn in flight. Partial tool outputs already appended to history are kept
// as evidence, but the caller sees the turn as failed.
type TaskAbortedError struct{}

func (TaskAbortedError) Error() string { return "TASK_ABORTED" }

// ErrTaskAborted is returned by runLoop (wrapped, via errors.Is) when a turn
// is cancelled through Engine.RequestAbort.
var ErrTaskAborted error = TaskAbortedError{}

// abortHandle is a one-shot per-turn cancellation handle. A new handle is
// registered at the start of every runTurn and consumed (at most once) by
// RequestAbort.
type abortHandle struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	active bool
}

func (h *abortHandle) register(cancel context.CancelFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cancel = cancel
	h.active = true
}

func (h *abortHandle) clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.active = false
	h.cancel = nil
}

// requestAbort cancels the active turn, if any, and reports whether one was
// active. Safe to call from any goroutine; consumes the handle so a second
// call is a no-op until the next turn registers a fresh one.
func (h *abortHandle) requestAbort() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.active || h.cancel == nil {
		return false
	}
	h.cancel()
	h.active = false
	return true
}

// shellCommandSignature normalizes a shell command for loop-guard repeat
// detection: strips a leading "cd <dir> &&" prefix (when the command carries
// one; the shell tool itself sets the working directory without adding it)
// and collapses whitespace, so two calls that differ only in that boilerplate
// compare equal.
var cdPrefixRe = regexp.MustCompile(`^\s*cd\s+\S+\s*&&\s*`)

func shellCommandSignature(command string) string {
	stripped := cdPrefixRe.ReplaceAllString(command, "")
	return strings.Join(strings.Fields(stripped), " ")
}

// loopGuardState accumulates per-turn signatures the agentic loop checks
// before executing each tool call, in priority order: exact-repeat on
// todo_write, then shell-signature repeat, then alternation.
type loopGuardState struct {
	lastTodoPayload   string
	shellSignatures   []string
	verifiedSignature map[string]bool
}

func newLoopGuardState() *loopGuardState {
	return &loopGuardState{verifiedSignature: make(map[string]bool)}
}

// checkTodoRepeat returns (true, resultText) if payload (the normalized
// todo_write arguments) exactly matches the previously accepted one.
func (g *loopGuardState) checkTodoRepeat(payload string) (bool, string) {
	if g.lastTodoPayload != "" && payload == g.lastTodoPayload {
		return true, "Todo list is already up to date"
	}
	return false, ""
}

func (g *loopGuardState) recordTodo(payload string) {
	g.lastTodoPayload = payload
}

// checkShellRepeat returns (true, resultText) if this exact shell command
// signature already ran earlier in the turn.
func (g *loopGuardState) checkShellRepeat(signature string) (bool, string) {
	for _, s := range g.shellSignatures {
		if s == signature {
			return true, "same verified step result"
		}
	}
	return false, ""
}

// checkAlternation detects A,B,A or A,B,A,B cycles where A was already
// verified (ran without triggering a repeat guard), evaluated after the
// exact-repeat check so a plain immediate repeat is caught first.
func (g *loopGuardState) checkAlternation(signature string) (bool, string) {
	n := len(g.shellSignatures)
	if n >= 2 && g.shellSignatures[n-2] == signature && g.verifiedSignature[signature] {
		return true, "same verified step result"
	}
	if n >= 3 && g.shellSignatures[n-1] == g.shellSignatures[n-3] && g.verifiedSignature[g.shellSignatures[n-1]] {
		return true, "same verified step result"
	}
	return false, ""
}

func (g *loopGuardState) recordShell(signature string) {
	g.shellSignatures = append(g.shellSignatures, signature)
	g.verifiedSignature[signature] = true
}

// planEmissionEnabled reports whether the PIECODE_PLAN env flag requests the
// optional one-shot plan emission described by runTurn step 4.
func planEmissionEnabled() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("PIECODE_PLAN")))
	return v == "1" || v == "true" || v == "yes"
}

// emitPlan issues a lightweight, tool-free provider call asking for a short
// bullet-point plan and emits it as a "plan" phase event. Errors are
// swallowed: plan emission is advisory and must never fail the turn.
func emitPlan(ctx context.Context, provider Provider, req Request, events chan<- Event) {
	planReq := Request{
		Model: req.Model,
		Messages: append(append([]Message{}, req.Messages...),
			SystemText("Reply with a short bullet-point plan (3-5 bullets max) for how you will approach this request. Do not call any tools.")),
		MaxOutputTokens: 256,
	}
	stream, err := provider.Stream(ctx, planReq)
	if err != nil {
		return
	}
	defer stream.Close()
	var sb strings.Builder
	for {
		ev, err := stream.Recv()
		if err != nil {
			break
		}
		if ev.Type == EventTextDelta {
			sb.WriteString(ev.Text)
		}
		if ev.Type == EventDone || ev.Type == EventError {
			break
		}
	}
	if plan := strings.TrimSpace(sb.String()); plan != "" && events != nil {
		events <- Event{Type: EventPhase, Phase: "plan", Text: plan}
	}
}

// shellCommandArg extracts the "command" argument from a shell tool call,
// returning "" for calls that aren't shell invocations or carry no command.
func shellCommandArg(call ToolCall) string {
	if call.Name != ShellToolName {
		return ""
	}
	var args struct {
		Command string `json:"command"`
	}
	if err := jsonUnmarshal(call.Arguments, &args); err != nil {
		return ""
	}
	return args.Command
}

// gateDecision is the outcome of running one tool call through the loop
// guards and policy gates, before it would otherwise execute.
type gateDecision struct {
	call      ToolCall
	blocked   bool
	resultMsg Message
	isError   bool
}

// applyLoopGuardsAndPolicy runs the three ordered loop guards (exact-repeat
// on todo_write, shell-signature repeat, alternation) and then the policy
// gates (tool allow-list, diff_summary's read-only shell restriction) against
// a single call, in the priority order §4.4 specifies. It returns a
// gateDecision; when blocked is true the call must not execute and
// resultMsg is the synthetic tool-result message to append instead.
func applyLoopGuardsAndPolicy(policy TurnPolicy, guards *loopGuardState, call ToolCall) gateDecision {
	if call.Name == TodoWriteToolName {
		normalized := normalizedJSON(call.Arguments)
		if hit, msg := guards.checkTodoRepeat(normalized); hit {
			return gateDecision{call: call, blocked: true, resultMsg: ToolResultMessage(call.ID, call.Name, msg)}
		}
	}

	if call.Name == ShellToolName {
		if command := shellCommandArg(call); command != "" {
			sig := shellCommandSignature(command)
			if hit, msg := guards.checkShellRepeat(sig); hit {
				return gateDecision{call: call, blocked: true, resultMsg: ToolResultMessage(call.ID, call.Name, msg)}
			}
			if hit, msg := guards.checkAlternation(sig); hit {
				return gateDecision{call: call, blocked: true, resultMsg: ToolResultMessage(call.ID, call.Name, msg)}
			}
			if policy.ReadOnlyShell && !IsReadOnlyShellCommand(command) {
				errMsg := fmt.Sprintf("command %q not allowed in this turn; only read-only git status|diff|log|show commands are permitted", command)
				return gateDecision{call: call, blocked: true, isError: true, resultMsg: ToolErrorMessage(call.ID, call.Name, errMsg, nil)}
			}
		}
	}

	if !policy.AllowsTool(call.Name) {
		errMsg := fmt.Sprintf("Tool %s not allowed in this turn", call.Name)
		return gateDecision{call: call, blocked: true, isError: true, resultMsg: ToolErrorMessage(call.ID, call.Name, errMsg, nil)}
	}

	return gateDecision{call: call}
}

// recordExecuted updates loop-guard state after a call has actually run, so
// later calls in the turn can be detected as repeats or alternation.
func recordExecuted(guards *loopGuardState, call ToolCall) {
	switch call.Name {
	case TodoWriteToolName:
		guards.recordTodo(normalizedJSON(call.Arguments))
	case ShellToolName:
		if command := shellCommandArg(call); command != "" {
			guards.recordShell(shellCommandSignature(command))
		}
	}
}

// buildFinalizePrompt builds the finalize sub-turn request: the collected
// evidence (full message history so far) plus a literal "Collected
// evidence:" banner, with tool schemas omitted so the provider can only
// answer in text. When the policy requires a commit message, the banner
// also asks for the literal "Suggested commit message: ..." line.
func buildFinalizePrompt(base Request, policy TurnPolicy) Request {
	banner := "Collected evidence:\n\nSummarize the outcome of the above for the user now. Do not call any more tools."
	if policy.RequireCommitMessage {
		banner += ` End your reply with a line of the exact form "Suggested commit message: ..."`
	}
	finalize := base
	finalize.Tools = nil
	finalize.ToolChoice = ToolChoice{Mode: ToolChoiceNone}
	finalize.Messages = append(append([]Message{}, base.Messages...), SystemText(banner))
	return finalize
}
