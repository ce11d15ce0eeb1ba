package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Tool describes a callable external tool.
type Tool interface {
	Spec() ToolSpec
	Execute(ctx context.Context, args json.RawMessage) (ToolOutput, error)
	// Preview returns a human-readable description of what the tool will do,
	// shown to the user before execution starts (e.g., "Editing main.go").
	// Returns empty string if no preview is available.
	Preview(args json.RawMessage) string
}

// FinishingTool is an optional interface for tools that signal agent completion.
// When a finishing tool is executed, the agentic loop should stop after this turn.
// Example: output capture tools like set_commit_message.
type FinishingTool interface {
	IsFinishingTool() bool
}

// ToolRegistry stores tools by name for execution.
type ToolRegistry struct {
	tools   map[string]Tool
	aliases map[string]bool
}

func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]Tool), aliases: make(map[string]bool)}
}

func (r *ToolRegistry) Register(tool Tool) {
	r.tools[tool.Spec().Name] = tool
}

func (r *ToolRegistry) Get(name string) (Tool, bool) {
	tool, ok := r.tools[name]
	return tool, ok
}

// RegisterAlias makes an already-registered tool additionally reachable
// under a second wire name, e.g. the todo_write/todowrite pair. Aliases are
// dispatchable via Get but excluded from AllSpecs so the provider only ever
// sees one schema per tool.
func (r *ToolRegistry) RegisterAlias(alias, canonical string) {
	if tool, ok := r.tools[canonical]; ok {
		r.tools[alias] = tool
		r.aliases[alias] = true
	}
}

// IsFinishingTool returns true if the named tool is a finishing tool.
func (r *ToolRegistry) IsFinishingTool(name string) bool {
	tool, ok := r.tools[name]
	if !ok {
		return false
	}
	if ft, ok := tool.(FinishingTool); ok {
		return ft.IsFinishingTool()
	}
	return false
}

func (r *ToolRegistry) Unregister(name string) {
	delete(r.tools, name)
}

// AllSpecs returns the specs for all registered tools.
func (r *ToolRegistry) AllSpecs() []ToolSpec {
	specs := make([]ToolSpec, 0, len(r.tools))
	for name, tool := range r.tools {
		if r.aliases[name] {
			continue
		}
		specs = append(specs, tool.Spec())
	}
	return specs
}

// ValidateToolArguments checks a tool call's arguments against its spec's
// JSON Schema before dispatch, giving the dispatcher a chance to reject a
// malformed ToolUse.input without ever touching the tool's Execute method.
// A spec with no schema is unvalidated (returns nil). Grounded on
// goadesign-goa-ai's registry.validatePayloadJSONAgainstSchema, which
// compiles and validates a tool payload against its schema the same way
// before publishing a tool call.
func ValidateToolArguments(spec ToolSpec, args json.RawMessage) error {
	if spec.Schema == nil {
		return nil
	}

	var argsDoc any
	if len(args) == 0 {
		argsDoc = map[string]any{}
	} else if err := json.Unmarshal(args, &argsDoc); err != nil {
		return fmt.Errorf("arguments are not valid JSON: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource(spec.Name+".json", spec.Schema); err != nil {
		// A schema that fails to compile is a bug in the tool spec, not in
		// the model's call; don't block dispatch over it.
		return nil
	}
	schema, err := c.Compile(spec.Name + ".json")
	if err != nil {
		return nil
	}
	if err := schema.Validate(argsDoc); err != nil {
		return fmt.Errorf("arguments for %s do not match its schema: %w", spec.Name, err)
	}
	return nil
}

// ParseCommandSuggestions parses a suggest_commands-shaped tool call payload.
func ParseCommandSuggestions(call ToolCall) ([]CommandSuggestion, error) {
	var resp struct {
		Suggestions []CommandSuggestion `json:"suggestions"`
	}
	if err := json.Unmarshal(call.Arguments, &resp); err != nil {
		return nil, err
	}
	return resp.Suggestions, nil
}

// ParseEditToolCall parses a single edit tool call payload.
func ParseEditToolCall(call ToolCall) (EditToolCall, error) {
	var edit EditToolCall
	if err := json.Unmarshal(call.Arguments, &edit); err != nil {
		return EditToolCall{}, err
	}
	return edit, nil
}

// Wire names for the core tool set the Policy Table and loop guards
// reference directly, kept as constants rather than magic strings scattered
// through engine.go and the turn driver.
const (
	ShellToolName     = "shell"
	TodoWriteToolName = "todo_write"
	WebSearchToolName = "web_search"
	ReadURLToolName   = "read_url"
)

// ApplyPatchToolName is the wire name for the unified-diff based patch tool,
// the spec's apply_patch operation.
const ApplyPatchToolName = "apply_patch"

// ApplyPatchToolDescription is the description surfaced to the model.
const ApplyPatchToolDescription = `Apply file edits using unified diff format. Output a single diff containing all changes.

Format:
--- path/to/file
+++ path/to/file
@@ context to locate (e.g., func Name) @@
 context line (unchanged, space prefix)
-line to remove
+line to add

Elision (-...) for replacing large blocks:
-func Example() {
-...
-}
+func Example() { return nil }

The -... matches everything between the start anchor (-func Example...) and end anchor (-}).
IMPORTANT: After -... you MUST include an end anchor (another - line) so we know where elision stops.

Rules:
1. @@ headers help locate changes - use function/class names, not line numbers
2. Context lines (space prefix) anchor the position - must match file exactly
3. Use -... ONLY when replacing 10+ lines; for small changes list all - lines explicitly
4. After -... always include the closing line (e.g., -}) as the end anchor
5. Multiple files: use separate --- +++ blocks for each file`

// ApplyPatchToolSpec returns the tool spec for the apply_patch tool.
func ApplyPatchToolSpec() ToolSpec {
	return ToolSpec{
		Name:        ApplyPatchToolName,
		Description: ApplyPatchToolDescription,
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"diff": map[string]interface{}{
					"type":        "string",
					"description": "Unified diff with all changes. Format: --- and +++ for paths, @@ for context headers, space prefix for context lines, - for removals, + for additions. Use -... to elide large removed blocks (must have end anchor after).",
				},
			},
			"required":             []string{"diff"},
			"additionalProperties": false,
		},
	}
}

// ParseApplyPatch parses an apply_patch tool call payload.
func ParseApplyPatch(call ToolCall) (string, error) {
	var payload struct {
		Diff string `json:"diff"`
	}
	if err := json.Unmarshal(call.Arguments, &payload); err != nil {
		return "", err
	}
	return payload.Diff, nil
}
