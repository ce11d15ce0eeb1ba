package tools

import (
	"context"
	"encoding/json"
	"testing"
)

func TestTodoWriteNormalizesStatusAndAssignsIDs(t *testing.T) {
	tool := NewTodoWriteTool()
	args := json.RawMessage(`{"todos":[
		{"content":"first"},
		{"content":"second","status":"bogus"},
		{"content":"third","status":"IN_PROGRESS"}
	]}`)
	out, err := tool.Execute(context.Background(), args)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	items := tool.Items()
	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d: %+v", len(items), items)
	}
	if items[0].ID != "todo-1" || items[0].Status != TodoPending {
		t.Fatalf("item 0 unexpected: %+v", items[0])
	}
	if items[1].Status != TodoPending {
		t.Fatalf("unknown status should normalize to pending, got %+v", items[1])
	}
	if items[2].Status != TodoInProgress {
		t.Fatalf("case-insensitive status should normalize, got %+v", items[2])
	}
	if out.Text == "" {
		t.Fatalf("expected non-empty output text")
	}
}

func TestTodoWriteDropsBlankContentItems(t *testing.T) {
	tool := NewTodoWriteTool()
	args := json.RawMessage(`{"todos":[{"content":"  "},{"content":"keep me"}]}`)
	if _, err := tool.Execute(context.Background(), args); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	items := tool.Items()
	if len(items) != 1 || items[0].Content != "keep me" {
		t.Fatalf("expected only the non-blank item to survive, got %+v", items)
	}
	// id numbering should count only kept items, so the surviving item is todo-1.
	if items[0].ID != "todo-1" {
		t.Fatalf("expected todo-1 for the sole surviving item, got %q", items[0].ID)
	}
}

func TestTodoWriteEmptyAfterNormalizationIsError(t *testing.T) {
	tool := NewTodoWriteTool()
	args := json.RawMessage(`{"todos":[{"content":""},{"content":"   "}]}`)
	out, err := tool.Execute(context.Background(), args)
	if err != nil {
		t.Fatalf("tool errors should be textual, not Go errors: %v", err)
	}
	if out.Text == "" {
		t.Fatalf("expected an error message in output text")
	}
}

func TestTodoWriteExactRepeatIsNoOpAndSilent(t *testing.T) {
	tool := NewTodoWriteTool()
	var notified int
	tool.SetOnChange(func([]TodoItem) { notified++ })

	args := json.RawMessage(`{"todos":[{"content":"a"},{"content":"b","status":"completed"}]}`)
	if _, err := tool.Execute(context.Background(), args); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if notified != 1 {
		t.Fatalf("expected exactly one notification on first write, got %d", notified)
	}

	out, err := tool.Execute(context.Background(), args)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Text != "No-op: todo list is already up to date." {
		t.Fatalf("expected no-op message, got %q", out.Text)
	}
	if notified != 1 {
		t.Fatalf("repeat payload must not notify observers, got %d notifications", notified)
	}
}

func TestTodoWriteDifferentPayloadDoesNotNoOp(t *testing.T) {
	tool := NewTodoWriteTool()
	first := json.RawMessage(`{"todos":[{"content":"a"}]}`)
	second := json.RawMessage(`{"todos":[{"content":"a"},{"content":"b"}]}`)

	if _, err := tool.Execute(context.Background(), first); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out, err := tool.Execute(context.Background(), second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Text == "No-op: todo list is already up to date." {
		t.Fatalf("a changed payload must not be treated as a no-op")
	}
	if len(tool.Items()) != 2 {
		t.Fatalf("expected updated item list of length 2, got %d", len(tool.Items()))
	}
}

func TestTodoWriteResetClearsState(t *testing.T) {
	tool := NewTodoWriteTool()
	args := json.RawMessage(`{"todos":[{"content":"a"}]}`)
	if _, err := tool.Execute(context.Background(), args); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tool.Reset()
	if len(tool.Items()) != 0 {
		t.Fatalf("expected items cleared after Reset, got %+v", tool.Items())
	}
	// After reset, the same payload should NOT be treated as a repeat.
	var notified int
	tool.SetOnChange(func([]TodoItem) { notified++ })
	if _, err := tool.Execute(context.Background(), args); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if notified != 1 {
		t.Fatalf("expected a fresh notification after reset, got %d", notified)
	}
}
