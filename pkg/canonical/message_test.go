package canonical

import "testing"

func TestValidateAcceptsWellFormedHistory(t *testing.T) {
	history := []Message{
		NewUserMessage("what's 2+2?"),
		{
			Role: MessageRoleAssistant,
			Assistant: &AssistantMessage{
				Content: []ContentBlock{
					{Type: BlockToolCall, ID: "call_1", Name: "calculator", Arguments: []byte(`{"expr":"2+2"}`)},
				},
				StopReason: StopReasonToolUse,
			},
		},
		NewToolResultMessage("call_1", "calculator", "4"),
	}
	if err := Validate(history); err != nil {
		t.Fatalf("expected valid history, got %v", err)
	}
}

func TestValidateRejectsOrphanedToolResult(t *testing.T) {
	history := []Message{
		NewUserMessage("hi"),
		NewToolResultMessage("call_missing", "calculator", "4"),
	}
	if err := Validate(history); err == nil {
		t.Fatal("expected orphaned tool result to fail validation")
	}
}

func TestValidateRejectsDuplicateToolCallID(t *testing.T) {
	dup := ContentBlock{Type: BlockToolCall, ID: "call_1", Name: "calculator"}
	history := []Message{
		{Role: MessageRoleAssistant, Assistant: &AssistantMessage{Content: []ContentBlock{dup}, StopReason: StopReasonToolUse}},
		NewToolResultMessage("call_1", "calculator", "4"),
		{Role: MessageRoleAssistant, Assistant: &AssistantMessage{Content: []ContentBlock{dup}, StopReason: StopReasonToolUse}},
	}
	if err := Validate(history); err == nil {
		t.Fatal("expected duplicate tool call id to fail validation")
	}
}

func TestUsageAddRecomputesTotal(t *testing.T) {
	var u Usage
	u.Add(Usage{Input: 100, Output: 50, Cost: Cost{Input: 0.001, Output: 0.002}})
	u.Add(Usage{Input: 10, Output: 5, Cost: Cost{Input: 0.0001, Output: 0.0002}})

	if u.Input != 110 || u.Output != 55 {
		t.Fatalf("expected accumulated token counts, got input=%d output=%d", u.Input, u.Output)
	}
	want := 0.0001 + 0.0002 + 0.001 + 0.002
	if diff := u.Cost.Total - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("expected total %v, got %v", want, u.Cost.Total)
	}
}

func TestAssistantMessageToolCalls(t *testing.T) {
	msg := &AssistantMessage{
		Content: []ContentBlock{
			{Type: BlockThinking, Thinking: "let me think"},
			{Type: BlockToolCall, ID: "call_1", Name: "calculator"},
			{Type: BlockText, Text: "done"},
		},
	}
	calls := msg.ToolCalls()
	if len(calls) != 1 || calls[0].ID != "call_1" {
		t.Fatalf("expected one tool call with id call_1, got %+v", calls)
	}
}
