package models

import "testing"

func TestAssetCloneSharesNoState(t *testing.T) {
	chat := newChat()
	chat.UsageExamples = []string{"a"}
	chat.ChatOptions.MaterialsIDs = []string{"m1"}
	chat.MessageGroups = []*MessageGroup{{
		BaseObject:   BaseObject{ID: "g1"},
		MaterialsIDs: []string{"m2"},
		Messages: []*Message{{
			BaseObject: BaseObject{ID: "msg1"},
			Content:    "hello",
			ToolCalls:  []*ToolCall{{BaseObject: BaseObject{ID: "t1"}, Code: "print(1)"}},
		}},
	}}

	cp := chat.Clone()
	chat.UsageExamples[0] = "changed"
	chat.ChatOptions.MaterialsIDs[0] = "changed"
	chat.MessageGroups[0].MaterialsIDs[0] = "changed"
	chat.MessageGroups[0].Messages[0].Content += " world"
	chat.MessageGroups[0].Messages[0].ToolCalls[0].Code = "changed"
	chat.MessageGroups = append(chat.MessageGroups, &MessageGroup{BaseObject: BaseObject{ID: "g2"}})

	if cp.UsageExamples[0] != "a" {
		t.Errorf("Expected usage example 'a', got %q", cp.UsageExamples[0])
	}
	if cp.ChatOptions.MaterialsIDs[0] != "m1" {
		t.Errorf("Expected chat material 'm1', got %q", cp.ChatOptions.MaterialsIDs[0])
	}
	if len(cp.MessageGroups) != 1 {
		t.Fatalf("Expected 1 group in the copy, got %d", len(cp.MessageGroups))
	}
	group := cp.MessageGroups[0]
	if group.MaterialsIDs[0] != "m2" {
		t.Errorf("Expected group material 'm2', got %q", group.MaterialsIDs[0])
	}
	if group.Messages[0].Content != "hello" {
		t.Errorf("Expected content 'hello', got %q", group.Messages[0].Content)
	}
	if group.Messages[0].ToolCalls[0].Code != "print(1)" {
		t.Errorf("Expected code 'print(1)', got %q", group.Messages[0].ToolCalls[0].Code)
	}
}

func TestAgentCloneCopiesParams(t *testing.T) {
	agent := &Asset{BaseObject: BaseObject{ID: "a1"}, Type: AssetAgent}
	agent.Normalize()
	agent.ExecutionModeParamsValues = map[string]any{"k": "v"}

	cp := agent.Clone()
	agent.ExecutionModeParamsValues["k"] = "changed"
	agent.System = "changed"

	if cp.ExecutionModeParamsValues["k"] != "v" {
		t.Errorf("Expected param 'v', got %v", cp.ExecutionModeParamsValues["k"])
	}
	if cp.System != "" {
		t.Errorf("Expected empty system prompt in the copy, got %q", cp.System)
	}
	if (*Asset)(nil).Clone() != nil {
		t.Error("Expected nil clone of nil asset")
	}
}
