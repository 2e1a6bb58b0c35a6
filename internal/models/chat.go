package models

// ChatOptions is the per-chat configuration sub-document.
type ChatOptions struct {
	AgentID                string   `json:"agent_id"`
	MaterialsIDs           []string `json:"materials_ids"`
	AICanAddExtraMaterials bool     `json:"ai_can_add_extra_materials"`
	DraftCommand           string   `json:"draft_command"`
}

// ChatData is the chat variant payload.
type ChatData struct {
	TitleEdited          bool            `json:"title_edited"`
	ChatOptions          ChatOptions     `json:"chat_options"`
	MessageGroups        []*MessageGroup `json:"message_groups"`
	IsAnalysisInProgress bool            `json:"is_analysis_in_progress"`
}

func normalizeChat(c *ChatData) {
	if c.MessageGroups == nil {
		c.MessageGroups = []*MessageGroup{}
	}
	if c.ChatOptions.MaterialsIDs == nil {
		c.ChatOptions.MaterialsIDs = []string{}
	}
	for _, group := range c.MessageGroups {
		group.normalize()
	}
}

// ActorID identifies who authored a message group.
type ActorID struct {
	Type string `json:"type"` // "user" or "agent"
	ID   string `json:"id"`
}

type MessageGroup struct {
	BaseObject
	ActorID      ActorID    `json:"actor_id"`
	Role         string     `json:"role"`
	Task         string     `json:"task"`
	MaterialsIDs []string   `json:"materials_ids"`
	Analysis     string     `json:"analysis"`
	Messages     []*Message `json:"messages"`
}

func (g *MessageGroup) Kind() ObjectKind { return KindMessageGroup }

func (g *MessageGroup) normalize() {
	if g.Messages == nil {
		g.Messages = []*Message{}
	}
	if g.MaterialsIDs == nil {
		g.MaterialsIDs = []string{}
	}
	for _, m := range g.Messages {
		m.normalize()
	}
}

func (g *MessageGroup) fields() map[string]field {
	return map[string]field{
		"actor_id":      valueField(&g.ActorID),
		"role":          textField(&g.Role),
		"task":          textField(&g.Task),
		"materials_ids": valueField(&g.MaterialsIDs),
		"analysis":      textField(&g.Analysis),
	}
}

// afterSet keeps role in line with the actor.
func (g *MessageGroup) afterSet(key string) {
	if key != "actor_id" {
		return
	}
	if g.ActorID.Type == "user" {
		g.Role = "user"
	} else {
		g.Role = "assistant"
	}
}

type Message struct {
	BaseObject
	Timestamp       string      `json:"timestamp"`
	Content         string      `json:"content"`
	ToolCalls       []*ToolCall `json:"tool_calls"`
	IsStreaming     bool        `json:"is_streaming"`
	RequestedFormat string      `json:"requested_format,omitempty"`
}

func (m *Message) Kind() ObjectKind { return KindMessage }

func (m *Message) normalize() {
	if m.ToolCalls == nil {
		m.ToolCalls = []*ToolCall{}
	}
}

func (m *Message) fields() map[string]field {
	return map[string]field{
		"timestamp":        textField(&m.Timestamp),
		"content":          textField(&m.Content),
		"is_streaming":     valueField(&m.IsStreaming),
		"requested_format": textField(&m.RequestedFormat),
	}
}

type ToolCall struct {
	BaseObject
	Language     string `json:"language"`
	Code         string `json:"code"`
	Headline     string `json:"headline"`
	Output       string `json:"output"`
	IsSuccessful bool   `json:"is_successful"`
	IsStreaming  bool   `json:"is_streaming"`
	IsExecuting  bool   `json:"is_executing"`
}

func (t *ToolCall) Kind() ObjectKind { return KindToolCall }

func (t *ToolCall) fields() map[string]field {
	return map[string]field{
		"language":      textField(&t.Language),
		"code":          textField(&t.Code),
		"headline":      textField(&t.Headline),
		"output":        textField(&t.Output),
		"is_successful": valueField(&t.IsSuccessful),
		"is_streaming":  valueField(&t.IsStreaming),
		"is_executing":  valueField(&t.IsExecuting),
	}
}
