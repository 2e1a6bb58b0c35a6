package models

import (
	"maps"
	"slices"
)

// Clone returns a deep copy of the asset that shares no mutable state with a.
// Values stored in ExecutionModeParamsValues are replaced wholesale by
// mutations, so the map itself is copied but not its values.
func (a *Asset) Clone() *Asset {
	if a == nil {
		return nil
	}
	cp := *a
	cp.UsageExamples = slices.Clone(a.UsageExamples)
	if a.AgentData != nil {
		agent := *a.AgentData
		agent.ExecutionModeParamsValues = maps.Clone(a.ExecutionModeParamsValues)
		cp.AgentData = &agent
	}
	if a.MaterialData != nil {
		material := *a.MaterialData
		cp.MaterialData = &material
	}
	if a.UserProfileData != nil {
		profile := *a.UserProfileData
		cp.UserProfileData = &profile
	}
	if a.ChatData != nil {
		cp.ChatData = a.ChatData.clone()
	}
	return &cp
}

func (c *ChatData) clone() *ChatData {
	cp := *c
	cp.ChatOptions.MaterialsIDs = slices.Clone(c.ChatOptions.MaterialsIDs)
	if c.MessageGroups != nil {
		cp.MessageGroups = make([]*MessageGroup, len(c.MessageGroups))
		for i, g := range c.MessageGroups {
			cp.MessageGroups[i] = g.clone()
		}
	}
	return &cp
}

func (g *MessageGroup) clone() *MessageGroup {
	cp := *g
	cp.MaterialsIDs = slices.Clone(g.MaterialsIDs)
	if g.Messages != nil {
		cp.Messages = make([]*Message, len(g.Messages))
		for i, m := range g.Messages {
			cp.Messages[i] = m.clone()
		}
	}
	return &cp
}

func (m *Message) clone() *Message {
	cp := *m
	if m.ToolCalls != nil {
		cp.ToolCalls = make([]*ToolCall, len(m.ToolCalls))
		for i, t := range m.ToolCalls {
			tc := *t
			cp.ToolCalls[i] = &tc
		}
	}
	return &cp
}
