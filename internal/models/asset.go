package models

import (
	"strings"
	"time"
)

// AssetType is the tag of the asset variant.
type AssetType string

const (
	AssetAgent    AssetType = "agent"
	AssetMaterial AssetType = "material"
	AssetChat     AssetType = "chat"
	AssetUser     AssetType = "user"
)

// AssetTypes lists every asset type in load order.
var AssetTypes = []AssetType{AssetAgent, AssetMaterial, AssetChat, AssetUser}

// Dir is the directory name holding assets of this type.
func (t AssetType) Dir() string { return string(t) + "s" }

// ParseAssetType accepts both the singular and the directory form ("agent", "agents").
func ParseAssetType(s string) (AssetType, bool) {
	s = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "s")
	for _, t := range AssetTypes {
		if string(t) == s {
			return t, true
		}
	}
	return "", false
}

// AssetLocation records where an asset definition came from.
type AssetLocation string

const (
	LocationProject AssetLocation = "project_dir"
	LocationCore    AssetLocation = "aiconsole_core"
)

// MaterialContentType selects which content_* key a material is stored under.
type MaterialContentType string

const (
	ContentStaticText  MaterialContentType = "static_text"
	ContentDynamicText MaterialContentType = "dynamic_text"
	ContentAPI         MaterialContentType = "api"
)

// ContentKey is the TOML key holding a material's content.
func (t MaterialContentType) ContentKey() string {
	switch t {
	case ContentDynamicText:
		return "content_dynamic_text"
	case ContentAPI:
		return "content_api"
	default:
		return "content_static_text"
	}
}

// AgentData is the agent variant payload.
type AgentData struct {
	System                    string         `json:"system"`
	GPTMode                   string         `json:"gpt_mode"`
	ExecutionMode             string         `json:"execution_mode"`
	ExecutionModeParamsValues map[string]any `json:"execution_mode_params_values"`
}

// MaterialData is the material variant payload.
type MaterialData struct {
	ContentType MaterialContentType `json:"content_type"`
	Content     string              `json:"content"`
}

// UserProfileData is the user profile variant payload.
type UserProfileData struct {
	DisplayName    string `json:"display_name"`
	ProfilePicture string `json:"profile_picture"`
}

// Asset is the shared record of every asset kind. Exactly one of the variant
// payloads is set, matching Type.
type Asset struct {
	BaseObject
	Type             AssetType     `json:"type"`
	Name             string        `json:"name"`
	Version          string        `json:"version"`
	Usage            string        `json:"usage"`
	UsageExamples    []string      `json:"usage_examples"`
	DefinedIn        AssetLocation `json:"defined_in"`
	Override         bool          `json:"override"`
	EnabledByDefault bool          `json:"enabled_by_default"`
	// Enabled is derived from settings on read and never persisted.
	Enabled      bool      `json:"enabled"`
	LastModified time.Time `json:"last_modified"`

	*AgentData
	*MaterialData
	*UserProfileData
	*ChatData
}

// DefaultVersion is assigned to assets created without one.
const DefaultVersion = "0.0.1"

func (a *Asset) Kind() ObjectKind { return ObjectKind(a.Type) }

// Normalize makes the variant payload match Type and fills defaults.
func (a *Asset) Normalize() {
	if a.DefinedIn == "" {
		a.DefinedIn = LocationProject
	}
	if a.UsageExamples == nil {
		a.UsageExamples = []string{}
	}
	switch a.Type {
	case AssetAgent:
		if a.AgentData == nil {
			a.AgentData = &AgentData{}
		}
		a.MaterialData, a.UserProfileData, a.ChatData = nil, nil, nil
	case AssetMaterial:
		if a.MaterialData == nil {
			a.MaterialData = &MaterialData{}
		}
		if a.ContentType == "" {
			a.ContentType = ContentStaticText
		}
		a.AgentData, a.UserProfileData, a.ChatData = nil, nil, nil
	case AssetUser:
		if a.UserProfileData == nil {
			a.UserProfileData = &UserProfileData{}
		}
		a.AgentData, a.MaterialData, a.ChatData = nil, nil, nil
	case AssetChat:
		if a.ChatData == nil {
			a.ChatData = &ChatData{}
		}
		normalizeChat(a.ChatData)
		a.AgentData, a.MaterialData, a.UserProfileData = nil, nil, nil
	}
	if a.Type != AssetChat && a.Version == "" {
		a.Version = DefaultVersion
	}
}

func (a *Asset) fields() map[string]field {
	f := map[string]field{
		"name":               textField(&a.Name),
		"usage":              textField(&a.Usage),
		"usage_examples":     valueField(&a.UsageExamples),
		"enabled_by_default": valueField(&a.EnabledByDefault),
	}
	switch {
	case a.AgentData != nil:
		f["system"] = textField(&a.System)
		f["gpt_mode"] = textField(&a.GPTMode)
		f["execution_mode"] = textField(&a.ExecutionMode)
		f["execution_mode_params_values"] = valueField(&a.ExecutionModeParamsValues)
	case a.MaterialData != nil:
		f["content_type"] = valueField(&a.ContentType)
		f["content"] = textField(&a.Content)
	case a.UserProfileData != nil:
		f["display_name"] = textField(&a.DisplayName)
		f["profile_picture"] = textField(&a.ProfilePicture)
	case a.ChatData != nil:
		f["title_edited"] = valueField(&a.TitleEdited)
		f["chat_options"] = valueField(&a.ChatOptions)
		f["is_analysis_in_progress"] = valueField(&a.IsAnalysisInProgress)
	}
	return f
}
