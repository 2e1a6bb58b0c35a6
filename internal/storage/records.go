package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"aiconsole/internal/models"
)

// tomlRecord is the flat document written for agents, materials and user profiles.
type tomlRecord struct {
	Name             string   `toml:"name"`
	Version          string   `toml:"version"`
	Usage            string   `toml:"usage"`
	UsageExamples    []string `toml:"usage_examples"`
	EnabledByDefault bool     `toml:"enabled_by_default"`

	ContentType        string `toml:"content_type,omitempty"`
	ContentStaticText  string `toml:"content_static_text,omitempty"`
	ContentDynamicText string `toml:"content_dynamic_text,omitempty"`
	ContentAPI         string `toml:"content_api,omitempty"`

	System        string `toml:"system,omitempty"`
	GPTMode       string `toml:"gpt_mode,omitempty"`
	ExecutionMode string `toml:"execution_mode,omitempty"`

	DisplayName    string `toml:"display_name,omitempty"`
	ProfilePicture string `toml:"profile_picture,omitempty"`

	ExecutionModeParamsValues map[string]any `toml:"execution_mode_params_values,omitempty"`
}

func recordFromAsset(a *models.Asset) tomlRecord {
	rec := tomlRecord{
		Name:             a.Name,
		Version:          a.Version,
		Usage:            a.Usage,
		UsageExamples:    a.UsageExamples,
		EnabledByDefault: a.EnabledByDefault,
	}
	if rec.UsageExamples == nil {
		rec.UsageExamples = []string{}
	}
	switch {
	case a.MaterialData != nil:
		rec.ContentType = string(a.ContentType)
		content := wrapNewlines(a.Content)
		switch a.ContentType {
		case models.ContentDynamicText:
			rec.ContentDynamicText = content
		case models.ContentAPI:
			rec.ContentAPI = content
		default:
			rec.ContentStaticText = content
		}
	case a.AgentData != nil:
		rec.System = a.System
		rec.GPTMode = a.GPTMode
		rec.ExecutionMode = a.ExecutionMode
		rec.ExecutionModeParamsValues = a.ExecutionModeParamsValues
	case a.UserProfileData != nil:
		rec.DisplayName = a.DisplayName
		rec.ProfilePicture = a.ProfilePicture
	}
	return rec
}

func (rec tomlRecord) toAsset(t models.AssetType, id string, location models.AssetLocation) *models.Asset {
	a := &models.Asset{
		BaseObject:       models.BaseObject{ID: id},
		Type:             t,
		Name:             rec.Name,
		Version:          rec.Version,
		Usage:            rec.Usage,
		UsageExamples:    rec.UsageExamples,
		EnabledByDefault: rec.EnabledByDefault,
		DefinedIn:        location,
	}
	a.Normalize()
	switch t {
	case models.AssetMaterial:
		if rec.ContentType != "" {
			a.ContentType = models.MaterialContentType(rec.ContentType)
		}
		switch a.ContentType {
		case models.ContentDynamicText:
			a.Content = unwrapNewlines(rec.ContentDynamicText)
		case models.ContentAPI:
			a.Content = unwrapNewlines(rec.ContentAPI)
		default:
			a.Content = unwrapNewlines(rec.ContentStaticText)
		}
	case models.AssetAgent:
		a.System = rec.System
		a.GPTMode = rec.GPTMode
		a.ExecutionMode = rec.ExecutionMode
		a.ExecutionModeParamsValues = rec.ExecutionModeParamsValues
	case models.AssetUser:
		a.DisplayName = rec.DisplayName
		a.ProfilePicture = rec.ProfilePicture
	}
	return a
}

func encodeTOML(rec tomlRecord) ([]byte, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(rec); err != nil {
		return nil, fmt.Errorf("encode toml: %w", err)
	}
	return buf.Bytes(), nil
}

func readTOML(path string) (tomlRecord, error) {
	var rec tomlRecord
	if _, err := toml.DecodeFile(path, &rec); err != nil {
		return tomlRecord{}, err
	}
	return rec, nil
}

// onlyNameChanged compares two records ignoring name and version. The version
// is excluded so a previously bumped version never reads as a content change.
func onlyNameChanged(prev, next tomlRecord) bool {
	prev.Name, next.Name = "", ""
	prev.Version, next.Version = "", ""
	a, errA := encodeTOML(prev)
	b, errB := encodeTOML(next)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(a, b)
}

// bumpVersion increments the trailing numeric component of a dotted version.
func bumpVersion(version string) string {
	parts := strings.Split(version, ".")
	last := parts[len(parts)-1]
	n, err := strconv.Atoi(last)
	if err != nil || n < 0 {
		return version + ".1"
	}
	parts[len(parts)-1] = strconv.Itoa(n + 1)
	return strings.Join(parts, ".")
}

// Multiline content is kept on its own lines in the document.
func wrapNewlines(s string) string {
	if !strings.HasPrefix(s, "\n") {
		s = "\n" + s
	}
	if !strings.HasSuffix(s, "\n") {
		s += "\n"
	}
	return s
}

func unwrapNewlines(s string) string {
	s = strings.TrimPrefix(s, "\n")
	return strings.TrimSuffix(s, "\n")
}

// chatExcluded are keys of the chat JSON form that never reach disk: id and
// last_modified come from the file identity, the rest is runtime state.
var chatExcluded = []string{"id", "last_modified", "lock_id", "enabled"}

func chatRecord(a *models.Asset) (map[string]json.RawMessage, error) {
	raw, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("encode chat: %w", err)
	}
	var rec map[string]json.RawMessage
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("encode chat: %w", err)
	}
	for _, key := range chatExcluded {
		delete(rec, key)
	}
	return rec, nil
}

// mergeChatScope overlays only the scoped key of next onto the previously
// persisted record, leaving every other value byte-for-byte untouched.
func mergeChatScope(prev, next map[string]json.RawMessage, scope string) (map[string]json.RawMessage, error) {
	value, ok := next[scope]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidScope, scope)
	}
	merged := make(map[string]json.RawMessage, len(prev)+1)
	for k, v := range prev {
		merged[k] = v
	}
	merged[scope] = value
	return merged, nil
}

func readChatRecord(path string) (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rec map[string]json.RawMessage
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func decodeChat(data []byte, id string) (*models.Asset, error) {
	a := &models.Asset{Type: models.AssetChat}
	if err := json.Unmarshal(data, a); err != nil {
		return nil, err
	}
	a.ID = id
	a.Type = models.AssetChat
	a.DefinedIn = models.LocationProject
	a.Normalize()
	clearLockTags(a)
	return a, nil
}

// clearLockTags drops lock ids that a flush may have captured from nested
// objects locked at the time; a freshly loaded tree holds no locks.
func clearLockTags(a *models.Asset) {
	a.LockID = ""
	if a.ChatData == nil {
		return
	}
	for _, g := range a.MessageGroups {
		g.LockID = ""
		for _, m := range g.Messages {
			m.LockID = ""
			for _, tc := range m.ToolCalls {
				tc.LockID = ""
			}
		}
	}
}
