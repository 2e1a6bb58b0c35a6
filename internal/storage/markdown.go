package storage

import (
	"bytes"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"aiconsole/internal/models"
)

const maxMaterialMDSize = 1 << 20

// materialFrontmatter is the YAML header of a material markdown file.
type materialFrontmatter struct {
	ID               string   `yaml:"id,omitempty"`
	Name             string   `yaml:"name"`
	Version          string   `yaml:"version,omitempty"`
	Usage            string   `yaml:"usage,omitempty"`
	UsageExamples    []string `yaml:"usage_examples,omitempty"`
	EnabledByDefault *bool    `yaml:"enabled_by_default,omitempty"`
	ContentType      string   `yaml:"content_type,omitempty"`
}

// ParseMaterialMarkdown reads a material from markdown with optional YAML
// frontmatter. The body becomes the content. Without a name in the header the
// first "# " heading is used.
func ParseMaterialMarkdown(content string) (*models.Asset, error) {
	if len(content) > maxMaterialMDSize {
		return nil, fmt.Errorf("content exceeds maximum size of %d bytes", maxMaterialMDSize)
	}
	content = strings.TrimSpace(strings.ReplaceAll(content, "\r\n", "\n"))
	if content == "" {
		return nil, fmt.Errorf("empty content")
	}

	fm := &materialFrontmatter{}
	body := content
	if strings.HasPrefix(content, "---\n") {
		rest := content[4:]
		if idx := strings.Index(rest, "\n---"); idx != -1 {
			if err := yaml.Unmarshal([]byte(rest[:idx]), fm); err != nil {
				return nil, fmt.Errorf("invalid YAML frontmatter: %w", err)
			}
			body = strings.TrimSpace(rest[idx+4:])
		}
	}

	if fm.Name == "" {
		for _, line := range strings.Split(body, "\n") {
			if strings.HasPrefix(line, "# ") {
				fm.Name = strings.TrimSpace(line[2:])
				break
			}
		}
	}

	asset := &models.Asset{
		BaseObject:    models.BaseObject{ID: fm.ID},
		Type:          models.AssetMaterial,
		Name:          fm.Name,
		Version:       fm.Version,
		Usage:         fm.Usage,
		UsageExamples: fm.UsageExamples,
		MaterialData: &models.MaterialData{
			ContentType: models.MaterialContentType(fm.ContentType),
			Content:     body,
		},
	}
	if fm.EnabledByDefault != nil {
		asset.EnabledByDefault = *fm.EnabledByDefault
	} else {
		asset.EnabledByDefault = true
	}
	switch asset.ContentType {
	case "", models.ContentStaticText, models.ContentDynamicText, models.ContentAPI:
	default:
		return nil, fmt.Errorf("unknown content_type %q", fm.ContentType)
	}
	asset.Normalize()
	return asset, nil
}

// RenderMaterialMarkdown writes a material as YAML frontmatter plus content.
func RenderMaterialMarkdown(asset *models.Asset) ([]byte, error) {
	if asset.Type != models.AssetMaterial || asset.MaterialData == nil {
		return nil, fmt.Errorf("%w: %s is not a material", ErrUnknownAssetType, asset.ID)
	}
	enabled := asset.EnabledByDefault
	header, err := yaml.Marshal(materialFrontmatter{
		ID:               asset.ID,
		Name:             asset.Name,
		Version:          asset.Version,
		Usage:            asset.Usage,
		UsageExamples:    asset.UsageExamples,
		EnabledByDefault: &enabled,
		ContentType:      string(asset.ContentType),
	})
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteString("---\n")
	buf.Write(header)
	buf.WriteString("---\n\n")
	buf.WriteString(asset.Content)
	buf.WriteString("\n")
	return buf.Bytes(), nil
}
