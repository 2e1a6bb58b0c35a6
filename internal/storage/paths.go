package storage

import (
	"path/filepath"

	"aiconsole/internal/models"
)

const trashDirName = ".trash"

// imageExtensions are the avatar files that may accompany an agent or user profile.
var imageExtensions = []string{".jpeg", ".jpg", ".png", ".gif", ".svg"}

// Paths locates the project and built-in core asset trees.
type Paths struct {
	ProjectDir string
	CoreDir    string
}

// Dir returns the directory holding assets of type t at location.
func (p Paths) Dir(location models.AssetLocation, t models.AssetType) string {
	if location == models.LocationCore {
		return filepath.Join(p.CoreDir, t.Dir())
	}
	return filepath.Join(p.ProjectDir, t.Dir())
}

// TrashDir is where deleted files of type t are moved to.
func (p Paths) TrashDir(t models.AssetType) string {
	return filepath.Join(p.ProjectDir, trashDirName, t.Dir())
}

// DocumentExt is the extension of the main document for type t.
func DocumentExt(t models.AssetType) string {
	if t == models.AssetChat {
		return ".json"
	}
	return ".toml"
}

// DocumentPath returns <dir>/<id>.<ext> for the asset at location.
func (p Paths) DocumentPath(location models.AssetLocation, t models.AssetType, id string) string {
	return filepath.Join(p.Dir(location, t), id+DocumentExt(t))
}

// hasImages reports whether assets of type t carry avatar files.
func hasImages(t models.AssetType) bool {
	return t == models.AssetAgent || t == models.AssetUser
}

// ownedExtensions lists every extension deleted along with an asset of type t.
func ownedExtensions(t models.AssetType) []string {
	exts := []string{DocumentExt(t)}
	if hasImages(t) {
		exts = append(exts, imageExtensions...)
	}
	return exts
}
