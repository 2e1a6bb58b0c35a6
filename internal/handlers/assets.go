package handlers

import (
	"errors"
	"io"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/gosimple/slug"

	"aiconsole/internal/models"
	"aiconsole/internal/services"
	"aiconsole/internal/storage"
)

// maxAvatarSize caps avatar uploads.
const maxAvatarSize = 5 << 20

// AssetHandler serves the asset REST API
type AssetHandler struct {
	assets *services.Assets
	core   *services.Core
}

// NewAssetHandler creates a new asset handler
func NewAssetHandler(assets *services.Assets, core *services.Core) *AssetHandler {
	return &AssetHandler{assets: assets, core: core}
}

// Register mounts the asset routes on router.
func (h *AssetHandler) Register(router fiber.Router) {
	router.Get("/assets", h.List)
	router.Get("/assets/:type/:id", h.Get)
	router.Post("/assets/:type", h.Create)
	router.Post("/assets/:type/:id", h.Save)
	router.Patch("/assets/:type/:id", h.Update)
	router.Delete("/assets/:type/:id", h.Delete)
	router.Post("/assets/:type/:id/enabled", h.SetEnabled)
	router.Post("/assets/:type/:id/avatar", h.SetAvatar)
	router.Post("/import/materials", h.ImportMaterial)
	router.Get("/export/materials/:id", h.ExportMaterial)
	router.Get("/locks", h.Locks)
}

func parseType(c *fiber.Ctx) (models.AssetType, error) {
	t, ok := models.ParseAssetType(c.Params("type"))
	if !ok {
		return "", c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unknown asset type: " + c.Params("type"),
		})
	}
	return t, nil
}

func parseLocation(raw string) (models.AssetLocation, bool) {
	switch models.AssetLocation(raw) {
	case "":
		return "", true
	case models.LocationProject, models.LocationCore:
		return models.AssetLocation(raw), true
	}
	return "", false
}

// List returns assets, optionally filtered by ?type= and ?location=
func (h *AssetHandler) List(c *fiber.Ctx) error {
	location, ok := parseLocation(c.Query("location"))
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unknown location: " + c.Query("location"),
		})
	}

	var assets []*models.Asset
	if raw := c.Query("type"); raw != "" {
		t, ok := models.ParseAssetType(raw)
		if !ok {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Unknown asset type: " + raw,
			})
		}
		assets = h.assets.FilterAssets(t, location)
	} else if location != "" {
		assets = h.assets.FilterAssets("", location)
	} else {
		assets = h.assets.UnifiedAssets()
	}
	if assets == nil {
		assets = []*models.Asset{}
	}

	return c.JSON(fiber.Map{
		"assets": assets,
		"total":  len(assets),
	})
}

// Get returns a single asset
func (h *AssetHandler) Get(c *fiber.Ctx) error {
	t, err := parseType(c)
	if t == "" {
		return err
	}
	location, ok := parseLocation(c.Query("location"))
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unknown location: " + c.Query("location"),
		})
	}

	asset := h.assets.GetAsset(c.Params("id"), location, nil)
	if asset == nil || asset.Type != t {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Asset not found",
		})
	}
	return c.JSON(asset)
}

// decodeAsset parses the body as an asset of type t. Runtime fields sent by
// the client are dropped.
func decodeAsset(c *fiber.Ctx, t models.AssetType) (*models.Asset, error) {
	var asset models.Asset
	if err := c.BodyParser(&asset); err != nil {
		return nil, err
	}
	asset.Type = t
	asset.LockID = ""
	asset.DefinedIn = models.LocationProject
	asset.Normalize()
	return &asset, nil
}

// Create creates a new asset. The id defaults to the slug of its name.
func (h *AssetHandler) Create(c *fiber.Ctx) error {
	t, err := parseType(c)
	if t == "" {
		return err
	}
	asset, err := decodeAsset(c, t)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if asset.ID == "" {
		asset.ID = slug.Make(asset.Name)
	}
	if asset.ID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Either id or name is required",
		})
	}

	if err := h.assets.CreateAsset(c.UserContext(), asset); err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(h.assets.GetAsset(asset.ID, models.LocationProject, nil))
}

// Save creates the asset at :id, or updates the existing project variant.
func (h *AssetHandler) Save(c *fiber.Ctx) error {
	t, err := parseType(c)
	if t == "" {
		return err
	}
	asset, err := decodeAsset(c, t)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	id := c.Params("id")
	if asset.ID == "" {
		asset.ID = id
	}

	if h.assets.GetAsset(id, models.LocationProject, nil) == nil {
		if err := h.assets.CreateAsset(c.UserContext(), asset); err != nil {
			return respondError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(h.assets.GetAsset(asset.ID, models.LocationProject, nil))
	}
	if err := h.assets.UpdateAsset(c.UserContext(), id, asset, c.Query("scope")); err != nil {
		return respondError(c, err)
	}
	return c.JSON(h.assets.GetAsset(asset.ID, models.LocationProject, nil))
}

// Update updates an existing asset; ?scope= limits which part of a chat is written.
func (h *AssetHandler) Update(c *fiber.Ctx) error {
	t, err := parseType(c)
	if t == "" {
		return err
	}
	id := c.Params("id")
	if existing := h.assets.GetAsset(id, "", nil); existing == nil || existing.Type != t {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Asset not found",
		})
	}
	asset, err := decodeAsset(c, t)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if asset.ID == "" {
		asset.ID = id
	}

	if err := h.assets.UpdateAsset(c.UserContext(), id, asset, c.Query("scope")); err != nil {
		return respondError(c, err)
	}
	return c.JSON(h.assets.GetAsset(asset.ID, models.LocationProject, nil))
}

// Delete moves an asset to the project trash
func (h *AssetHandler) Delete(c *fiber.Ctx) error {
	if t, err := parseType(c); t == "" {
		return err
	}
	if err := h.assets.DeleteAsset(c.UserContext(), c.Params("id")); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// SetEnabled toggles an asset in the project settings
func (h *AssetHandler) SetEnabled(c *fiber.Ctx) error {
	if t, err := parseType(c); t == "" {
		return err
	}
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := c.BodyParser(&req); err != nil || req.Enabled == nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "enabled is required",
		})
	}

	id := c.Params("id")
	if err := h.assets.SetEnabled(id, *req.Enabled); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"id":      id,
		"enabled": *req.Enabled,
	})
}

// SetAvatar stores an agent or user profile image. Accepts a multipart
// "avatar" file or a raw image body.
func (h *AssetHandler) SetAvatar(c *fiber.Ctx) error {
	if t, err := parseType(c); t == "" {
		return err
	}

	data := c.Body()
	if file, err := c.FormFile("avatar"); err == nil {
		if file.Size > maxAvatarSize {
			return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
				"error": "Avatar too large",
			})
		}
		f, err := file.Open()
		if err != nil {
			return respondError(c, err)
		}
		defer f.Close()
		if data, err = io.ReadAll(f); err != nil {
			return respondError(c, err)
		}
	}
	if len(data) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Avatar data is required",
		})
	}
	if len(data) > maxAvatarSize {
		return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
			"error": "Avatar too large",
		})
	}

	if err := h.assets.SetAvatar(c.Params("id"), data); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ImportMaterial creates a material from markdown with YAML frontmatter,
// sent as a multipart "file" or as the raw body.
func (h *AssetHandler) ImportMaterial(c *fiber.Ctx) error {
	data := c.Body()
	if file, err := c.FormFile("file"); err == nil {
		f, err := file.Open()
		if err != nil {
			return respondError(c, err)
		}
		defer f.Close()
		if data, err = io.ReadAll(f); err != nil {
			return respondError(c, err)
		}
	}

	asset, err := storage.ParseMaterialMarkdown(string(data))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	if asset.ID == "" {
		asset.ID = slug.Make(asset.Name)
	}
	if asset.ID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Either id or name is required",
		})
	}

	if err := h.assets.CreateAsset(c.UserContext(), asset); err != nil {
		return respondError(c, err)
	}
	log.Printf("📥 [ASSETS] Imported material %s", asset.ID)
	return c.Status(fiber.StatusCreated).JSON(h.assets.GetAsset(asset.ID, models.LocationProject, nil))
}

// ExportMaterial returns the effective variant of a material as markdown
func (h *AssetHandler) ExportMaterial(c *fiber.Ctx) error {
	asset := h.assets.GetAsset(c.Params("id"), "", nil)
	if asset == nil || asset.Type != models.AssetMaterial {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Material not found",
		})
	}
	out, err := storage.RenderMaterialMarkdown(asset)
	if err != nil {
		return respondError(c, err)
	}
	c.Set(fiber.HeaderContentType, "text/markdown; charset=utf-8")
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="`+asset.ID+`.md"`)
	return c.Send(out)
}

// Locks lists outstanding write locks
func (h *AssetHandler) Locks(c *fiber.Ctx) error {
	locks := h.core.Locks().Snapshot()
	return c.JSON(fiber.Map{
		"locks": locks,
		"total": len(locks),
	})
}

// respondError maps storage and core errors to HTTP status codes.
func respondError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, services.ErrObjectNotFound):
		status = fiber.StatusNotFound
	case errors.Is(err, storage.ErrAlreadyExists), errors.Is(err, storage.ErrRenameConflict):
		status = fiber.StatusConflict
	case errors.Is(err, storage.ErrReservedID), errors.Is(err, storage.ErrUserIsInvalidAgentID),
		errors.Is(err, storage.ErrInvalidID), errors.Is(err, storage.ErrInvalidScope),
		errors.Is(err, storage.ErrUnknownAssetType), errors.Is(err, models.ErrWrongObjectType),
		errors.Is(err, services.ErrUnknownRef):
		status = fiber.StatusBadRequest
	case errors.Is(err, services.ErrAssetLocked), errors.Is(err, services.ErrLockTimeout):
		status = fiber.StatusLocked
	case errors.Is(err, services.ErrForeignLock):
		status = fiber.StatusForbidden
	}

	if status == fiber.StatusInternalServerError {
		log.Printf("❌ [ASSETS] %s %s failed: %v", c.Method(), c.Path(), err)
	}
	return c.Status(status).JSON(fiber.Map{
		"error": err.Error(),
	})
}
