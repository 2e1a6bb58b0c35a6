package storage

import "errors"

var (
	ErrAlreadyExists        = errors.New("asset already exists")
	ErrReservedID           = errors.New("cannot save asset with id 'new'")
	ErrUserIsInvalidAgentID = errors.New("'user' is not a valid agent id")
	ErrInvalidID            = errors.New("invalid asset id")
	ErrRenameConflict       = errors.New("both old and new asset files exist")
	ErrNotConfigured        = errors.New("asset storage is not configured")
	ErrUnknownAssetType     = errors.New("unknown asset type")
	ErrInvalidScope         = errors.New("invalid chat update scope")
	ErrNotFound             = errors.New("asset not found")
)
