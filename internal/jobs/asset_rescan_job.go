package jobs

import (
	"context"
	"time"

	"aiconsole/internal/services"
)

// AssetRescanJob reloads every asset directory at a fixed period. It stands in
// for the file watcher where file events are unavailable (network mounts,
// DISABLE_WATCHER).
type AssetRescanJob struct {
	interval
	assets *services.Assets
}

// NewAssetRescanJob creates a rescan job running every period
func NewAssetRescanJob(assets *services.Assets, period time.Duration) *AssetRescanJob {
	return &AssetRescanJob{
		interval: interval{every: period},
		assets:   assets,
	}
}

// Run reloads the assets
func (j *AssetRescanJob) Run(ctx context.Context) error {
	j.markRun()
	return j.assets.Reload(ctx)
}
