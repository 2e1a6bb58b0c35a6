package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"aiconsole/internal/events"
	"aiconsole/internal/models"
)

// LoadState tracks the load cycle of one asset type.
type LoadState int

const (
	StateUnloaded LoadState = iota
	StateLoading
	StateLoaded
)

func (s LoadState) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	default:
		return "unloaded"
	}
}

// Options configures a FileStorage.
type Options struct {
	Bus            *events.Bus
	DisableWatcher bool
	Debounce       time.Duration
	ParseWorkers   int
}

// FileStorage keeps every asset in memory and mirrors writes to the project
// directory. Multiple variants of the same id may coexist; the project variant
// always comes first.
type FileStorage struct {
	opts  Options
	paths Paths

	mu         sync.RWMutex
	configured bool
	assets     map[string][]*models.Asset
	states     map[models.AssetType]LoadState
	pinned     func(assetID string) bool
	guard      func(swap func())

	// writeGen counts in-memory writes; written records the generation of
	// the last write per id so a reload never installs a stale parse.
	writeGen uint64
	written  map[string]uint64

	writeMu  sync.Mutex // serializes disk writes
	reloadMu sync.Mutex // one reload at a time

	watcher *Watcher
}

// NewFileStorage creates an unconfigured storage; call Setup before use.
func NewFileStorage(opts Options) *FileStorage {
	if opts.ParseWorkers <= 0 {
		opts.ParseWorkers = runtime.NumCPU()
	}
	states := make(map[models.AssetType]LoadState, len(models.AssetTypes))
	for _, t := range models.AssetTypes {
		states[t] = StateUnloaded
	}
	return &FileStorage{
		opts:    opts,
		assets:  make(map[string][]*models.Asset),
		states:  states,
		written: make(map[string]uint64),
	}
}

// Setup creates the project asset directories, loads everything and starts
// the watcher. It never panics; a false result carries the cause.
func (s *FileStorage) Setup(ctx context.Context, paths Paths) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok, err = false, fmt.Errorf("asset storage setup panicked: %v", r)
		}
		if err != nil {
			log.Printf("❌ [ASSETS] Failed to set up storage: %v", err)
		}
	}()

	if paths.ProjectDir == "" {
		return false, fmt.Errorf("%w: project directory is empty", ErrNotConfigured)
	}
	for _, t := range models.AssetTypes {
		if err := os.MkdirAll(paths.Dir(models.LocationProject, t), 0o755); err != nil {
			return false, fmt.Errorf("create %s directory: %w", t.Dir(), err)
		}
	}

	s.mu.Lock()
	s.paths = paths
	s.configured = true
	s.mu.Unlock()

	if err := s.load(ctx); err != nil {
		return false, err
	}

	if !s.opts.DisableWatcher {
		var dirs []string
		for _, t := range models.AssetTypes {
			dirs = append(dirs, paths.Dir(models.LocationProject, t), paths.Dir(models.LocationCore, t))
		}
		w, err := NewWatcher(dirs, s.opts.Debounce, func() {
			if err := s.Reload(context.Background()); err != nil {
				log.Printf("⚠️ [ASSETS] Reload after file change failed: %v", err)
			}
		})
		if err != nil {
			return false, err
		}
		w.Start()
		s.watcher = w
	}

	log.Printf("✅ [ASSETS] Storage ready: project=%s core=%s (%d ids)", paths.ProjectDir, paths.CoreDir, len(s.Assets()))
	return true, nil
}

// Destroy stops the watcher.
func (s *FileStorage) Destroy() {
	if s.watcher != nil {
		s.watcher.Stop()
		s.watcher = nil
	}
}

// Paths returns the configured directories.
func (s *FileStorage) Paths() Paths {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.paths
}

// SetPinned installs a predicate naming asset ids whose in-memory instances
// must survive a reload (for example because they are locked).
func (s *FileStorage) SetPinned(fn func(assetID string) bool) {
	s.mu.Lock()
	s.pinned = fn
	s.mu.Unlock()
}

// SetSwapGuard installs a wrapper around the final map swap of a reload.
// The owner of the in-memory instances uses it to serialize the swap with
// its own writes.
func (s *FileStorage) SetSwapGuard(fn func(swap func())) {
	s.mu.Lock()
	s.guard = fn
	s.mu.Unlock()
}

// State returns the load state of an asset type.
func (s *FileStorage) State(t models.AssetType) LoadState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.states[t]
}

// Assets returns a snapshot of id → variants. The asset pointers are the live instances.
func (s *FileStorage) Assets() map[string][]*models.Asset {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]*models.Asset, len(s.assets))
	for id, variants := range s.assets {
		out[id] = append([]*models.Asset(nil), variants...)
	}
	return out
}

// Variants returns every loaded variant of id, project first.
func (s *FileStorage) Variants(id string) []*models.Asset {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*models.Asset(nil), s.assets[id]...)
}

// Get returns the first variant of id at location, or the first variant at all
// when location is empty.
func (s *FileStorage) Get(id string, location models.AssetLocation) *models.Asset {
	for _, a := range s.Variants(id) {
		if location == "" || a.DefinedIn == location {
			return a
		}
	}
	return nil
}

// Reload rescans both directory trees and announces the result.
func (s *FileStorage) Reload(ctx context.Context) error {
	if err := s.load(ctx); err != nil {
		return err
	}
	s.emit(events.AssetsUpdated{Count: len(s.Assets())})
	return nil
}

type loadJob struct {
	t        models.AssetType
	id       string
	path     string
	location models.AssetLocation
}

type loadResult struct {
	asset *models.Asset
	err   error
}

// load parses every asset file on a bounded worker pool and swaps the
// in-memory map in one step.
func (s *FileStorage) load(ctx context.Context) error {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	s.mu.Lock()
	if !s.configured {
		s.mu.Unlock()
		return ErrNotConfigured
	}
	paths := s.paths
	startGen := s.writeGen
	guard := s.guard
	for _, t := range models.AssetTypes {
		s.states[t] = StateLoading
	}
	s.mu.Unlock()

	var jobs []loadJob
	for _, t := range models.AssetTypes {
		locations := []models.AssetLocation{models.LocationProject, models.LocationCore}
		if t == models.AssetChat {
			// Chats only live in the project history.
			locations = locations[:1]
		}
		for _, location := range locations {
			for _, id := range listAssetIDs(paths.Dir(location, t), DocumentExt(t)) {
				jobs = append(jobs, loadJob{t: t, id: id, path: paths.DocumentPath(location, t, id), location: location})
			}
		}
	}

	results := make([]loadResult, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.ParseWorkers)
	for i, job := range jobs {
		i, job := i, job
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			asset, err := loadAssetFile(job)
			results[i] = loadResult{asset: asset, err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.mu.Lock()
		for _, t := range models.AssetTypes {
			if s.states[t] == StateLoading {
				s.states[t] = StateUnloaded
			}
		}
		s.mu.Unlock()
		return fmt.Errorf("load assets: %w", err)
	}

	next := make(map[string][]*models.Asset)
	var failures []events.AssetLoadError
	for i, res := range results {
		if res.err != nil {
			failures = append(failures, events.AssetLoadError{
				AssetType: string(jobs[i].t),
				AssetID:   jobs[i].id,
				Path:      jobs[i].path,
				Err:       res.err,
			})
			continue
		}
		next[res.asset.ID] = append(next[res.asset.ID], res.asset)
	}

	swap := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.pinned != nil {
			for id, variants := range s.assets {
				if s.pinned(id) {
					next[id] = variants
				}
			}
		}
		// Ids written after the scan started keep their in-memory state.
		for id, gen := range s.written {
			if gen <= startGen {
				continue
			}
			if live, ok := s.assets[id]; ok {
				next[id] = live
			} else {
				delete(next, id)
			}
		}
		clear(s.written)
		s.assets = next
		for _, t := range models.AssetTypes {
			s.states[t] = StateLoaded
		}
	}
	if guard != nil {
		guard(swap)
	} else {
		swap()
	}

	for _, failure := range failures {
		log.Printf("⚠️ [ASSETS] Error loading %s `%s`: %v", failure.AssetType, failure.AssetID, failure.Err)
		s.emit(failure)
	}
	return nil
}

// listAssetIDs returns the ids of documents with ext in dir. A missing
// directory yields no ids.
func listAssetIDs(dir, ext string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != ext {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ext))
	}
	return ids
}

func loadAssetFile(job loadJob) (*models.Asset, error) {
	info, err := os.Stat(job.path)
	if err != nil {
		return nil, err
	}

	var asset *models.Asset
	if job.t == models.AssetChat {
		data, err := os.ReadFile(job.path)
		if err != nil {
			return nil, err
		}
		asset, err = decodeChat(data, job.id)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", filepath.Base(job.path), err)
		}
	} else {
		rec, err := readTOML(job.path)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", filepath.Base(job.path), err)
		}
		asset = rec.toAsset(job.t, job.id, job.location)
	}
	asset.LastModified = info.ModTime()
	return asset, nil
}

// validateID rejects ids that are reserved or unsafe as file names.
func validateID(a *models.Asset) error {
	switch {
	case a.ID == "new":
		return ErrReservedID
	case a.Type == models.AssetAgent && a.ID == "user":
		return ErrUserIsInvalidAgentID
	case a.ID == "", a.ID == ".", a.ID == "..",
		strings.ContainsAny(a.ID, `/\`), strings.HasPrefix(a.ID, "."):
		return fmt.Errorf("%w: %q", ErrInvalidID, a.ID)
	}
	if _, ok := models.ParseAssetType(string(a.Type)); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAssetType, a.Type)
	}
	return nil
}

func (s *FileStorage) checkConfigured() (Paths, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.configured {
		return Paths{}, ErrNotConfigured
	}
	return s.paths, nil
}

// CreateAsset writes a new project asset. It fails if the id already exists
// in the project directory.
func (s *FileStorage) CreateAsset(asset *models.Asset) error {
	paths, err := s.checkConfigured()
	if err != nil {
		return err
	}
	if err := validateID(asset); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	path := paths.DocumentPath(models.LocationProject, asset.Type, asset.ID)
	if s.Get(asset.ID, models.LocationProject) != nil || fileExists(path) {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, asset.ID)
	}

	asset.DefinedIn = models.LocationProject
	asset.Normalize()

	var data []byte
	if asset.Type == models.AssetChat {
		rec, err := chatRecord(asset)
		if err != nil {
			return err
		}
		if data, err = json.Marshal(rec); err != nil {
			return fmt.Errorf("encode chat: %w", err)
		}
	} else {
		if data, err = encodeTOML(recordFromAsset(asset)); err != nil {
			return err
		}
	}
	if err := WriteFileAtomic(path, data); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if info, err := os.Stat(path); err == nil {
		asset.LastModified = info.ModTime()
	}

	s.putProjectVariant("", asset)
	log.Printf("📝 [ASSETS] Created %s %s", asset.Type, asset.ID)
	return nil
}

// UpdateAsset persists asset, which was previously stored under oldID.
//
// Non-chat assets get their trailing version component bumped unless only the
// name changed, in which case version and file mtime are kept. Chats with a
// non-empty scope only overwrite that key of the stored record.
func (s *FileStorage) UpdateAsset(oldID string, asset *models.Asset, scope string) error {
	paths, err := s.checkConfigured()
	if err != nil {
		return err
	}
	if err := validateID(asset); err != nil {
		return err
	}
	if oldID == "" {
		oldID = asset.ID
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	t := asset.Type
	projectDir := paths.Dir(models.LocationProject, t)
	oldPath := paths.DocumentPath(models.LocationProject, t, oldID)
	newPath := paths.DocumentPath(models.LocationProject, t, asset.ID)
	renamed := oldID != asset.ID

	if renamed {
		conflicts := []string{DocumentExt(t)}
		if hasImages(t) {
			conflicts = append(conflicts, imageExtensions...)
		}
		for _, ext := range conflicts {
			from := filepath.Join(projectDir, oldID+ext)
			to := filepath.Join(projectDir, asset.ID+ext)
			if fileExists(from) && fileExists(to) {
				return fmt.Errorf("%w: %s and %s", ErrRenameConflict, filepath.Base(from), filepath.Base(to))
			}
		}
	}

	stored := asset
	if t == models.AssetChat {
		stored, err = s.writeChat(oldPath, newPath, asset, scope)
		if err != nil {
			return err
		}
	} else if err := s.writeRecord(paths, oldID, oldPath, newPath, asset); err != nil {
		return err
	}

	if renamed && fileExists(oldPath) {
		if err := os.Remove(oldPath); err != nil {
			return fmt.Errorf("remove %s: %w", filepath.Base(oldPath), err)
		}
	}
	if hasImages(t) {
		s.carryImages(paths, t, oldID, asset.ID)
	}

	if info, err := os.Stat(newPath); err == nil {
		stored.LastModified = info.ModTime()
		asset.LastModified = stored.LastModified
	}
	asset.DefinedIn = models.LocationProject
	stored.DefinedIn = models.LocationProject

	s.putProjectVariant(oldID, stored)
	return nil
}

func (s *FileStorage) writeRecord(paths Paths, oldID, oldPath, newPath string, asset *models.Asset) error {
	next := recordFromAsset(asset)

	var (
		prev     tomlRecord
		havePrev bool
		mtime    time.Time
	)
	if info, err := os.Stat(oldPath); err == nil {
		mtime = info.ModTime()
	}
	for _, path := range []string{oldPath, paths.DocumentPath(models.LocationCore, asset.Type, oldID)} {
		rec, err := readTOML(path)
		if err == nil {
			prev, havePrev = rec, true
			break
		}
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("read previous %s: %w", filepath.Base(path), err)
		}
	}

	keepMtime := false
	switch {
	case !havePrev:
		if next.Version == "" {
			next.Version = models.DefaultVersion
		}
	case onlyNameChanged(prev, next):
		next.Version = prev.Version
		keepMtime = !mtime.IsZero()
	default:
		base := prev.Version
		if base == "" {
			base = models.DefaultVersion
		}
		next.Version = bumpVersion(base)
	}
	asset.Version = next.Version

	data, err := encodeTOML(next)
	if err != nil {
		return err
	}
	if err := WriteFileAtomic(newPath, data); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(newPath), err)
	}
	if keepMtime {
		if err := os.Chtimes(newPath, mtime, mtime); err != nil {
			return fmt.Errorf("restore mtime: %w", err)
		}
	}
	return nil
}

// writeChat stores a chat, merging only scope into the previous record when a
// scope is given. It returns the instance that should live in memory: asset
// itself for full writes, or the merged record for scoped writes of a
// detached instance.
func (s *FileStorage) writeChat(oldPath, newPath string, asset *models.Asset, scope string) (*models.Asset, error) {
	rec, err := chatRecord(asset)
	if err != nil {
		return nil, err
	}
	merged := false
	if scope != "" {
		if _, ok := rec[scope]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrInvalidScope, scope)
		}
		prev, err := readChatRecord(oldPath)
		switch {
		case err == nil:
			if rec, err = mergeChatScope(prev, rec, scope); err != nil {
				return nil, err
			}
			merged = true
		case !errors.Is(err, os.ErrNotExist):
			return nil, fmt.Errorf("read previous chat: %w", err)
		}
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode chat: %w", err)
	}
	if err := WriteFileAtomic(newPath, data); err != nil {
		return nil, fmt.Errorf("write %s: %w", filepath.Base(newPath), err)
	}

	if !merged || s.isLive(asset) {
		return asset, nil
	}
	stored, err := decodeChat(data, asset.ID)
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// isLive reports whether asset is the instance currently held in memory.
func (s *FileStorage) isLive(asset *models.Asset) bool {
	for _, v := range s.Variants(asset.ID) {
		if v == asset {
			return true
		}
	}
	return false
}

// carryImages moves avatar files along with a renamed asset, and copies core
// avatars into the project the first time an override is written.
func (s *FileStorage) carryImages(paths Paths, t models.AssetType, oldID, newID string) {
	projectDir := paths.Dir(models.LocationProject, t)
	coreDir := paths.Dir(models.LocationCore, t)
	for _, ext := range imageExtensions {
		from := filepath.Join(projectDir, oldID+ext)
		to := filepath.Join(projectDir, newID+ext)
		if oldID != newID && fileExists(from) {
			if err := os.Rename(from, to); err != nil {
				log.Printf("⚠️ [ASSETS] Failed to move image %s: %v", filepath.Base(from), err)
			}
			continue
		}
		core := filepath.Join(coreDir, oldID+ext)
		if paths.CoreDir != "" && !fileExists(to) && fileExists(core) {
			if err := copyFile(core, to); err != nil {
				log.Printf("⚠️ [ASSETS] Failed to copy image %s: %v", filepath.Base(core), err)
			}
		}
	}
}

// putProjectVariant replaces the project variant of oldID (if any) with asset.
func (s *FileStorage) putProjectVariant(oldID string, asset *models.Asset) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if oldID != "" {
		s.touch(oldID)
		s.assets[oldID] = withoutProject(s.assets[oldID])
		if len(s.assets[oldID]) == 0 {
			delete(s.assets, oldID)
		}
	}
	rest := withoutProject(s.assets[asset.ID])
	s.assets[asset.ID] = append([]*models.Asset{asset}, rest...)
	s.touch(asset.ID)
}

// touch records an in-memory write of id. Callers hold s.mu.
func (s *FileStorage) touch(id string) {
	s.writeGen++
	s.written[id] = s.writeGen
}

func withoutProject(variants []*models.Asset) []*models.Asset {
	out := make([]*models.Asset, 0, len(variants))
	for _, v := range variants {
		if v.DefinedIn != models.LocationProject {
			out = append(out, v)
		}
	}
	return out
}

// DeleteAsset moves every project file of the asset to the trash and drops it
// from memory. An untracked id is reported on the bus instead of failing.
func (s *FileStorage) DeleteAsset(id string) error {
	paths, err := s.checkConfigured()
	if err != nil {
		return err
	}

	variants := s.Variants(id)
	if len(variants) == 0 {
		log.Printf("⚠️ [ASSETS] Asset %s does not exist", id)
		s.emit(events.AssetNotFound{AssetID: id})
		return nil
	}
	t := variants[0].Type

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	for _, ext := range ownedExtensions(t) {
		path := filepath.Join(paths.Dir(models.LocationProject, t), id+ext)
		if !fileExists(path) {
			continue
		}
		if _, err := moveToTrash(path, paths.TrashDir(t)); err != nil {
			return fmt.Errorf("trash %s: %w", filepath.Base(path), err)
		}
	}

	s.mu.Lock()
	delete(s.assets, id)
	s.touch(id)
	s.mu.Unlock()

	log.Printf("🗑️ [ASSETS] Deleted %s %s", t, id)
	return nil
}

// WriteAvatar stores image data as <id>.jpg next to the asset document.
func (s *FileStorage) WriteAvatar(t models.AssetType, id string, data []byte) error {
	paths, err := s.checkConfigured()
	if err != nil {
		return err
	}
	if !hasImages(t) {
		return fmt.Errorf("%w: %s assets have no avatar", ErrUnknownAssetType, t)
	}
	if err := validateID(&models.Asset{BaseObject: models.BaseObject{ID: id}, Type: t}); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return WriteFileAtomic(filepath.Join(paths.Dir(models.LocationProject, t), id+".jpg"), data)
}

func (s *FileStorage) emit(e events.Event) {
	if s.opts.Bus != nil {
		s.opts.Bus.Emit(e)
	}
}
