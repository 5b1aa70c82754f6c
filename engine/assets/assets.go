package assets

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/h2non/filetype"
	"github.com/spaghettifunk/penumbra/engine/assets/loaders"
	"github.com/spaghettifunk/penumbra/engine/core"
	"github.com/spaghettifunk/penumbra/engine/resources"
	"golang.org/x/exp/slices"
)

var ErrAssetManagerClosed = errors.New("asset manager already closed")

// eventBufferSize bounds the watcher events not yet drained by the
// application. Further events are dropped with a warning.
const eventBufferSize = 64

type AssetInfo struct {
	Path    string
	Type    resources.ResourceType
	ModTime time.Time
}

type AssetOp int

const (
	AssetCreated AssetOp = iota
	AssetModified
	AssetRemoved
)

func (op AssetOp) String() string {
	switch op {
	case AssetCreated:
		return "created"
	case AssetModified:
		return "modified"
	case AssetRemoved:
		return "removed"
	}
	return "unknown"
}

// AssetEvent reports a change below the watched directory.
type AssetEvent struct {
	Path string
	Type resources.ResourceType
	Op   AssetOp
}

/**
 * @brief Indexes every asset below a root directory by type, loads them
 * through the registered loaders and reports file changes on Events once
 * Watch has been called. Safe for concurrent use.
 */
type AssetManager struct {
	root    string
	assets  map[string]AssetInfo
	loaders map[resources.ResourceType]Loader

	mutex sync.RWMutex

	watcher  *fsnotify.Watcher
	events   chan AssetEvent
	done     chan struct{}
	wg       sync.WaitGroup
	isClosed bool
}

// NewAssetManager indexes root recursively and registers the built-in
// loaders. A missing root is an error.
func NewAssetManager(root string) (*AssetManager, error) {
	root = filepath.Clean(root)
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("asset root %s is not a directory", root)
	}

	am := &AssetManager{
		root:    root,
		assets:  make(map[string]AssetInfo),
		loaders: make(map[resources.ResourceType]Loader),
		events:  make(chan AssetEvent, eventBufferSize),
		done:    make(chan struct{}),
	}
	am.RegisterLoader(resources.ResourceTypeImage, &loaders.ImageLoader{})
	am.RegisterLoader(resources.ResourceTypeShader, &loaders.ShaderLoader{})
	am.RegisterLoader(resources.ResourceTypeModel, &loaders.ModelLoader{})
	am.RegisterLoader(resources.ResourceTypeMaterial, &loaders.MaterialLoader{})
	am.RegisterLoader(resources.ResourceTypeBitmapFont, &loaders.BitmapFontLoader{})
	am.RegisterLoader(resources.ResourceTypeText, &loaders.BinaryLoader{Type: resources.ResourceTypeText})
	am.RegisterLoader(resources.ResourceTypeBinary, &loaders.BinaryLoader{Type: resources.ResourceTypeBinary})

	if err := am.walk(root, nil); err != nil {
		return nil, err
	}
	core.LogInfo("Asset manager indexed %d assets under '%s'.", len(am.assets), root)
	return am, nil
}

func (am *AssetManager) Root() string { return am.root }

// RegisterLoader sets the loader of a resource type, replacing any previous
// one.
func (am *AssetManager) RegisterLoader(assetType resources.ResourceType, loader Loader) {
	am.mutex.Lock()
	defer am.mutex.Unlock()
	am.loaders[assetType] = loader
}

// Watch starts reporting file changes on Events.
func (am *AssetManager) Watch() error {
	am.mutex.Lock()
	defer am.mutex.Unlock()
	if am.isClosed {
		return ErrAssetManagerClosed
	}
	if am.watcher != nil {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	am.watcher = watcher
	err = filepath.Walk(am.root, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
	if err != nil {
		watcher.Close()
		am.watcher = nil
		return err
	}
	am.wg.Add(1)
	go am.start()
	core.LogDebug("Watching '%s' for asset changes.", am.root)
	return nil
}

// Events delivers asset changes. Closed by Shutdown.
func (am *AssetManager) Events() <-chan AssetEvent {
	return am.events
}

// Lookup returns the index entry of path.
func (am *AssetManager) Lookup(path string) (AssetInfo, bool) {
	am.mutex.RLock()
	defer am.mutex.RUnlock()
	info, ok := am.assets[am.key(path)]
	return info, ok
}

// Assets lists the indexed assets of one type, sorted by path.
func (am *AssetManager) Assets(assetType resources.ResourceType) []AssetInfo {
	am.mutex.RLock()
	defer am.mutex.RUnlock()
	var out []AssetInfo
	for _, info := range am.assets {
		if info.Type == assetType {
			out = append(out, info)
		}
	}
	slices.SortFunc(out, func(a, b AssetInfo) int { return strings.Compare(a.Path, b.Path) })
	return out
}

// Load reads path with the loader of its indexed type. Paths may be given
// relative to the root.
func (am *AssetManager) Load(path string, params interface{}) (*resources.Resource, error) {
	key := am.key(path)
	am.mutex.RLock()
	asset, exists := am.assets[key]
	var loader Loader
	if exists {
		loader = am.loaders[asset.Type]
	}
	am.mutex.RUnlock()

	if !exists {
		return nil, fmt.Errorf("asset not found: %s", path)
	}
	if loader == nil {
		return nil, fmt.Errorf("no loader registered for asset type: %s", asset.Type)
	}
	res, err := loader.Load(asset.Path, params)
	if err != nil {
		core.LogError("failed to load %s asset '%s': %s", asset.Type, asset.Path, err)
		return nil, err
	}
	return res, nil
}

func (am *AssetManager) Unload(res *resources.Resource) error {
	if res == nil {
		return nil
	}
	am.mutex.RLock()
	loader := am.loaders[res.Type]
	am.mutex.RUnlock()
	if loader == nil {
		return fmt.Errorf("no loader registered for asset type: %s", res.Type)
	}
	return loader.Unload(res)
}

// Shutdown stops the watcher and closes Events.
func (am *AssetManager) Shutdown() error {
	am.mutex.Lock()
	if am.isClosed {
		am.mutex.Unlock()
		return nil
	}
	am.isClosed = true
	watching := am.watcher != nil
	am.mutex.Unlock()

	close(am.done)
	am.wg.Wait()
	if !watching {
		close(am.events)
	}
	return nil
}

// key maps a path given by a caller to its index key.
func (am *AssetManager) key(path string) string {
	path = filepath.Clean(path)
	if filepath.IsAbs(path) || strings.HasPrefix(path, am.root+string(filepath.Separator)) || path == am.root {
		return path
	}
	return filepath.Join(am.root, path)
}

func (am *AssetManager) start() {
	defer am.wg.Done()
	defer close(am.events)
	defer am.watcher.Close()
	for {
		select {
		case e, ok := <-am.watcher.Events:
			if !ok {
				return
			}
			am.handleEvent(e)

		case err, ok := <-am.watcher.Errors:
			if !ok {
				return
			}
			core.LogError("asset watcher: %s", err)

		case <-am.done:
			return
		}
	}
}

func (am *AssetManager) handleEvent(e fsnotify.Event) {
	path := filepath.Clean(e.Name)
	switch {
	case e.Has(fsnotify.Create):
		if fi, err := os.Stat(path); err == nil && fi.IsDir() {
			// Files may land in the directory before the watch is added,
			// so the walk indexes them too.
			if err := am.walk(path, am.watcher); err != nil {
				core.LogWarn("asset watcher: %s not fully indexed: %s", path, err)
			}
			return
		}
		if info, ok := am.index(path); ok {
			am.emit(AssetEvent{Path: path, Type: info.Type, Op: AssetCreated})
		}
	case e.Has(fsnotify.Write):
		if info, ok := am.index(path); ok {
			am.emit(AssetEvent{Path: path, Type: info.Type, Op: AssetModified})
		}
	case e.Has(fsnotify.Remove), e.Has(fsnotify.Rename):
		// A removed directory cannot be stat'ed; fsnotify drops its watch
		// on its own.
		if info, ok := am.removeAsset(path); ok {
			am.emit(AssetEvent{Path: path, Type: info.Type, Op: AssetRemoved})
		}
	}
}

func (am *AssetManager) emit(event AssetEvent) {
	select {
	case am.events <- event:
	default:
		core.LogWarn("asset event queue full, dropping %s event for '%s'", event.Op, event.Path)
	}
}

// walk indexes every file below dir and, with a watcher, adds every
// directory to it.
func (am *AssetManager) walk(dir string, watcher *fsnotify.Watcher) error {
	return filepath.Walk(dir, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			if watcher != nil {
				return watcher.Add(path)
			}
			return nil
		}
		if info, ok := am.index(path); ok && watcher != nil {
			am.emit(AssetEvent{Path: info.Path, Type: info.Type, Op: AssetCreated})
		}
		return nil
	})
}

// index records path if its type is known.
func (am *AssetManager) index(path string) (AssetInfo, bool) {
	assetType := DetermineAssetType(path)
	if assetType == resources.ResourceTypeUnknown {
		return AssetInfo{}, false
	}
	info := AssetInfo{Path: path, Type: assetType}
	if fi, err := os.Stat(path); err == nil {
		info.ModTime = fi.ModTime()
	}

	am.mutex.Lock()
	defer am.mutex.Unlock()
	am.assets[path] = info
	return info, true
}

func (am *AssetManager) removeAsset(path string) (AssetInfo, bool) {
	am.mutex.Lock()
	defer am.mutex.Unlock()
	info, ok := am.assets[path]
	delete(am.assets, path)
	return info, ok
}

// DetermineAssetType classifies path by extension, sniffing the content of
// files whose extension is not recognised.
func DetermineAssetType(path string) resources.ResourceType {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png", ".jpg", ".jpeg", ".bmp", ".tif", ".tiff", ".webp":
		return resources.ResourceTypeImage
	case ".spv":
		return resources.ResourceTypeShader
	case ".obj":
		return resources.ResourceTypeModel
	case ".mtl":
		return resources.ResourceTypeMaterial
	case ".fnt":
		return resources.ResourceTypeBitmapFont
	case ".txt", ".toml", ".glsl", ".vert", ".frag", ".comp":
		return resources.ResourceTypeText
	}

	kind, err := filetype.MatchFile(path)
	if err != nil || kind == filetype.Unknown {
		return resources.ResourceTypeUnknown
	}
	if kind.MIME.Type == "image" {
		return resources.ResourceTypeImage
	}
	return resources.ResourceTypeBinary
}
