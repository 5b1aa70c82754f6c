package systems

import (
	"fmt"
	"sync"

	"github.com/spaghettifunk/penumbra/engine/assets"
	"github.com/spaghettifunk/penumbra/engine/core"
	"github.com/spaghettifunk/penumbra/engine/resources"
	"github.com/spaghettifunk/penumbra/engine/scene"
)

// decodedTexture is the hand-off between a decode job and the render thread.
type decodedTexture struct {
	path string
	data *resources.ImageResourceData
}

/**
 * @brief Decodes textures on the job system and hands the pixels to the
 * render thread, which uploads them in Update. Vulkan objects are never
 * touched from a worker.
 */
type TextureSystem struct {
	jobSystem    *JobSystem
	assetManager *assets.AssetManager
	flipY        bool

	mu      sync.Mutex
	pending map[string]struct{}
	ready   []decodedTexture
	failed  map[string]error
	wg      sync.WaitGroup
}

func NewTextureSystem(js *JobSystem, am *assets.AssetManager, flipY bool) (*TextureSystem, error) {
	if js == nil || am == nil {
		return nil, fmt.Errorf("texture system requires a job system and an asset manager")
	}
	return &TextureSystem{
		jobSystem:    js,
		assetManager: am,
		flipY:        flipY,
		pending:      make(map[string]struct{}),
		failed:       make(map[string]error),
	}, nil
}

/**
 * @brief Queues every path for decoding. Empty paths and paths already
 * queued are skipped. Paths that fail to decode keep the slot default.
 * @param paths The texture paths, absolute or relative to the asset root.
 */
func (ts *TextureSystem) Request(paths ...string) error {
	for _, path := range paths {
		if path == "" {
			continue
		}
		ts.mu.Lock()
		if _, queued := ts.pending[path]; queued {
			ts.mu.Unlock()
			continue
		}
		ts.pending[path] = struct{}{}
		ts.mu.Unlock()

		ts.wg.Add(1)
		p := path
		err := ts.jobSystem.Submit(JobTask{
			Name: "decode " + p,
			Run: func() (interface{}, error) {
				res, err := ts.assetManager.Load(p, &resources.ImageResourceParams{FlipY: ts.flipY})
				if err != nil {
					return nil, err
				}
				return res.Data, nil
			},
			OnComplete: func(result interface{}) {
				defer ts.wg.Done()
				ts.mu.Lock()
				defer ts.mu.Unlock()
				ts.ready = append(ts.ready, decodedTexture{path: p, data: result.(*resources.ImageResourceData)})
			},
			OnFailure: func(err error) {
				defer ts.wg.Done()
				ts.mu.Lock()
				defer ts.mu.Unlock()
				delete(ts.pending, p)
				ts.failed[p] = err
			},
		})
		if err != nil {
			ts.wg.Done()
			ts.mu.Lock()
			delete(ts.pending, p)
			ts.mu.Unlock()
			return err
		}
	}
	return nil
}

// Wait blocks until every requested texture has been decoded or failed.
func (ts *TextureSystem) Wait() {
	ts.wg.Wait()
}

// Pending reports how many textures are queued or decoded but not yet
// uploaded.
func (ts *TextureSystem) Pending() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.pending)
}

// Err returns the decode error of path, or nil if it did not fail.
func (ts *TextureSystem) Err(path string) error {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.failed[path]
}

/**
 * @brief Uploads every decoded texture into the cache. Must be called on
 * the render thread, outside a frame.
 * @return The number of textures uploaded.
 */
func (ts *TextureSystem) Update(cache *scene.TextureCache) (int, error) {
	ts.mu.Lock()
	ready := ts.ready
	ts.ready = nil
	ts.mu.Unlock()

	uploaded := 0
	for i, t := range ready {
		_, err := cache.Upload(t.path, t.data)
		ts.mu.Lock()
		delete(ts.pending, t.path)
		ts.mu.Unlock()
		if err != nil {
			core.LogError("failed to upload texture '%s': %s", t.path, err)
			// Put back whatever was not attempted yet.
			ts.mu.Lock()
			ts.ready = append(ready[i+1:len(ready):len(ready)], ts.ready...)
			ts.mu.Unlock()
			return uploaded, err
		}
		uploaded++
	}
	return uploaded, nil
}
