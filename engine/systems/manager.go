package systems

import (
	"errors"
	"runtime"

	"github.com/spaghettifunk/penumbra/engine/assets"
)

type SystemManagerConfig struct {
	AssetsDir string
	// ShaderDir is relative to AssetsDir unless absolute.
	ShaderDir string
	// Workers defaults to the number of CPUs minus one, at least one.
	Workers   int
	QueueSize int
	FlipY     bool
	// Watch enables asset change events.
	Watch bool
}

type SystemManager struct {
	Jobs     *JobSystem
	Assets   *assets.AssetManager
	Shaders  *ShaderSystem
	Textures *TextureSystem
}

func NewSystemManager(config SystemManagerConfig) (*SystemManager, error) {
	workers := config.Workers
	if workers <= 0 {
		workers = max(runtime.NumCPU()-1, 1)
	}
	queue := config.QueueSize
	if queue <= 0 {
		queue = 64
	}

	am, err := assets.NewAssetManager(config.AssetsDir)
	if err != nil {
		return nil, err
	}
	if config.Watch {
		if err := am.Watch(); err != nil {
			am.Shutdown()
			return nil, err
		}
	}
	js, err := NewJobSystem(workers, queue)
	if err != nil {
		am.Shutdown()
		return nil, err
	}
	ss, err := NewShaderSystem(am, config.ShaderDir)
	if err != nil {
		js.Shutdown()
		am.Shutdown()
		return nil, err
	}
	ts, err := NewTextureSystem(js, am, config.FlipY)
	if err != nil {
		js.Shutdown()
		am.Shutdown()
		return nil, err
	}
	return &SystemManager{
		Jobs:     js,
		Assets:   am,
		Shaders:  ss,
		Textures: ts,
	}, nil
}

// Shutdown drains the job system before closing the asset manager, since
// queued decode jobs still read through it.
func (sm *SystemManager) Shutdown() error {
	var errs []error
	if sm.Jobs != nil {
		errs = append(errs, sm.Jobs.Shutdown())
	}
	if sm.Assets != nil {
		errs = append(errs, sm.Assets.Shutdown())
	}
	return errors.Join(errs...)
}
