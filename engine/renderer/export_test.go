package renderer

import "github.com/spaghettifunk/penumbra/engine/renderer/passes"

func (r *Renderer) LightingPass() *passes.LightingPass { return r.lighting }

func (r *Renderer) BlitPass() *passes.BlitPass { return r.blit }
