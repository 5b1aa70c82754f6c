package assets

import "github.com/spaghettifunk/penumbra/engine/resources"

// Loader turns a file into a resource. params is loader specific and may be
// nil.
type Loader interface {
	Load(path string, params interface{}) (*resources.Resource, error)
	Unload(*resources.Resource) error
}
