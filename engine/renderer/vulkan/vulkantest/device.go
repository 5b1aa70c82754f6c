package vulkantest

import (
	"testing"
	"time"

	"github.com/spaghettifunk/penumbra/engine/renderer/vulkan"
	"github.com/stretchr/testify/require"
)

// NewDevice creates a vulkan.Device over a fresh fake driver.
func NewDevice(t testing.TB) (*vulkan.Device, *Driver) {
	t.Helper()
	driver := New()
	device, err := vulkan.NewDevice(driver, time.Second)
	require.NoError(t, err)
	return device, driver
}
