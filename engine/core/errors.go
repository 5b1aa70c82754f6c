package core

import (
	"errors"
)

var (
	ErrSwapchainBooting = errors.New("swapchain resized or recreated, booting")
	ErrUnknown          = errors.New("unknown")

	// device and swapchain
	ErrNoSuitableDevice       = errors.New("no physical device meets the requirements")
	ErrSwapchainOutOfDate     = errors.New("swapchain is out of date")
	ErrSwapchainSuboptimal    = errors.New("swapchain is suboptimal")
	ErrFenceTimeout           = errors.New("timed out waiting for fence")
	ErrDeviceLost             = errors.New("device lost")
	ErrNoMemoryType           = errors.New("no suitable memory type")
	ErrAllocationsOutstanding = errors.New("allocator destroyed with live allocations")
	ErrBufferNotMapped        = errors.New("buffer is not mapped")

	// descriptors
	ErrOutOfPoolMemory         = errors.New("descriptor pool out of memory")
	ErrUndeclaredBinding       = errors.New("binding not declared in layout")
	ErrDescriptorCountMismatch = errors.New("descriptor count mismatch")

	// frame lifecycle
	ErrFrameInProgress     = errors.New("frame already in progress")
	ErrFrameNotInProgress  = errors.New("no frame in progress")
	ErrFrameSlotOutOfRange = errors.New("frame slot out of range")

	ErrLineCapacity = errors.New("line vertex capacity exceeded")
)
