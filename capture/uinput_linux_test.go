// Copyright 2026 Nine Minds LLC
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package capture

import (
	"testing"
	"unsafe"
)

// The uinput ioctls copy these structs byte for byte; a layout drift
// would silently corrupt the axis setup.
func TestUinputAbsSetupLayout(t *testing.T) {
	t.Parallel()
	if size := unsafe.Sizeof(uinputAbsSetup{}); size != 28 {
		t.Errorf("uinputAbsSetup size = %d, want 28", size)
	}
	if size := unsafe.Sizeof(inputAbsInfo{}); size != 24 {
		t.Errorf("inputAbsInfo size = %d, want 24", size)
	}

	// _IOW('U', 4, struct uinput_abs_setup): write direction, 28-byte
	// argument, type 'U', number 4.
	const want = 1<<30 | 28<<16 | 'U'<<8 | 4
	if uiAbsSetup != want {
		t.Errorf("uiAbsSetup = %#x, want %#x", uiAbsSetup, want)
	}
}
