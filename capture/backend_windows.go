// Copyright 2026 Nine Minds LLC
// SPDX-License-Identifier: Apache-2.0

//go:build windows

package capture

import (
	"fmt"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	user32 = windows.NewLazySystemDLL("user32.dll")
	gdi32  = windows.NewLazySystemDLL("gdi32.dll")

	procGetSystemMetrics         = user32.NewProc("GetSystemMetrics")
	procGetDC                    = user32.NewProc("GetDC")
	procReleaseDC                = user32.NewProc("ReleaseDC")
	procSendInput                = user32.NewProc("SendInput")
	procOpenInputDesktop         = user32.NewProc("OpenInputDesktop")
	procCloseDesktop             = user32.NewProc("CloseDesktop")
	procGetUserObjectInformation = user32.NewProc("GetUserObjectInformationW")

	procCreateCompatibleDC     = gdi32.NewProc("CreateCompatibleDC")
	procCreateCompatibleBitmap = gdi32.NewProc("CreateCompatibleBitmap")
	procSelectObject           = gdi32.NewProc("SelectObject")
	procBitBlt                 = gdi32.NewProc("BitBlt")
	procGetDIBits              = gdi32.NewProc("GetDIBits")
	procDeleteObject           = gdi32.NewProc("DeleteObject")
	procDeleteDC               = gdi32.NewProc("DeleteDC")
)

const (
	smCxScreen = 0
	smCyScreen = 1

	srccopy       = 0x00CC0020
	captureBlt    = 0x40000000
	dibRGBColors  = 0
	biRGB         = 0

	inputMouse    = 0
	inputKeyboard = 1

	mouseEventMove       = 0x0001
	mouseEventLeftDown   = 0x0002
	mouseEventLeftUp     = 0x0004
	mouseEventRightDown  = 0x0008
	mouseEventRightUp    = 0x0010
	mouseEventMiddleDown = 0x0020
	mouseEventMiddleUp   = 0x0040
	mouseEventAbsolute   = 0x8000

	keyEventScancode = 0x0008
	keyEventKeyUp    = 0x0002

	desktopReadObjects = 0x0001
	uoiName            = 2
)

type bitmapInfoHeader struct {
	Size          uint32
	Width         int32
	Height        int32
	Planes        uint16
	BitCount      uint16
	Compression   uint32
	SizeImage     uint32
	XPelsPerMeter int32
	YPelsPerMeter int32
	ClrUsed       uint32
	ClrImportant  uint32
}

type mouseInput struct {
	Type uint32
	_    uint32
	Dx   int32
	Dy   int32
	Data uint32
	Flag uint32
	Time uint32
	Info uintptr
	_    [8]byte
}

type keyboardInput struct {
	Type uint32
	_    uint32
	VK   uint16
	Scan uint16
	Flag uint32
	Time uint32
	Info uintptr
	_    [16]byte
}

// windowsBackend captures the screen with GDI BitBlt and injects input
// with SendInput. GDI is the lowest-common-denominator path: slower
// than desktop duplication but present on every SKU including server
// core and safe across RDP sessions.
type windowsBackend struct {
	width  int
	height int
}

// NewBackend returns the platform capture backend.
func NewBackend() Backend {
	return &windowsBackend{}
}

func (b *windowsBackend) Open(display string) error {
	width, _, _ := procGetSystemMetrics.Call(smCxScreen)
	height, _, _ := procGetSystemMetrics.Call(smCyScreen)
	if width == 0 || height == 0 {
		return fmt.Errorf("%w: no display metrics", ErrCaptureUnavailable)
	}
	b.width = int(width)
	b.height = int(height)
	return nil
}

func (b *windowsBackend) CaptureFrame() (*Frame, error) {
	screenDC, _, _ := procGetDC.Call(0)
	if screenDC == 0 {
		return nil, fmt.Errorf("%w: GetDC failed", ErrCaptureUnavailable)
	}
	defer procReleaseDC.Call(0, screenDC)

	memDC, _, _ := procCreateCompatibleDC.Call(screenDC)
	if memDC == 0 {
		return nil, fmt.Errorf("capture: CreateCompatibleDC failed")
	}
	defer procDeleteDC.Call(memDC)

	bitmap, _, _ := procCreateCompatibleBitmap.Call(screenDC, uintptr(b.width), uintptr(b.height))
	if bitmap == 0 {
		return nil, fmt.Errorf("capture: CreateCompatibleBitmap failed")
	}
	defer procDeleteObject.Call(bitmap)

	previous, _, _ := procSelectObject.Call(memDC, bitmap)
	defer procSelectObject.Call(memDC, previous)

	ok, _, _ := procBitBlt.Call(memDC, 0, 0, uintptr(b.width), uintptr(b.height),
		screenDC, 0, 0, srccopy|captureBlt)
	if ok == 0 {
		return nil, fmt.Errorf("capture: BitBlt failed")
	}

	header := bitmapInfoHeader{
		Size:     uint32(unsafe.Sizeof(bitmapInfoHeader{})),
		Width:    int32(b.width),
		Height:   -int32(b.height), // negative height: top-down rows
		Planes:   1,
		BitCount: 32,
	}
	data := make([]byte, b.width*b.height*4)
	lines, _, _ := procGetDIBits.Call(memDC, bitmap, 0, uintptr(b.height),
		uintptr(unsafe.Pointer(&data[0])), uintptr(unsafe.Pointer(&header)), dibRGBColors)
	if lines == 0 {
		return nil, fmt.Errorf("capture: GetDIBits failed")
	}

	return &Frame{
		Width:  b.width,
		Height: b.height,
		Stride: b.width * 4,
		Data:   data,
		At:     time.Now(),
	}, nil
}

// DesktopState opens the current input desktop and compares its name
// to "Default". The secure desktop (UAC, Winlogon) is a different
// desktop object that an unprivileged process cannot capture.
func (b *windowsBackend) DesktopState() (DesktopState, error) {
	desktop, _, _ := procOpenInputDesktop.Call(0, 0, desktopReadObjects)
	if desktop == 0 {
		// Access denied means a secure desktop holds input.
		return DesktopSecure, nil
	}
	defer procCloseDesktop.Call(desktop)

	var name [64]uint16
	var needed uint32
	ok, _, _ := procGetUserObjectInformation.Call(desktop, uoiName,
		uintptr(unsafe.Pointer(&name[0])), uintptr(len(name)*2),
		uintptr(unsafe.Pointer(&needed)))
	if ok == 0 {
		return DesktopNormal, nil
	}
	if windows.UTF16ToString(name[:]) != "Default" {
		return DesktopSecure, nil
	}
	return DesktopNormal, nil
}

// InjectPointer moves via MOUSEEVENTF_ABSOLUTE, whose coordinate space
// is the same 0..65535 normalization the pipeline uses, so the values
// pass through unscaled.
func (b *windowsBackend) InjectPointer(x, y int) error {
	input := mouseInput{
		Type: inputMouse,
		Dx:   int32(x),
		Dy:   int32(y),
		Flag: mouseEventMove | mouseEventAbsolute,
	}
	return sendInput(unsafe.Pointer(&input), unsafe.Sizeof(input))
}

func (b *windowsBackend) InjectButton(button PointerButton, pressed bool) error {
	var flag uint32
	switch button {
	case ButtonLeft:
		flag = mouseEventLeftDown
		if !pressed {
			flag = mouseEventLeftUp
		}
	case ButtonRight:
		flag = mouseEventRightDown
		if !pressed {
			flag = mouseEventRightUp
		}
	case ButtonMiddle:
		flag = mouseEventMiddleDown
		if !pressed {
			flag = mouseEventMiddleUp
		}
	}
	input := mouseInput{Type: inputMouse, Flag: flag}
	return sendInput(unsafe.Pointer(&input), unsafe.Sizeof(input))
}

func (b *windowsBackend) InjectKey(code uint32, pressed bool) error {
	flag := uint32(keyEventScancode)
	if !pressed {
		flag |= keyEventKeyUp
	}
	input := keyboardInput{Type: inputKeyboard, Scan: uint16(code), Flag: flag}
	return sendInput(unsafe.Pointer(&input), unsafe.Sizeof(input))
}

func (b *windowsBackend) Close() error { return nil }

func sendInput(input unsafe.Pointer, size uintptr) error {
	sent, _, err := procSendInput.Call(1, uintptr(input), size)
	if sent != 1 {
		return fmt.Errorf("capture: SendInput: %v", err)
	}
	return nil
}
