// Copyright 2026 Nine Minds LLC
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package capture

import (
	"fmt"
	"os"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// linuxBackend captures the kernel framebuffer and injects input
// through a uinput virtual device. It serves headless and console
// deployments; desktop sessions under a compositor need the
// compositor's capture portal, which lives outside this module.
type linuxBackend struct {
	fb     *os.File
	fbData []byte
	width  int
	height int
	stride int
	bpp    int
	uinput *os.File
}

// NewBackend returns the platform capture backend.
func NewBackend() Backend {
	return &linuxBackend{}
}

func (b *linuxBackend) Open(display string) error {
	device := display
	if device == "" {
		device = "/dev/fb0"
	}
	fb, err := os.OpenFile(device, os.O_RDONLY, 0)
	if err != nil {
		return fmt.Errorf("%w: opening %s: %v", ErrCaptureUnavailable, device, err)
	}

	var info fbVarScreenInfo
	if err := ioctlFbInfo(int(fb.Fd()), &info); err != nil {
		fb.Close()
		return fmt.Errorf("%w: reading framebuffer geometry: %v", ErrCaptureUnavailable, err)
	}
	if info.BitsPerPixel != 32 {
		fb.Close()
		return fmt.Errorf("%w: framebuffer is %d bpp, need 32", ErrCaptureUnavailable, info.BitsPerPixel)
	}

	b.width = int(info.XRes)
	b.height = int(info.YRes)
	b.bpp = int(info.BitsPerPixel) / 8
	b.stride = int(info.XResVirtual) * b.bpp

	size := b.stride * b.height
	data, err := unix.Mmap(int(fb.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		fb.Close()
		return fmt.Errorf("%w: mapping framebuffer: %v", ErrCaptureUnavailable, err)
	}
	b.fb = fb
	b.fbData = data

	if err := b.openUinput(); err != nil {
		// Injection is optional at open time: view-only grants never
		// exercise it. Inject calls will fail instead.
		b.uinput = nil
	}
	return nil
}

func (b *linuxBackend) CaptureFrame() (*Frame, error) {
	if b.fbData == nil {
		return nil, ErrCaptureUnavailable
	}
	data := make([]byte, len(b.fbData))
	copy(data, b.fbData)
	return &Frame{
		Width:  b.width,
		Height: b.height,
		Stride: b.stride,
		Data:   data,
		At:     time.Now(),
	}, nil
}

// DesktopState always reports normal: the framebuffer has no secure
// desktop concept. Secure-context handoff is a Windows concern.
func (b *linuxBackend) DesktopState() (DesktopState, error) {
	return DesktopNormal, nil
}

// InjectPointer emits absolute axis events. The uinput device
// advertises an axis range of 0..PointerCoordMax, matching the
// pipeline's normalized coordinate space, so the values pass through
// unscaled and the kernel maps them to the display.
func (b *linuxBackend) InjectPointer(x, y int) error {
	if b.uinput == nil {
		return fmt.Errorf("capture: uinput unavailable")
	}
	if err := b.emit(unix.EV_ABS, absX, int32(x)); err != nil {
		return err
	}
	if err := b.emit(unix.EV_ABS, absY, int32(y)); err != nil {
		return err
	}
	return b.emit(unix.EV_SYN, 0, 0)
}

func (b *linuxBackend) InjectButton(button PointerButton, pressed bool) error {
	if b.uinput == nil {
		return fmt.Errorf("capture: uinput unavailable")
	}
	code := btnLeft
	switch button {
	case ButtonRight:
		code = btnRight
	case ButtonMiddle:
		code = btnMiddle
	}
	value := int32(0)
	if pressed {
		value = 1
	}
	if err := b.emit(unix.EV_KEY, code, value); err != nil {
		return err
	}
	return b.emit(unix.EV_SYN, 0, 0)
}

func (b *linuxBackend) InjectKey(code uint32, pressed bool) error {
	if b.uinput == nil {
		return fmt.Errorf("capture: uinput unavailable")
	}
	value := int32(0)
	if pressed {
		value = 1
	}
	if err := b.emit(unix.EV_KEY, uint16(code), value); err != nil {
		return err
	}
	return b.emit(unix.EV_SYN, 0, 0)
}

func (b *linuxBackend) Close() error {
	if b.fbData != nil {
		unix.Munmap(b.fbData)
		b.fbData = nil
	}
	if b.uinput != nil {
		ioctlNone(int(b.uinput.Fd()), uiDevDestroy)
		b.uinput.Close()
		b.uinput = nil
	}
	if b.fb != nil {
		return b.fb.Close()
	}
	return nil
}

// Input event codes (linux/input-event-codes.h).
const (
	absX      uint16 = 0x00
	absY      uint16 = 0x01
	btnLeft   uint16 = 0x110
	btnRight  uint16 = 0x111
	btnMiddle uint16 = 0x112
	keyMax    uint16 = 0x2ff
)

// uinput ioctls (linux/uinput.h).
const (
	uiSetEvbit   = 0x40045564
	uiSetKeybit  = 0x40045565
	uiSetAbsbit  = 0x40045567
	uiDevCreate  = 0x5501
	uiDevDestroy = 0x5502
	uiAbsSetup   = 0x401c5504 // _IOW('U', 4, struct uinput_abs_setup)
)

// uinputSetup mirrors struct uinput_setup.
type uinputSetup struct {
	ID   inputID
	Name [80]byte
	FF   uint32
}

type inputID struct {
	Bustype uint16
	Vendor  uint16
	Product uint16
	Version uint16
}

// uinputAbsSetup mirrors struct uinput_abs_setup.
type uinputAbsSetup struct {
	Code uint16
	_    uint16
	Abs  inputAbsInfo
}

// inputAbsInfo mirrors struct input_absinfo.
type inputAbsInfo struct {
	Value      int32
	Minimum    int32
	Maximum    int32
	Fuzz       int32
	Flat       int32
	Resolution int32
}

// inputEvent mirrors struct input_event on 64-bit platforms.
type inputEvent struct {
	Sec   int64
	Usec  int64
	Type  uint16
	Code  uint16
	Value int32
}

func (b *linuxBackend) openUinput() error {
	f, err := os.OpenFile("/dev/uinput", os.O_WRONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		return err
	}
	fd := int(f.Fd())

	for _, bit := range []uintptr{unix.EV_KEY, unix.EV_ABS, unix.EV_SYN} {
		if err := ioctlInt(fd, uiSetEvbit, bit); err != nil {
			f.Close()
			return err
		}
	}
	for code := uint16(0); code <= keyMax; code++ {
		ioctlInt(fd, uiSetKeybit, uintptr(code))
	}
	// Each axis needs an explicit range; without one the device
	// advertises 0..0 and the kernel collapses every position to the
	// origin.
	for _, axis := range []uint16{absX, absY} {
		if err := ioctlInt(fd, uiSetAbsbit, uintptr(axis)); err != nil {
			f.Close()
			return err
		}
		if err := ioctlAbsSetup(fd, axis, PointerCoordMax); err != nil {
			f.Close()
			return err
		}
	}

	setup := uinputSetup{
		ID: inputID{Bustype: 0x06, Vendor: 0x1, Product: 0x1, Version: 1},
	}
	copy(setup.Name[:], "alga-remote-input")
	if err := ioctlSetup(fd, &setup); err != nil {
		f.Close()
		return err
	}
	if err := ioctlNone(fd, uiDevCreate); err != nil {
		f.Close()
		return err
	}
	b.uinput = f
	return nil
}

func (b *linuxBackend) emit(eventType, code uint16, value int32) error {
	event := inputEvent{Type: eventType, Code: code, Value: value}
	buffer := (*[unsafe.Sizeof(event)]byte)(unsafe.Pointer(&event))[:]
	_, err := b.uinput.Write(buffer)
	return err
}

// fbVarScreenInfo mirrors the leading fields of struct
// fb_var_screeninfo (linux/fb.h); the trailing timing fields are
// padding here.
type fbVarScreenInfo struct {
	XRes         uint32
	YRes         uint32
	XResVirtual  uint32
	YResVirtual  uint32
	XOffset      uint32
	YOffset      uint32
	BitsPerPixel uint32
	Grayscale    uint32
	_            [4 * 3 * 4]byte // red, green, blue, transp bitfields
	_            [10 * 4]byte
	_            [24 * 4]byte
}

const fbioGetVScreenInfo = 0x4600

func ioctlFbInfo(fd int, info *fbVarScreenInfo) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), fbioGetVScreenInfo, uintptr(unsafe.Pointer(info)))
	if errno != 0 {
		return errno
	}
	return nil
}

func ioctlInt(fd int, request uint, value uintptr) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(request), value)
	if errno != 0 {
		return errno
	}
	return nil
}

func ioctlNone(fd int, request uint) error {
	return ioctlInt(fd, request, 0)
}

func ioctlAbsSetup(fd int, axis uint16, max int32) error {
	setup := uinputAbsSetup{
		Code: axis,
		Abs:  inputAbsInfo{Maximum: max},
	}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uiAbsSetup, uintptr(unsafe.Pointer(&setup)))
	if errno != 0 {
		return errno
	}
	return nil
}

func ioctlSetup(fd int, setup *uinputSetup) error {
	// UI_DEV_SETUP = _IOW('U', 3, struct uinput_setup)
	const uiDevSetup = 0x405c5503
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uiDevSetup, uintptr(unsafe.Pointer(setup)))
	if errno != 0 {
		return errno
	}
	return nil
}
