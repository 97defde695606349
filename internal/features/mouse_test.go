package features

import (
	"errors"
	"io"
	"os"
	"syscall"
	"testing"

	evdev "github.com/gvalkov/golang-evdev"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/char5742/trackswipe/internal/consts"
	"github.com/char5742/trackswipe/internal/errs"
	"github.com/char5742/trackswipe/internal/gesture"
)

func raw(typ, code uint16, value int32) evdev.InputEvent {
	return evdev.InputEvent{Type: typ, Code: code, Value: value}
}

func noKeys() ([]uint16, error) { return nil, nil }

func TestConvertRelativeMotionAndButtons(t *testing.T) {
	conv := newEventConverter(noKeys)

	out := conv.convert([]evdev.InputEvent{
		raw(evdev.EV_KEY, consts.MouseBtnForward, 1),
		raw(evdev.EV_SYN, evdev.SYN_REPORT, 0),
		raw(evdev.EV_REL, evdev.REL_X, 50),
		raw(evdev.EV_REL, evdev.REL_Y, -3),
		raw(evdev.EV_REL, evdev.REL_WHEEL, 1),
		raw(evdev.EV_MSC, evdev.MSC_SCAN, 0x90004),
		raw(evdev.EV_SYN, evdev.SYN_REPORT, 0),
		raw(evdev.EV_KEY, consts.MouseBtnForward, 0),
	})

	assert.Equal(t, []gesture.PhysicalEvent{
		gesture.Button{Code: consts.MouseBtnForward, Pressed: true},
		gesture.Sync{},
		gesture.Motion{Axis: gesture.AxisX, Delta: 50},
		gesture.Motion{Axis: gesture.AxisY, Delta: -3},
		gesture.Sync{},
		gesture.Button{Code: consts.MouseBtnForward, Pressed: false},
	}, out)
}

func TestConvertIgnoresAutoRepeat(t *testing.T) {
	conv := newEventConverter(noKeys)

	out := conv.convert([]evdev.InputEvent{raw(evdev.EV_KEY, consts.MouseBtnLeft, 2)})
	assert.Empty(t, out)
}

func TestConvertResyncsAfterDrop(t *testing.T) {
	keys := []uint16{}
	conv := newEventConverter(func() ([]uint16, error) { return keys, nil })

	conv.convert([]evdev.InputEvent{
		raw(evdev.EV_KEY, consts.MouseBtnForward, 1),
		raw(evdev.EV_SYN, evdev.SYN_REPORT, 0),
	})

	// 解放が取りこぼされ、代わりに左ボタンが押されている
	keys = []uint16{consts.MouseBtnLeft}
	out := conv.convert([]evdev.InputEvent{
		raw(evdev.EV_REL, evdev.REL_X, 5),
		raw(evdev.EV_SYN, evdev.SYN_DROPPED, 0),
		raw(evdev.EV_REL, evdev.REL_X, 7),
		raw(evdev.EV_KEY, consts.MouseBtnLeft, 1),
		raw(evdev.EV_SYN, evdev.SYN_REPORT, 0),
		raw(evdev.EV_REL, evdev.REL_Y, 1),
	})

	assert.Equal(t, []gesture.PhysicalEvent{
		gesture.Motion{Axis: gesture.AxisX, Delta: 5},
		gesture.Button{Code: consts.MouseBtnLeft, Pressed: true},
		gesture.Button{Code: consts.MouseBtnForward, Pressed: false},
		gesture.Sync{},
		gesture.Motion{Axis: gesture.AxisY, Delta: 1},
	}, out)
}

func TestConvertResyncFailureStillSyncs(t *testing.T) {
	conv := newEventConverter(func() ([]uint16, error) { return nil, syscall.EBADF })

	out := conv.convert([]evdev.InputEvent{
		raw(evdev.EV_SYN, evdev.SYN_DROPPED, 0),
		raw(evdev.EV_SYN, evdev.SYN_REPORT, 0),
	})
	assert.Equal(t, []gesture.PhysicalEvent{gesture.Sync{}}, out)
}

func TestReadErrorClassifiesRemoval(t *testing.T) {
	removed := &os.PathError{Op: "read", Path: "/dev/input/event5", Err: syscall.ENODEV}
	assert.ErrorIs(t, readError("/dev/input/event5", removed), errs.ErrDeviceLost)
	assert.ErrorIs(t, readError("/dev/input/event5", io.EOF), errs.ErrDeviceLost)

	other := readError("/dev/input/event5", syscall.EIO)
	assert.False(t, errors.Is(other, errs.ErrDeviceLost))
	assert.ErrorIs(t, other, syscall.EIO)
}

func TestDecodeKeyBits(t *testing.T) {
	bits := make([]byte, consts.KeyMax/8+1)
	// BTN_LEFT (0x110) と BTN_EXTRA (0x114)
	bits[0x110/8] |= 1 << (0x110 % 8)
	bits[0x114/8] |= 1 << (0x114 % 8)
	bits[0] |= 1 << 1

	assert.Equal(t, []uint16{1, 0x110, 0x114}, decodeKeyBits(bits))
	require.Len(t, bits, 96)
}

func TestOpenMouseMissingDevice(t *testing.T) {
	_, err := OpenMouse("/dev/input/does-not-exist", true)
	assert.ErrorIs(t, err, errs.ErrDeviceAcquisition)
}
