package features

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/char5742/trackswipe/internal/capability"
	"github.com/char5742/trackswipe/internal/consts"
	"github.com/char5742/trackswipe/internal/errs"
	"github.com/char5742/trackswipe/internal/gesture"
	"github.com/char5742/trackswipe/internal/types"
)

// fakeDevice は uinput への書き込みを記録する
type fakeDevice struct {
	writes [][]byte
	// short が正なら次の書き込みをそのバイト数で切る
	short  int
	err    error
	closed int
}

func (d *fakeDevice) Write(p []byte) (int, error) {
	if d.err != nil {
		n := d.short
		d.short = 0
		return n, d.err
	}
	if d.short > 0 {
		n := d.short
		d.short = 0
		d.writes = append(d.writes, append([]byte(nil), p[:n]...))
		return n, nil
	}
	d.writes = append(d.writes, append([]byte(nil), p...))
	return len(p), nil
}

func (d *fakeDevice) Close() error {
	d.closed++
	return nil
}

type ev struct {
	Type  uint16
	Code  uint16
	Value int32
}

func decode(t *testing.T, p []byte) []ev {
	t.Helper()
	size := binary.Size(types.Event{})
	require.Zero(t, len(p)%size, "partial input_event")

	var out []ev
	r := bytes.NewReader(p)
	for r.Len() > 0 {
		var e types.Event
		require.NoError(t, binary.Read(r, binary.LittleEndian, &e))
		out = append(out, ev{e.Type, e.Code, e.Value})
	}
	return out
}

func testCaps(t *testing.T, fingers uint8) capability.Set {
	t.Helper()
	caps, err := capability.Negotiate(1000, 1000, fingers, 0)
	require.NoError(t, err)
	return caps
}

func frameAt(ids []int32, x, y uint32) gesture.TouchFrame {
	frame := make(gesture.TouchFrame, len(ids))
	for i, id := range ids {
		frame[i] = gesture.Contact{Slot: uint8(i), TrackingID: id, X: x, Y: y}
	}
	return frame
}

func TestPublishWritesOneReportPerFrame(t *testing.T) {
	dev := &fakeDevice{}
	pad := newVirtualTouchPad(dev, testCaps(t, 2))

	require.NoError(t, pad.Publish(frameAt([]int32{7, 8}, 500, 500)))
	require.Len(t, dev.writes, 1)

	assert.Equal(t, []ev{
		{consts.Abs, consts.AbsMtSlot, 0},
		{consts.Abs, consts.AbsMtTrackingId, 7},
		{consts.Abs, consts.AbsMtPositionX, 500},
		{consts.Abs, consts.AbsMtPositionY, 500},
		{consts.Abs, consts.AbsMtSlot, 1},
		{consts.Abs, consts.AbsMtTrackingId, 8},
		{consts.Abs, consts.AbsMtPositionX, 500},
		{consts.Abs, consts.AbsMtPositionY, 500},
		{consts.Abs, consts.AbsX, 500},
		{consts.Abs, consts.AbsY, 500},
		{consts.Key, consts.BtnToolDoubleTap, 1},
		{consts.Key, consts.BtnTouch, 1},
		{consts.Syn, consts.SynReport, 0},
	}, decode(t, dev.writes[0]))
}

func TestPublishMoveOmitsUnchangedTrackingIDs(t *testing.T) {
	dev := &fakeDevice{}
	pad := newVirtualTouchPad(dev, testCaps(t, 2))

	require.NoError(t, pad.Publish(frameAt([]int32{7, 8}, 500, 500)))
	require.NoError(t, pad.Publish(frameAt([]int32{7, 8}, 550, 490)))
	require.Len(t, dev.writes, 2)

	assert.Equal(t, []ev{
		{consts.Abs, consts.AbsMtSlot, 0},
		{consts.Abs, consts.AbsMtPositionX, 550},
		{consts.Abs, consts.AbsMtPositionY, 490},
		{consts.Abs, consts.AbsMtSlot, 1},
		{consts.Abs, consts.AbsMtPositionX, 550},
		{consts.Abs, consts.AbsMtPositionY, 490},
		{consts.Abs, consts.AbsX, 550},
		{consts.Abs, consts.AbsY, 490},
		{consts.Syn, consts.SynReport, 0},
	}, decode(t, dev.writes[1]))
}

func TestPublishLiftReleasesTouch(t *testing.T) {
	dev := &fakeDevice{}
	pad := newVirtualTouchPad(dev, testCaps(t, 3))

	require.NoError(t, pad.Publish(frameAt([]int32{1, 2, 3}, 10, 20)))
	require.NoError(t, pad.Publish(gesture.LiftFrame(3)))

	assert.Equal(t, []ev{
		{consts.Abs, consts.AbsMtSlot, 0},
		{consts.Abs, consts.AbsMtTrackingId, -1},
		{consts.Abs, consts.AbsMtSlot, 1},
		{consts.Abs, consts.AbsMtTrackingId, -1},
		{consts.Abs, consts.AbsMtSlot, 2},
		{consts.Abs, consts.AbsMtTrackingId, -1},
		{consts.Key, consts.BtnToolTripleTap, 0},
		{consts.Key, consts.BtnTouch, 0},
		{consts.Syn, consts.SynReport, 0},
	}, decode(t, dev.writes[1]))
}

func TestPublishRejectsContactsOutsideSurface(t *testing.T) {
	dev := &fakeDevice{}
	pad := newVirtualTouchPad(dev, testCaps(t, 1))

	err := pad.Publish(frameAt([]int32{1}, 1000, 0))
	assert.ErrorIs(t, err, errs.ErrPublish)

	err = pad.Publish(gesture.TouchFrame{{Slot: 3, TrackingID: 1}})
	assert.ErrorIs(t, err, errs.ErrPublish)
	assert.Empty(t, dev.writes)
}

func TestShortWriteMarksFrameIncomplete(t *testing.T) {
	dev := &fakeDevice{}
	pad := newVirtualTouchPad(dev, testCaps(t, 2))

	dev.short = binary.Size(types.Event{}) * 3
	err := pad.Publish(frameAt([]int32{1, 2}, 100, 100))
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrPublish)
	assert.True(t, pad.Incomplete())

	// 離すフレーム以外は拒否する
	err = pad.Publish(frameAt([]int32{1, 2}, 110, 100))
	assert.ErrorIs(t, err, ErrFrameIncomplete)
	require.Len(t, dev.writes, 1)

	// スロット状態が不明なので全スロットの追跡IDとツールキーを解除する
	require.NoError(t, pad.Publish(gesture.LiftFrame(2)))
	assert.False(t, pad.Incomplete())
	assert.Equal(t, []ev{
		{consts.Abs, consts.AbsMtSlot, 0},
		{consts.Abs, consts.AbsMtTrackingId, -1},
		{consts.Abs, consts.AbsMtSlot, 1},
		{consts.Abs, consts.AbsMtTrackingId, -1},
		{consts.Key, consts.BtnToolFinger, 0},
		{consts.Key, consts.BtnToolDoubleTap, 0},
		{consts.Key, consts.BtnTouch, 0},
		{consts.Syn, consts.SynReport, 0},
	}, decode(t, dev.writes[1]))

	// 次のジェスチャーは通常通り
	require.NoError(t, pad.Publish(frameAt([]int32{3, 4}, 100, 100)))
}

func TestFailedWriteWithoutDataKeepsState(t *testing.T) {
	dev := &fakeDevice{err: syscall.EAGAIN}
	pad := newVirtualTouchPad(dev, testCaps(t, 1))

	err := pad.Publish(frameAt([]int32{1}, 1, 1))
	assert.ErrorIs(t, err, errs.ErrPublish)
	assert.False(t, pad.Incomplete())

	dev.err = nil
	require.NoError(t, pad.Publish(frameAt([]int32{1}, 1, 1)))
	events := decode(t, dev.writes[0])
	assert.Contains(t, events, ev{consts.Abs, consts.AbsMtTrackingId, 1})
}

func TestDeviceRemovalIsDeviceLost(t *testing.T) {
	dev := &fakeDevice{err: &os.PathError{Op: "write", Path: "/dev/uinput", Err: syscall.ENODEV}}
	pad := newVirtualTouchPad(dev, testCaps(t, 1))

	err := pad.Publish(frameAt([]int32{1}, 1, 1))
	assert.ErrorIs(t, err, errs.ErrDeviceLost)
	assert.False(t, errors.Is(err, errs.ErrPublish))
}

func TestCloseIsIdempotent(t *testing.T) {
	dev := &fakeDevice{}
	pad := newVirtualTouchPad(dev, testCaps(t, 1))
	destroyed := 0
	pad.destroy = func() error { destroyed++; return nil }

	require.NoError(t, pad.Close())
	require.NoError(t, pad.Close())
	assert.Equal(t, 1, dev.closed)
	assert.Equal(t, 1, destroyed)

	assert.ErrorIs(t, pad.Publish(gesture.LiftFrame(1)), errs.ErrPublish)
}

func TestCloseReportsDestroyFailure(t *testing.T) {
	dev := &fakeDevice{}
	pad := newVirtualTouchPad(dev, testCaps(t, 1))
	pad.destroy = func() error { return syscall.EBADF }

	err := pad.Close()
	assert.ErrorIs(t, err, syscall.EBADF)
	assert.Equal(t, 1, dev.closed, "file is closed even when destroy fails")
	assert.NoError(t, pad.Close())
}

func TestAbsSetupsAdvertiseSurface(t *testing.T) {
	caps := testCaps(t, 4)
	setups := absSetups(caps)

	byCode := map[uint16]types.AbsInfo{}
	for _, s := range setups {
		byCode[s.Code] = s.Info
	}
	assert.Equal(t, int32(999), byCode[consts.AbsMtPositionX].Maximum)
	assert.Equal(t, int32(999), byCode[consts.AbsY].Maximum)
	assert.Equal(t, int32(3), byCode[consts.AbsMtSlot].Maximum)
	assert.Equal(t, caps.MaxTrackingID, byCode[consts.AbsMtTrackingId].Maximum)
	assert.Equal(t, int32(capability.DefaultResolution), byCode[consts.AbsMtPositionX].Resolution)
}

func TestToUinputNameTruncates(t *testing.T) {
	long := bytes.Repeat([]byte("a"), 200)
	name := toUinputName(long)
	assert.Zero(t, name[consts.MaxNameSize-1])
	assert.Equal(t, byte('a'), name[0])
}

func TestCreateTouchPadOnHost(t *testing.T) {
	if _, err := os.Stat("/dev/uinput"); err != nil {
		t.Skip("/dev/uinput not available")
	}
	pad, err := CreateTouchPad("/dev/uinput", []byte("trackswipe test pad"), testCaps(t, 3))
	if err != nil {
		t.Skipf("uinput not usable: %v", err)
	}
	defer pad.Close()

	require.NoError(t, pad.Publish(frameAt([]int32{1, 2, 3}, 500, 500)))
	require.NoError(t, pad.Publish(gesture.LiftFrame(3)))
}
