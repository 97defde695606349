package features

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"syscall"
	"unsafe"

	"github.com/char5742/trackswipe/internal/capability"
	"github.com/char5742/trackswipe/internal/consts"
	"github.com/char5742/trackswipe/internal/errs"
	"github.com/char5742/trackswipe/internal/gesture"
	"github.com/char5742/trackswipe/internal/types"
	"github.com/char5742/trackswipe/internal/utils"
)

// ErrFrameIncomplete は前のフレームが途中までしか書けていない
var ErrFrameIncomplete = errors.New("previous frame incomplete")

// 書き込みが途中で切れた後のスロット状態
const (
	unknownTrackingID int32 = math.MinInt32
	unknownContacts         = -1
)

// TouchPad はタッチフレームを出力する仮想マルチタッチデバイス
type TouchPad interface {
	// Publish はフレームを SYN_REPORT で終わる1回の書き込みとして送る
	Publish(frame gesture.TouchFrame) error
	// Incomplete は途中まで書けたフレームが残っているかどうか
	Incomplete() bool
	Capabilities() capability.Set
	io.Closer
}

type virtualTouchPad struct {
	deviceFile io.WriteCloser
	caps       capability.Set
	destroy    func() error

	// スロットごとに最後に送った追跡ID（-1 は離れている）
	trackingIDs []int32
	contacts    int
	incomplete  bool
	closed      bool
}

// CreateTouchPad は新しいタッチパッドデバイスを作成する
func CreateTouchPad(path string, name []byte, caps capability.Set) (TouchPad, error) {
	fd, err := createTouchPad(path, name, caps)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrDeviceCreation, err)
	}

	pad := newVirtualTouchPad(fd, caps)
	pad.destroy = func() error { return releaseDevice(fd) }
	return pad, nil
}

func newVirtualTouchPad(w io.WriteCloser, caps capability.Set) *virtualTouchPad {
	ids := make([]int32, caps.Slots)
	for i := range ids {
		ids[i] = gesture.LiftTrackingID
	}
	return &virtualTouchPad{
		deviceFile:  w,
		caps:        caps,
		trackingIDs: ids,
	}
}

func (vt *virtualTouchPad) Capabilities() capability.Set { return vt.caps }

func (vt *virtualTouchPad) Incomplete() bool { return vt.incomplete }

func (vt *virtualTouchPad) Close() error {
	if vt.closed {
		return nil
	}
	vt.closed = true
	var destroyErr error
	if vt.destroy != nil {
		if err := vt.destroy(); err != nil {
			destroyErr = fmt.Errorf("仮想デバイスの破棄に失敗しました: %w", err)
		}
	}
	return errors.Join(destroyErr, vt.deviceFile.Close())
}

// Publish はフレームをイベント列に変換して1回で書き込む
func (vt *virtualTouchPad) Publish(frame gesture.TouchFrame) error {
	if vt.closed {
		return fmt.Errorf("%w: device closed", errs.ErrPublish)
	}
	lift := frame.IsLift()
	if vt.incomplete && !lift {
		return fmt.Errorf("%w: %w", errs.ErrPublish, ErrFrameIncomplete)
	}

	events, ids, contacts, err := vt.encodeFrame(frame)
	if err != nil {
		return fmt.Errorf("%w: %w", errs.ErrPublish, err)
	}

	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, events); err != nil {
		return fmt.Errorf("%w: イベントをバッファに書き込むのに失敗しました: %w", errs.ErrPublish, err)
	}
	n, err := vt.deviceFile.Write(buf.Bytes())
	if err == nil && n < buf.Len() {
		err = io.ErrShortWrite
	}
	if err != nil {
		if n > 0 {
			// 途中までカーネルに届いたのでスロットの状態は不明。以後は離すフレームしか受け付けない
			vt.incomplete = true
			for i := range vt.trackingIDs {
				vt.trackingIDs[i] = unknownTrackingID
			}
			vt.contacts = unknownContacts
		}
		if errors.Is(err, syscall.ENODEV) {
			return fmt.Errorf("%w: %w", errs.ErrDeviceLost, err)
		}
		return fmt.Errorf("%w: イベントの書き込みに失敗しました: %w", errs.ErrPublish, err)
	}

	vt.trackingIDs = ids
	vt.contacts = contacts
	if lift {
		vt.incomplete = false
	}
	return nil
}

// encodeFrame はフレームを input_event 列に変換する。デバイスの状態は変更しない
func (vt *virtualTouchPad) encodeFrame(frame gesture.TouchFrame) ([]types.Event, []int32, int, error) {
	ids := append([]int32(nil), vt.trackingIDs...)
	var events []types.Event
	abs := func(code uint16, value int32) {
		events = append(events, types.Event{Type: consts.Abs, Code: code, Value: value})
	}
	key := func(code uint16, value int32) {
		events = append(events, types.Event{Type: consts.Key, Code: code, Value: value})
	}

	first := -1
	for i, c := range frame {
		if int(c.Slot) >= len(ids) {
			return nil, nil, 0, fmt.Errorf("slot %d exceeds %d slots", c.Slot, len(ids))
		}
		if c.TrackingID != gesture.LiftTrackingID {
			if c.X > uint32(vt.caps.X.Max) || c.Y > uint32(vt.caps.Y.Max) {
				return nil, nil, 0, fmt.Errorf("contact (%d,%d) outside surface", c.X, c.Y)
			}
			if first < 0 {
				first = i
			}
		}

		abs(consts.AbsMtSlot, int32(c.Slot))
		if ids[c.Slot] != c.TrackingID {
			abs(consts.AbsMtTrackingId, c.TrackingID)
			ids[c.Slot] = c.TrackingID
		}
		if c.TrackingID != gesture.LiftTrackingID {
			abs(consts.AbsMtPositionX, int32(c.X))
			abs(consts.AbsMtPositionY, int32(c.Y))
		}
	}

	contacts := 0
	for _, id := range ids {
		if id != gesture.LiftTrackingID {
			contacts++
		}
	}

	// 単一タッチ互換の座標は最初の指に合わせる
	if first >= 0 {
		abs(consts.AbsX, int32(frame[first].X))
		abs(consts.AbsY, int32(frame[first].Y))
	}

	// 指の本数が変わったら BTN_TOUCH と BTN_TOOL_* を切り替える
	if contacts != vt.contacts {
		if vt.contacts == unknownContacts {
			for n := 1; n <= vt.caps.Slots; n++ {
				key(vt.caps.ToolKey(n), 0)
			}
		} else if prev := vt.caps.ToolKey(vt.contacts); prev != 0 {
			key(prev, 0)
		}
		if next := vt.caps.ToolKey(contacts); next != 0 {
			key(next, 1)
		}
		switch {
		case vt.contacts <= 0 && contacts > 0:
			key(consts.BtnTouch, 1)
		case contacts == 0:
			key(consts.BtnTouch, 0)
		}
	}

	events = append(events, types.Event{Type: consts.Syn, Code: consts.SynReport, Value: 0})
	return events, ids, contacts, nil
}

func createTouchPad(path string, name []byte, caps capability.Set) (*os.File, error) {
	deviceFile, err := createDeviceFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not create absolute axis input device: %w", err)
	}

	for _, ev := range []uintptr{consts.Syn, consts.Key, consts.Abs} {
		if err := registerDevice(deviceFile, ev); err != nil {
			_ = deviceFile.Close()
			return nil, fmt.Errorf("イベントタイプ %d の登録に失敗しました: %w", ev, err)
		}
	}

	// タッチ検出と指の本数、転送するボタンを登録する
	keys := append(append([]uint16(nil), caps.TouchKeys...), caps.Buttons...)
	for _, k := range keys {
		if err := utils.IOCtl(deviceFile, consts.SetKeyBit, uintptr(k)); err != nil {
			_ = deviceFile.Close()
			return nil, fmt.Errorf("キー入力種別の登録に失敗しました %v: %w", k, err)
		}
	}

	if err := utils.IOCtl(deviceFile, consts.SetPropBit, uintptr(consts.PropPointer)); err != nil {
		_ = deviceFile.Close()
		return nil, fmt.Errorf("ポインターデバイスプロパティの設定に失敗しました: %w", err)
	}

	for _, setup := range absSetups(caps) {
		if err := utils.IOCtl(deviceFile, consts.SetAbsBit, uintptr(setup.Code)); err != nil {
			_ = deviceFile.Close()
			return nil, fmt.Errorf("座標軸の登録に失敗しました %v: %w", setup.Code, err)
		}
		if err := utils.IOCtlPtr(deviceFile, consts.AbsSetup, unsafe.Pointer(&setup)); err != nil {
			_ = deviceFile.Close()
			return nil, fmt.Errorf("座標軸の範囲設定に失敗しました %v: %w", setup.Code, err)
		}
	}

	setup := types.Setup{
		Name: toUinputName(name),
		ID: types.InputID{
			Bustype: consts.BusUsb,
			Vendor:  0x4711,
			Product: 0x0818,
			Version: 1,
		},
	}
	if err := utils.IOCtlPtr(deviceFile, consts.DevSetup, unsafe.Pointer(&setup)); err != nil {
		_ = deviceFile.Close()
		return nil, fmt.Errorf("デバイス情報の設定に失敗しました: %w", err)
	}

	if err := utils.IOCtl(deviceFile, consts.DevCreate, 0); err != nil {
		_ = deviceFile.Close()
		return nil, fmt.Errorf("デバイスの作成に失敗しました: %w", err)
	}

	return deviceFile, nil
}

// absSetups は広告する絶対座標軸の一覧
func absSetups(caps capability.Set) []types.AbsSetup {
	axis := func(code uint16, r capability.AxisRange, res int32) types.AbsSetup {
		return types.AbsSetup{
			Code: code,
			Info: types.AbsInfo{Minimum: r.Min, Maximum: r.Max, Resolution: res},
		}
	}
	return []types.AbsSetup{
		axis(consts.AbsX, caps.X, caps.Resolution),
		axis(consts.AbsY, caps.Y, caps.Resolution),
		axis(consts.AbsMtSlot, capability.AxisRange{Max: int32(caps.Slots - 1)}, 0),
		axis(consts.AbsMtTrackingId, capability.AxisRange{Max: caps.MaxTrackingID}, 0),
		axis(consts.AbsMtPositionX, caps.X, caps.Resolution),
		axis(consts.AbsMtPositionY, caps.Y, caps.Resolution),
	}
}

// デバイスファイルを作成する
func createDeviceFile(path string) (*os.File, error) {
	deviceFile, err := os.OpenFile(path, syscall.O_WRONLY|syscall.O_NONBLOCK, 0660)
	if err != nil {
		return nil, fmt.Errorf("デバイスファイルを開くのに失敗しました: %w", err)
	}
	return deviceFile, nil
}

// デバイスを解放する
func releaseDevice(deviceFile *os.File) error {
	return utils.IOCtl(deviceFile, consts.DevDestroy, 0)
}

// デバイスを登録する
func registerDevice(deviceFile *os.File, evType uintptr) error {
	if err := utils.IOCtl(deviceFile, consts.SetEvBit, evType); err != nil {
		return fmt.Errorf("無効なファイルハンドルがutils.IOCtlから返されました: %w", err)
	}
	return nil
}

// 名前をuinput用の固定長配列に変換する
func toUinputName(name []byte) (uinputName [consts.MaxNameSize]byte) {
	copy(uinputName[:consts.MaxNameSize-1], name)
	return uinputName
}
