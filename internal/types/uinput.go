package types

import (
	"syscall"

	"github.com/char5742/trackswipe/internal/consts"
)

// InputID はデバイス識別子を表す構造体
type InputID struct {
	Bustype uint16 // バスタイプ
	Vendor  uint16 // ベンダーID
	Product uint16 // 製品ID
	Version uint16 // バージョン
}

// Setup は UI_DEV_SETUP に渡す struct uinput_setup
type Setup struct {
	ID         InputID
	Name       [consts.MaxNameSize]byte
	EffectsMax uint32
}

// AbsInfo は struct input_absinfo
type AbsInfo struct {
	Value      int32
	Minimum    int32
	Maximum    int32
	Fuzz       int32
	Flat       int32
	Resolution int32
}

// AbsSetup は UI_ABS_SETUP に渡す struct uinput_abs_setup
type AbsSetup struct {
	Code uint16
	_    uint16 // パディング
	Info AbsInfo
}

// Event は struct input_event。uinput への書き込みと evdev の読み取りで共通
type Event struct {
	Time  syscall.Timeval
	Type  uint16
	Code  uint16
	Value int32
}
