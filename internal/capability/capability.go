// Package capability は設定から仮想タッチパッドが広告する軸範囲とスロット数を決める。
package capability

import (
	"fmt"
	"math"
	"slices"

	"github.com/char5742/trackswipe/internal/consts"
	"github.com/char5742/trackswipe/internal/errs"
)

// MaxSlots は仮想デバイスが扱えるマルチタッチスロットの上限。
// 指の本数を示す BTN_TOOL_* キーが QUINTTAP (5本) までしか存在しないため 5 とする
const MaxSlots = 5

// DefaultResolution は軸の解像度 (units/mm)
const DefaultResolution = 12

// AxisRange は閉区間 [Min, Max] の絶対座標範囲
type AxisRange struct {
	Min int32
	Max int32
}

// Set は仮想デバイスに宣言する機能の一覧
type Set struct {
	X             AxisRange
	Y             AxisRange
	Slots         int
	Resolution    int32
	MaxTrackingID int32
	// Buttons は転送するボタン。ボタン状態は転送しないので既定では空
	Buttons []uint16
	// TouchKeys は BTN_TOUCH と指の本数を表すツールキー
	TouchKeys []uint16
}

var toolKeys = [MaxSlots + 1]uint16{
	0,
	consts.BtnToolFinger,
	consts.BtnToolDoubleTap,
	consts.BtnToolTripleTap,
	consts.BtnToolQuadTap,
	consts.BtnToolQuintTap,
}

// Negotiate は面のサイズと指の本数から Set を作る。副作用は無い
func Negotiate(width, height uint32, fingers uint8, resolution int32) (Set, error) {
	if fingers == 0 {
		return Set{}, fmt.Errorf("%w: finger count must be at least 1", errs.ErrCapability)
	}
	if int(fingers) > MaxSlots {
		return Set{}, fmt.Errorf("%w: finger count %d exceeds %d slots", errs.ErrCapability, fingers, MaxSlots)
	}
	if width == 0 || height == 0 {
		return Set{}, fmt.Errorf("%w: surface %dx%d is empty", errs.ErrCapability, width, height)
	}
	if width > math.MaxInt32 || height > math.MaxInt32 {
		return Set{}, fmt.Errorf("%w: surface %dx%d exceeds the axis range", errs.ErrCapability, width, height)
	}
	if resolution <= 0 {
		resolution = DefaultResolution
	}

	keys := []uint16{consts.BtnTouch}
	for n := 1; n <= MaxSlots; n++ {
		keys = append(keys, toolKeys[n])
	}

	return Set{
		X:             AxisRange{Min: 0, Max: int32(width - 1)},
		Y:             AxisRange{Min: 0, Max: int32(height - 1)},
		Slots:         int(fingers),
		Resolution:    resolution,
		MaxTrackingID: math.MaxInt32,
		Buttons:       []uint16{},
		TouchKeys:     keys,
	}, nil
}

// ToolKey は n 本の接触を示すキーコードを返す。n が範囲外なら 0
func (s Set) ToolKey(n int) uint16 {
	if n <= 0 || n > MaxSlots {
		return 0
	}
	return toolKeys[n]
}

// Width は X 軸の幅
func (s Set) Width() uint32 { return uint32(s.X.Max-s.X.Min) + 1 }

// Height は Y 軸の高さ
func (s Set) Height() uint32 { return uint32(s.Y.Max-s.Y.Min) + 1 }

// Equal は再作成が必要かどうかの判定に使う
func (s Set) Equal(o Set) bool {
	return s.X == o.X && s.Y == o.Y &&
		s.Slots == o.Slots &&
		s.Resolution == o.Resolution &&
		s.MaxTrackingID == o.MaxTrackingID &&
		slices.Equal(s.Buttons, o.Buttons) &&
		slices.Equal(s.TouchKeys, o.TouchKeys)
}
