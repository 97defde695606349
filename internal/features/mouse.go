package features

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"slices"
	"sync"
	"syscall"

	evdev "github.com/gvalkov/golang-evdev"

	"github.com/char5742/trackswipe/internal/consts"
	"github.com/char5742/trackswipe/internal/errs"
	"github.com/char5742/trackswipe/internal/gesture"
	"github.com/char5742/trackswipe/internal/logger"
	"github.com/char5742/trackswipe/internal/utils"
)

// Mouse は相対移動とボタンを読む物理デバイス
type Mouse interface {
	Name() string
	Path() string
	// マウス操作を専有する
	Grab() error
	// マウス操作の専有を解除する
	Release() error
	// Stream は ctx が終わるかデバイスが読めなくなるまでイベントを流す。
	// 読み取りエラーはエラーチャネルに1度だけ送られ、両チャネルが閉じられる
	Stream(ctx context.Context) (<-chan gesture.PhysicalEvent, <-chan error)
	Close() error
}

type physicalMouse struct {
	device  *evdev.InputDevice
	path    string
	mu      sync.Mutex
	grabbed bool
	closed  bool
}

// OpenMouse は指定されたパスのマウスを開く。
// probe が真なら一度専有して解放し、他プロセスが掴んでいないことを確認する
func OpenMouse(path string, probe bool) (Mouse, error) {
	device, err := evdev.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", errs.ErrDeviceAcquisition, path, err)
	}
	m := &physicalMouse{device: device, path: path}

	if !slices.Contains(device.CapabilitiesFlat[evdev.EV_REL], evdev.REL_X) {
		logger.Warn("相対移動を持たないデバイスです", "path", path, "name", device.Name)
	}

	if probe {
		if err := m.Grab(); err != nil {
			_ = device.File.Close()
			return nil, fmt.Errorf("%w: %w", errs.ErrDeviceAcquisition, err)
		}
		if err := m.Release(); err != nil {
			_ = device.File.Close()
			return nil, fmt.Errorf("%w: %w", errs.ErrDeviceAcquisition, err)
		}
	}

	logger.Info("物理デバイスを開きました", "path", path, "name", device.Name)
	return m, nil
}

func (m *physicalMouse) Name() string { return m.device.Name }

func (m *physicalMouse) Path() string { return m.path }

func (m *physicalMouse) Grab() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.grabbed {
		return nil
	}
	if err := utils.IOCtl(m.device.File, consts.EVIOCGRAB, 1); err != nil {
		if errors.Is(err, syscall.EBUSY) {
			return fmt.Errorf("device %s is grabbed by another process: %w", m.path, err)
		}
		return fmt.Errorf("failed to grab device: %w", err)
	}
	m.grabbed = true
	return nil
}

func (m *physicalMouse) Release() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.grabbed {
		return nil
	}
	if err := utils.IOCtl(m.device.File, consts.EVIOCGRAB, 0); err != nil {
		return fmt.Errorf("failed to release device: %w", err)
	}
	m.grabbed = false
	return nil
}

func (m *physicalMouse) Close() error {
	_ = m.Release()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	return m.device.File.Close()
}

func (m *physicalMouse) Stream(ctx context.Context) (<-chan gesture.PhysicalEvent, <-chan error) {
	events := make(chan gesture.PhysicalEvent, 64)
	errc := make(chan error, 1)
	conv := newEventConverter(func() ([]uint16, error) { return pressedKeys(m.device.File) })

	go func() {
		defer close(events)
		defer close(errc)
		for {
			raw, err := m.device.Read()
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, os.ErrClosed) {
					return
				}
				errc <- readError(m.path, err)
				return
			}
			for _, ev := range conv.convert(raw) {
				select {
				case events <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return events, errc
}

// readError はデバイスが外れた場合を ErrDeviceLost にする
func readError(path string, err error) error {
	if errors.Is(err, syscall.ENODEV) || errors.Is(err, io.EOF) || errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s: %w", errs.ErrDeviceLost, path, err)
	}
	return fmt.Errorf("read %s: %w", path, err)
}

// eventConverter は evdev のイベントを gesture.PhysicalEvent に変換する。
// SYN_DROPPED の後は次の SYN_REPORT まで捨て、キー状態を問い合わせて押下／解放を補う
type eventConverter struct {
	keyState func() ([]uint16, error)
	pressed  map[uint16]bool
	dropping bool
}

func newEventConverter(keyState func() ([]uint16, error)) *eventConverter {
	return &eventConverter{
		keyState: keyState,
		pressed:  make(map[uint16]bool),
	}
}

func (c *eventConverter) convert(raw []evdev.InputEvent) []gesture.PhysicalEvent {
	var out []gesture.PhysicalEvent
	for _, e := range raw {
		if c.dropping {
			if e.Type == evdev.EV_SYN && e.Code == evdev.SYN_REPORT {
				c.dropping = false
				out = append(out, c.resync()...)
			}
			continue
		}

		switch e.Type {
		case evdev.EV_SYN:
			switch e.Code {
			case evdev.SYN_REPORT:
				out = append(out, gesture.Sync{})
			case evdev.SYN_DROPPED:
				logger.Warn("カーネルのイベントバッファが溢れました。状態を再同期します")
				c.dropping = true
			}
		case evdev.EV_REL:
			switch e.Code {
			case evdev.REL_X:
				out = append(out, gesture.Motion{Axis: gesture.AxisX, Delta: e.Value})
			case evdev.REL_Y:
				out = append(out, gesture.Motion{Axis: gesture.AxisY, Delta: e.Value})
			}
		case evdev.EV_KEY:
			// 2 はオートリピート
			if e.Value != 0 && e.Value != 1 {
				continue
			}
			c.pressed[e.Code] = e.Value == 1
			out = append(out, gesture.Button{Code: gesture.ButtonID(e.Code), Pressed: e.Value == 1})
		}
	}
	return out
}

// resync は取りこぼした押下／解放を差分として補い、Sync で締める
func (c *eventConverter) resync() []gesture.PhysicalEvent {
	keys, err := c.keyState()
	if err != nil {
		logger.Warn("キー状態の取得に失敗しました", "err", err)
		return []gesture.PhysicalEvent{gesture.Sync{}}
	}
	now := make(map[uint16]bool, len(keys))
	for _, k := range keys {
		now[k] = true
	}

	var out []gesture.PhysicalEvent
	codes := make([]uint16, 0, len(c.pressed)+len(keys))
	for code := range c.pressed {
		codes = append(codes, code)
	}
	for _, k := range keys {
		if _, ok := c.pressed[k]; !ok {
			codes = append(codes, k)
		}
	}
	slices.Sort(codes)
	for _, code := range codes {
		if c.pressed[code] == now[code] {
			continue
		}
		c.pressed[code] = now[code]
		out = append(out, gesture.Button{Code: gesture.ButtonID(code), Pressed: now[code]})
	}
	return append(out, gesture.Sync{})
}
