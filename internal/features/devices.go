package features

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	evdev "github.com/gvalkov/golang-evdev"

	"github.com/char5742/trackswipe/internal/errs"
)

const byIDDir = "/dev/input/by-id"

type Device struct {
	Name string
	Path string
	Type DeviceType
}

// デバイスタイプを表す列挙型
type DeviceType int

const (
	DeviceTypeKeyboard DeviceType = iota
	DeviceTypeMouse
)

func (t DeviceType) String() string {
	switch t {
	case DeviceTypeKeyboard:
		return "keyboard"
	case DeviceTypeMouse:
		return "mouse"
	default:
		return "unknown"
	}
}

// ScanDevices は /dev/input/by-id から現在接続されているデバイスリストを返します
func ScanDevices() ([]Device, error) {
	return scanDevices(byIDDir)
}

func scanDevices(dir string) ([]Device, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var devices []Device
	for _, entry := range entries {
		// eventが含まれない場合はスキップ
		if !strings.Contains(entry.Name(), "event") {
			continue
		}
		fullPath := filepath.Join(dir, entry.Name())
		realPath, err := os.Readlink(fullPath)
		if err != nil {
			continue
		}

		// 絶対パスを構築
		absPath := ""
		if strings.HasPrefix(realPath, "/") {
			absPath = realPath
		} else {
			absPath = "/dev/input/" + filepath.Base(realPath)
		}

		if strings.Contains(entry.Name(), "kbd") {
			devices = append(devices, Device{Name: entry.Name(), Path: absPath, Type: DeviceTypeKeyboard})
		}
		if strings.Contains(entry.Name(), "mouse") {
			devices = append(devices, Device{Name: entry.Name(), Path: absPath, Type: DeviceTypeMouse})
		}
	}

	sort.Slice(devices, func(i, j int) bool { return devices[i].Name < devices[j].Name })
	return devices, nil
}

// ListPointerDevices は相対移動を持つ evdev デバイスを全て返す。by-id が無い環境向け
func ListPointerDevices() ([]Device, error) {
	inputs, err := evdev.ListInputDevices("/dev/input/event*")
	if err != nil {
		return nil, err
	}
	var devices []Device
	for _, dev := range inputs {
		rel := dev.CapabilitiesFlat[evdev.EV_REL]
		if slices.Contains(rel, evdev.REL_X) && slices.Contains(rel, evdev.REL_Y) {
			devices = append(devices, Device{Name: dev.Name, Path: dev.Fn, Type: DeviceTypeMouse})
		}
		_ = dev.File.Close()
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].Path < devices[j].Path })
	return devices, nil
}

// FindMouse は preferred を名前に含むマウスを探す。空なら最初に見つかったマウス
func FindMouse(preferred string) (Device, error) {
	devices, err := ScanDevices()
	if err != nil || !hasMouse(devices) {
		devices, err = ListPointerDevices()
		if err != nil {
			return Device{}, fmt.Errorf("%w: デバイス一覧の取得に失敗しました: %w", errs.ErrDeviceAcquisition, err)
		}
	}
	return pickMouse(devices, preferred)
}

func hasMouse(devices []Device) bool {
	return slices.ContainsFunc(devices, func(d Device) bool { return d.Type == DeviceTypeMouse })
}

func pickMouse(devices []Device, preferred string) (Device, error) {
	for _, d := range devices {
		if d.Type != DeviceTypeMouse {
			continue
		}
		if preferred == "" || strings.Contains(strings.ToLower(d.Name), strings.ToLower(preferred)) {
			return d, nil
		}
	}
	if preferred != "" {
		return Device{}, fmt.Errorf("%w: %q に一致するマウスがありません", errs.ErrDeviceAcquisition, preferred)
	}
	return Device{}, fmt.Errorf("%w: %w", errs.ErrDeviceAcquisition, errNoMouse)
}

var errNoMouse = errors.New("no mouse found")
