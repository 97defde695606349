package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/char5742/trackswipe/internal/capability"
	"github.com/char5742/trackswipe/internal/consts"
	"github.com/char5742/trackswipe/internal/gesture"
)

// Config はアプリケーション全体の設定を表す構造体
type Config struct {
	Device   DeviceConfig   `toml:"device"`
	Gesture  GestureConfig  `toml:"gesture"`
	TouchPad TouchPadConfig `toml:"touchpad"`
	Log      LogConfig      `toml:"log"`
}

// DeviceConfig は物理デバイスの設定
type DeviceConfig struct {
	// Path が空なら /dev/input/by-id から探す
	Path          string `toml:"path"`
	PreferredName string `toml:"preferred_name"`
	Grab          bool   `toml:"grab"`
}

// GestureConfig はジェスチャー変換の設定
type GestureConfig struct {
	FingerCount   uint8   `toml:"finger_count"`
	TriggerButton uint16  `toml:"trigger_button"`
	Sensitivity   float64 `toml:"sensitivity"`
	XMult         float64 `toml:"x_mult"`
	YMult         float64 `toml:"y_mult"`
	FingerSpacing uint32  `toml:"finger_spacing"`
}

// TouchPadConfig は仮想タッチパッドの設定
type TouchPadConfig struct {
	Name       string `toml:"name"`
	Width      uint32 `toml:"width"`
	Height     uint32 `toml:"height"`
	Resolution int32  `toml:"resolution"`
}

// LogConfig はログの設定
type LogConfig struct {
	Level string `toml:"level"`
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() *Config {
	return &Config{
		Device: DeviceConfig{
			Grab: true,
		},
		Gesture: GestureConfig{
			FingerCount:   3,
			TriggerButton: consts.MouseBtnForward,
			Sensitivity:   1.0,
			XMult:         1.0,
			YMult:         1.0,
		},
		TouchPad: TouchPadConfig{
			Name:       "trackswipe virtual trackpad",
			Width:      4096,
			Height:     4096,
			Resolution: capability.DefaultResolution,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Validate は読み込んだ設定の値域を確認する。指の本数の上限は capability.Negotiate が判定する
func (c *Config) Validate() error {
	var errs []error
	if c.Gesture.FingerCount == 0 {
		errs = append(errs, errors.New("gesture.finger_count must be at least 1"))
	}
	if c.Gesture.TriggerButton == 0 {
		errs = append(errs, errors.New("gesture.trigger_button must be set"))
	}
	if !(c.Gesture.Sensitivity > 0) || math.IsInf(c.Gesture.Sensitivity, 0) {
		errs = append(errs, fmt.Errorf("gesture.sensitivity must be positive, got %v", c.Gesture.Sensitivity))
	}
	if !(c.Gesture.XMult > 0) || !(c.Gesture.YMult > 0) {
		errs = append(errs, fmt.Errorf("gesture.x_mult and gesture.y_mult must be positive, got %v/%v", c.Gesture.XMult, c.Gesture.YMult))
	}
	if c.TouchPad.Width == 0 || c.TouchPad.Height == 0 {
		errs = append(errs, fmt.Errorf("touchpad size must be non-zero, got %dx%d", c.TouchPad.Width, c.TouchPad.Height))
	}
	if c.TouchPad.Width > math.MaxInt32 || c.TouchPad.Height > math.MaxInt32 {
		errs = append(errs, fmt.Errorf("touchpad size %dx%d exceeds the axis range", c.TouchPad.Width, c.TouchPad.Height))
	}
	if c.Gesture.FingerCount > 0 && uint64(c.Gesture.FingerCount-1)*uint64(c.Gesture.FingerSpacing) >= uint64(c.TouchPad.Width) {
		errs = append(errs, fmt.Errorf("gesture.finger_spacing %d does not fit %d fingers on width %d",
			c.Gesture.FingerSpacing, c.Gesture.FingerCount, c.TouchPad.Width))
	}
	if len(c.TouchPad.Name) >= consts.MaxNameSize {
		errs = append(errs, fmt.Errorf("touchpad.name must be shorter than %d bytes", consts.MaxNameSize))
	}
	return errors.Join(errs...)
}

// Settings はジェスチャーエンジンに渡すスナップショットを作る
func (c *Config) Settings() gesture.Settings {
	return gesture.Settings{
		FingerCount:   c.Gesture.FingerCount,
		TriggerButton: gesture.ButtonID(c.Gesture.TriggerButton),
		Sensitivity:   c.Gesture.Sensitivity,
		XMult:         c.Gesture.XMult,
		YMult:         c.Gesture.YMult,
		Width:         c.TouchPad.Width,
		Height:        c.TouchPad.Height,
		FingerSpacing: c.Gesture.FingerSpacing,
		Grab:          c.Device.Grab,
	}
}

// Capabilities は設定から仮想デバイスの機能を決める
func (c *Config) Capabilities() (capability.Set, error) {
	return capability.Negotiate(c.TouchPad.Width, c.TouchPad.Height, c.Gesture.FingerCount, c.TouchPad.Resolution)
}

// GetDefaultConfigDir は設定ディレクトリを返す。sudo 実行時は元ユーザーの設定を使う
func GetDefaultConfigDir() (string, error) {
	if sudoUser := os.Getenv("SUDO_USER"); sudoUser != "" && sudoUser != "root" {
		return filepath.Join("/home", sudoUser, ".config", "trackswipe"), nil
	}
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "trackswipe"), nil
}

// LoadConfig は設定ファイルから設定を読み込む
func LoadConfig(configPath string) (*Config, error) {
	// デフォルト設定を用意
	config := DefaultConfig()

	// ファイルが存在しない場合はデフォルト設定を保存して返す
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := SaveConfig(configPath, config); err != nil {
			return config, err
		}
		return config, nil
	}

	return ReadConfig(configPath)
}

// ReadConfig は既存の設定ファイルを読み込んで検証する。ファイルは作らない
func ReadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()
	if _, err := toml.DecodeFile(configPath, config); err != nil {
		return nil, fmt.Errorf("設定ファイルの解析に失敗しました: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("設定値が不正です: %w", err)
	}
	return config, nil
}

// SaveConfig は設定をTOMLファイルに保存する
func SaveConfig(configPath string, config *Config) error {
	// 設定ディレクトリの作成
	configDir := filepath.Dir(configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return err
	}

	// ファイルを開く（なければ作成）
	f, err := os.Create(configPath)
	if err != nil {
		return err
	}
	defer f.Close()

	// TOML形式でエンコードして書き込み
	encoder := toml.NewEncoder(f)
	return encoder.Encode(config)
}
