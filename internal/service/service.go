// Package service はジェスチャー認識のイベントループを動かす。
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/char5742/trackswipe/internal/capability"
	"github.com/char5742/trackswipe/internal/config"
	"github.com/char5742/trackswipe/internal/errs"
	"github.com/char5742/trackswipe/internal/features"
	"github.com/char5742/trackswipe/internal/gesture"
	"github.com/char5742/trackswipe/internal/logger"
)

// PadFactory は機能が変わったときに仮想タッチパッドを作り直す
type PadFactory func(caps capability.Set) (features.TouchPad, error)

// GestureService はジェスチャー認識サービスを管理する構造体
type GestureService struct {
	cfg          *config.Config
	mouse        features.Mouse
	touchPad     features.TouchPad
	newPad       PadFactory
	machine      *gesture.Machine
	updateConfig chan *config.Config
	// pending はジェスチャー中に届いた設定。Idle に戻ったら適用する
	pending *config.Config

	statusMutex sync.RWMutex
	running     bool
}

// NewGestureService は新しいジェスチャー認識サービスを作成する。
// mouse と pad の解放は呼び出し側が行う
func NewGestureService(cfg *config.Config, mouse features.Mouse, pad features.TouchPad, newPad PadFactory) *GestureService {
	return &GestureService{
		cfg:          cfg,
		mouse:        mouse,
		touchPad:     pad,
		newPad:       newPad,
		machine:      gesture.New(cfg.Settings(), pad, mouse),
		updateConfig: make(chan *config.Config, 1),
	}
}

// UpdateConfig は設定を更新する。Run の外のゴルーチンから呼んでよい
func (s *GestureService) UpdateConfig(cfg *config.Config) {
	select {
	case s.updateConfig <- cfg:
		// 設定更新チャネルに送信成功
	default:
		// チャネルがブロックされている場合は古い設定を破棄して新しい設定を送信
		select {
		case <-s.updateConfig:
		default:
		}
		s.updateConfig <- cfg
	}
}

// IsRunning はサービスが実行中かどうかを返す
func (s *GestureService) IsRunning() bool {
	s.statusMutex.RLock()
	defer s.statusMutex.RUnlock()
	return s.running
}

// Stats はジェスチャーの統計を返す。Run の終了後に呼ぶこと
func (s *GestureService) Stats() gesture.Stats {
	return s.machine.Stats()
}

// TouchPad は現在使っている仮想タッチパッドを返す。設定変更で作り直されることがある
func (s *GestureService) TouchPad() features.TouchPad {
	return s.touchPad
}

// Run は ctx が終わるかデバイスが失われるまでイベントを処理する。
// ctx の終了では nil、デバイス喪失では errs.ErrDeviceLost を包んだエラーを返す。
// どちらの場合もジェスチャー中なら指を離してから戻る
func (s *GestureService) Run(ctx context.Context) error {
	s.statusMutex.Lock()
	if s.running {
		s.statusMutex.Unlock()
		return fmt.Errorf("サービスは既に実行中です")
	}
	s.running = true
	s.statusMutex.Unlock()

	defer func() {
		s.statusMutex.Lock()
		s.running = false
		s.statusMutex.Unlock()
	}()

	events, readErrs := s.mouse.Stream(ctx)
	logger.Info("ジェスチャー認識を開始しました",
		"device", s.mouse.Name(),
		"fingers", s.cfg.Gesture.FingerCount,
		"trigger", s.cfg.Gesture.TriggerButton)

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return nil

		case ev, ok := <-events:
			if !ok {
				// 読み取りゴルーチンはエラーを送ってからチャネルを閉じる
				err := <-readErrs
				if err == nil && ctx.Err() != nil {
					s.shutdown()
					return nil
				}
				if err == nil {
					err = fmt.Errorf("%w: event stream closed", errs.ErrDeviceLost)
				}
				return s.fail(err)
			}
			if err := s.machine.Handle(ev); err != nil {
				if errors.Is(err, errs.ErrDeviceLost) {
					return s.fail(err)
				}
				logger.Warn("フレームの送信に失敗したためジェスチャーを中断しました", "err", err)
			}
			if s.pending != nil && !s.machine.Active() {
				cfg := s.pending
				s.pending = nil
				s.applyConfig(cfg)
			}

		case cfg := <-s.updateConfig:
			if s.machine.Active() {
				logger.Debug("ジェスチャー中のため設定の適用を保留します")
				s.pending = cfg
				continue
			}
			s.applyConfig(cfg)
		}
	}
}

func (s *GestureService) fail(err error) error {
	logger.Error("デバイスが失われました", "err", err)
	if cerr := s.machine.Cancel(); cerr != nil {
		logger.Debug("指を離すフレームを送れませんでした", "err", cerr)
	}
	if !errors.Is(err, errs.ErrDeviceLost) {
		return fmt.Errorf("%w: %w", errs.ErrDeviceLost, err)
	}
	return err
}

func (s *GestureService) shutdown() {
	if err := s.machine.Cancel(); err != nil {
		logger.Warn("終了時に指を離せませんでした", "err", err)
	}
	st := s.machine.Stats()
	logger.Info("ジェスチャー認識サービスを停止しました",
		"started", st.Started,
		"completed", st.Completed,
		"cancelled", st.Cancelled,
		"frames", st.Frames)
}

// applyConfig は Idle のときに新しい設定を反映する。
// 仮想デバイスの機能が変わる場合は作り直し、失敗したら現在の設定を維持する
func (s *GestureService) applyConfig(cfg *config.Config) {
	caps, err := cfg.Capabilities()
	if err != nil {
		logger.Error("新しい設定は仮想デバイスで表現できません。現在の設定を維持します", "err", err)
		return
	}

	pad := s.touchPad
	if !caps.Equal(pad.Capabilities()) {
		if s.newPad == nil {
			logger.Warn("仮想デバイスを作り直せないため設定を反映しません")
			return
		}
		next, err := s.newPad(caps)
		if err != nil {
			logger.Error("仮想デバイスの再作成に失敗しました。現在の設定を維持します", "err", err)
			return
		}
		pad = next
	}

	if err := s.machine.Reconfigure(cfg.Settings(), pad); err != nil {
		// Idle でしか呼ばれない
		logger.Error("設定の反映に失敗しました", "err", err)
		if pad != s.touchPad {
			_ = pad.Close()
		}
		return
	}
	if pad != s.touchPad {
		if err := s.touchPad.Close(); err != nil {
			logger.Warn("古い仮想デバイスの解放に失敗しました", "err", err)
		}
		s.touchPad = pad
		logger.Info("仮想デバイスを作り直しました", "slots", caps.Slots, "width", caps.Width(), "height", caps.Height())
	}
	if cfg.Device.Path != s.cfg.Device.Path || cfg.Device.PreferredName != s.cfg.Device.PreferredName {
		logger.Warn("物理デバイスの変更は再起動後に反映されます")
	}

	logger.SetLevel(cfg.Log.Level)
	s.cfg = cfg
	logger.Info("設定を更新しました",
		"fingers", cfg.Gesture.FingerCount,
		"trigger", cfg.Gesture.TriggerButton,
		"sensitivity", cfg.Gesture.Sensitivity)
}
