package gesture

import (
	"errors"
	"fmt"
	"math"

	"github.com/char5742/trackswipe/internal/errs"
	"github.com/char5742/trackswipe/internal/logger"
)

// Emitter はタッチフレームを仮想デバイスへ書き出す
type Emitter interface {
	Publish(frame TouchFrame) error
}

// Grabber は物理デバイスの専有を切り替える
type Grabber interface {
	Grab() error
	Release() error
}

// ErrGestureActive はジェスチャー中に再設定しようとした
var ErrGestureActive = errors.New("gesture in progress")

// Machine はジェスチャーの状態を持ち、物理イベントからタッチフレームを作る。
// 単一のゴルーチンから使うこと
type Machine struct {
	settings Settings
	emitter  Emitter
	grabber  Grabber
	state    State

	// nextTrackingID はプロセス生存中単調に増える
	nextTrackingID int32
	grabbed        bool
	stats          Stats
}

// Stats はジェスチャーの統計
type Stats struct {
	Started   int
	Completed int
	Cancelled int
	Frames    int
}

// New は Idle 状態の Machine を作る。grabber が nil なら専有しない
func New(settings Settings, emitter Emitter, grabber Grabber) *Machine {
	return &Machine{
		settings: settings,
		emitter:  emitter,
		grabber:  grabber,
		state:    Idle{},
	}
}

// State は現在の状態を返す
func (m *Machine) State() State { return m.state }

// Active はジェスチャー中かどうか
func (m *Machine) Active() bool {
	_, ok := m.state.(*Active)
	return ok
}

// Settings は現在の設定を返す
func (m *Machine) Settings() Settings { return m.settings }

// Stats は統計を返す
func (m *Machine) Stats() Stats { return m.stats }

// Reconfigure は設定と出力先を差し替える。Idle のときだけ許される
func (m *Machine) Reconfigure(settings Settings, emitter Emitter) error {
	if m.Active() {
		return ErrGestureActive
	}
	m.settings = settings
	if emitter != nil {
		m.emitter = emitter
	}
	return nil
}

// Handle は物理イベントを1つ処理する。
// 書き込み失敗時は指を離して Idle に戻った上で errs.ErrPublish を包んだエラーを返す
func (m *Machine) Handle(ev PhysicalEvent) error {
	switch st := m.state.(type) {
	case Idle:
		return m.handleIdle(ev)
	case *Active:
		return m.handleActive(st, ev)
	default:
		panic(fmt.Sprintf("gesture: unknown state %T", st))
	}
}

func (m *Machine) handleIdle(ev PhysicalEvent) error {
	switch e := ev.(type) {
	case Button:
		if e.Code != m.settings.TriggerButton || !e.Pressed {
			return nil
		}
		return m.start()
	case Motion, Sync:
		return nil
	default:
		panic(fmt.Sprintf("gesture: unknown event %T", e))
	}
}

func (m *Machine) handleActive(st *Active, ev PhysicalEvent) error {
	switch e := ev.(type) {
	case Motion:
		m.accumulate(st, e)
		return nil
	case Sync:
		return m.flush(st)
	case Button:
		if e.Code != m.settings.TriggerButton || e.Pressed {
			return nil
		}
		if err := m.flush(st); err != nil {
			return err
		}
		return m.stop()
	default:
		panic(fmt.Sprintf("gesture: unknown event %T", e))
	}
}

// start は Idle から Active へ遷移し、指を面の中央に置く
func (m *Machine) start() error {
	s := m.settings
	if s.Grab && m.grabber != nil && !m.grabbed {
		if err := m.grabber.Grab(); err != nil {
			// 他プロセスが掴んでいる場合はスワイプを始めない
			logger.Warn("物理デバイスの専有に失敗したためジェスチャーを開始しません", "err", err)
			return nil
		}
		m.grabbed = true
	}

	center := Point{X: m.clampX(float64(s.Width / 2)), Y: float64(s.Height / 2)}
	st := &Active{
		Origin:      center,
		Cursor:      center,
		TrackingIDs: make([]int32, s.FingerCount),
	}
	for i := range st.TrackingIDs {
		st.TrackingIDs[i] = m.allocTrackingID()
	}
	st.lastX, st.lastY = pixel(st.Cursor)

	m.state = st
	m.stats.Started++
	logger.Debug("ジェスチャー開始", "fingers", s.FingerCount, "ids", st.TrackingIDs)

	return m.publish(m.frame(st))
}

// stop は指を離して Idle に戻る
func (m *Machine) stop() error {
	st, ok := m.state.(*Active)
	if !ok {
		return nil
	}
	err := m.emitter.Publish(LiftFrame(len(st.TrackingIDs)))
	m.reset()
	if err != nil {
		m.stats.Cancelled++
		return fmt.Errorf("%w: %w", errs.ErrPublish, err)
	}
	m.stats.Frames++
	m.stats.Completed++
	logger.Debug("ジェスチャー終了")
	return nil
}

// Cancel は状態に関わらず Idle に戻す。ジェスチャー中なら指を離すフレームを送り、
// その書き込みが失敗しても Idle には戻る
func (m *Machine) Cancel() error {
	st, ok := m.state.(*Active)
	if !ok {
		m.releaseGrab()
		return nil
	}
	err := m.emitter.Publish(LiftFrame(len(st.TrackingIDs)))
	m.reset()
	m.stats.Cancelled++
	if err != nil {
		return fmt.Errorf("%w: %w", errs.ErrPublish, err)
	}
	m.stats.Frames++
	logger.Debug("ジェスチャーを中断しました")
	return nil
}

func (m *Machine) accumulate(st *Active, e Motion) {
	s := m.settings
	switch e.Axis {
	case AxisX:
		st.Cursor.X = m.clampX(st.Cursor.X + float64(e.Delta)*s.Sensitivity*s.XMult)
	case AxisY:
		st.Cursor.Y = clampf(st.Cursor.Y+float64(e.Delta)*s.Sensitivity*s.YMult, float64(s.Height-1))
	}
}

// flush は整数座標が変わっていればフレームを送る
func (m *Machine) flush(st *Active) error {
	x, y := pixel(st.Cursor)
	if x == st.lastX && y == st.lastY {
		return nil
	}
	st.lastX, st.lastY = x, y
	return m.publish(m.frame(st))
}

// publish は失敗したら指を離して Idle に戻る
func (m *Machine) publish(frame TouchFrame) error {
	if err := m.emitter.Publish(frame); err != nil {
		if st, ok := m.state.(*Active); ok {
			// ベストエフォート
			_ = m.emitter.Publish(LiftFrame(len(st.TrackingIDs)))
		}
		m.reset()
		m.stats.Cancelled++
		return fmt.Errorf("%w: %w", errs.ErrPublish, err)
	}
	m.stats.Frames++
	return nil
}

func (m *Machine) reset() {
	m.state = Idle{}
	m.releaseGrab()
}

func (m *Machine) releaseGrab() {
	if !m.grabbed || m.grabber == nil {
		return
	}
	if err := m.grabber.Release(); err != nil {
		logger.Warn("物理デバイスの専有解除に失敗しました", "err", err)
	}
	m.grabbed = false
}

// frame は全ての指を同じ変位で並べる。i 番目の指は X 方向に FingerSpacing ずつずらす
func (m *Machine) frame(st *Active) TouchFrame {
	s := m.settings
	frame := make(TouchFrame, len(st.TrackingIDs))
	mid := float64(len(st.TrackingIDs)-1) / 2
	for i, id := range st.TrackingIDs {
		p := Point{
			X: clampf(st.Cursor.X+(float64(i)-mid)*float64(s.FingerSpacing), float64(s.Width-1)),
			Y: st.Cursor.Y,
		}
		x, y := pixel(p)
		frame[i] = Contact{Slot: uint8(i), TrackingID: id, X: x, Y: y}
	}
	return frame
}

func pixel(p Point) (uint32, uint32) {
	return uint32(p.X), uint32(p.Y)
}

func (m *Machine) allocTrackingID() int32 {
	id := m.nextTrackingID
	if m.nextTrackingID == math.MaxInt32 {
		// 前のジェスチャーの指は全て離されているので巻き戻してよい
		m.nextTrackingID = 0
	} else {
		m.nextTrackingID++
	}
	return id
}

// clampX は両端の指が面に収まる範囲にカーソルの X を制限する。
// この範囲内では全ての指が同じ変位で動く
func (m *Machine) clampX(x float64) float64 {
	s := m.settings
	half := float64(int(s.FingerCount)-1) / 2 * float64(s.FingerSpacing)
	lo, hi := half, float64(s.Width-1)-half
	if lo > hi {
		lo = float64(s.Width-1) / 2
		hi = lo
	}
	return math.Min(math.Max(x, lo), hi)
}

func clampf(v, hi float64) float64 {
	if v < 0 {
		return 0
	}
	if v > hi {
		return hi
	}
	return v
}
