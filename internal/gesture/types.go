package gesture

// Axis は相対移動の軸
type Axis uint8

const (
	AxisX Axis = iota
	AxisY
)

// ButtonID は evdev のキーコード
type ButtonID uint16

// PhysicalEvent は物理デバイスから届くイベント。Motion, Button, Sync のいずれか
type PhysicalEvent interface {
	physicalEvent()
}

// Motion は相対移動量（デバイス単位）
type Motion struct {
	Axis  Axis
	Delta int32
}

// Button はボタンの押下／解放
type Button struct {
	Code    ButtonID
	Pressed bool
}

// Sync はイベントバッチの終端 (SYN_REPORT)
type Sync struct{}

func (Motion) physicalEvent() {}
func (Button) physicalEvent() {}
func (Sync) physicalEvent()   {}

// LiftTrackingID は指を離したことを示す追跡ID
const LiftTrackingID int32 = -1

// Contact はフレーム内の1本の指
type Contact struct {
	Slot       uint8
	TrackingID int32
	X          uint32
	Y          uint32
}

// TouchFrame は SYN_REPORT 1回分のスロット更新
type TouchFrame []Contact

// IsLift は全ての指が離されたフレームかどうか
func (f TouchFrame) IsLift() bool {
	for _, c := range f {
		if c.TrackingID != LiftTrackingID {
			return false
		}
	}
	return true
}

// LiftFrame は n 本分の指を離すフレームを作る
func LiftFrame(n int) TouchFrame {
	frame := make(TouchFrame, n)
	for i := range frame {
		frame[i] = Contact{Slot: uint8(i), TrackingID: LiftTrackingID}
	}
	return frame
}

// Point は仮想面上の浮動小数点座標
type Point struct {
	X float64
	Y float64
}

// State は Idle か *Active
type State interface {
	gestureState()
}

// Idle はジェスチャーしていない状態
type Idle struct{}

// Active はトリガーボタンが押されている間の状態
type Active struct {
	Origin      Point
	Cursor      Point
	TrackingIDs []int32

	// 最後に送信した整数座標
	lastX, lastY uint32
}

func (Idle) gestureState()    {}
func (*Active) gestureState() {}

// Settings はジェスチャー1回分に固定される設定のスナップショット
type Settings struct {
	FingerCount   uint8
	TriggerButton ButtonID
	Sensitivity   float64
	XMult         float64
	YMult         float64
	Width         uint32
	Height        uint32
	// FingerSpacing は指同士の X 方向の間隔。0 なら全指が同じ座標
	FingerSpacing uint32
	// Grab が真ならジェスチャー中だけ物理デバイスを専有する
	Grab bool
}
