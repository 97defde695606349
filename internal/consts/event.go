package consts

// イベントタイプの定数（input-event-codes.hより）
const (
	Syn = 0x00 // 同期イベント
	Key = 0x01 // キーイベント
	Abs = 0x03 // 絶対座標イベント

	SynReport = 0 // イベント報告の同期

	AbsX            = 0x00 // X軸の絶対座標
	AbsY            = 0x01 // Y軸の絶対座標
	AbsMtSlot       = 0x2f // マルチタッチスロット
	AbsMtPositionX  = 0x35 // マルチタッチのX座標
	AbsMtPositionY  = 0x36 // マルチタッチのY座標
	AbsMtTrackingId = 0x39 // タッチ追跡用ID

	MouseBtnLeft     = 0x110 // マウス左ボタン
	MouseBtnForward  = 0x115 // MX Master 系のジェスチャーボタン
	BtnToolFinger    = 0x145 // 1本指
	BtnToolQuintTap  = 0x148 // 5本指
	BtnTouch         = 0x14a // タッチイベント
	BtnToolDoubleTap = 0x14d // 2本指
	BtnToolTripleTap = 0x14e // 3本指
	BtnToolQuadTap   = 0x14f // 4本指
)
