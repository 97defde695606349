package consts

// uinput デバイスの IOCTL（uinput.h から）
const (
	MaxNameSize = 80         // デバイス名の最大サイズ
	DevCreate   = 0x5501     // デバイス作成用のIOCTL
	DevDestroy  = 0x5502     // デバイス破棄用のIOCTL
	DevSetup    = 0x405c5503 // UI_DEV_SETUP (struct uinput_setup)
	AbsSetup    = 0x401c5504 // UI_ABS_SETUP (struct uinput_abs_setup)
	SetEvBit    = 0x40045564 // イベントビット設定用のIOCTL
	SetKeyBit   = 0x40045565 // キービット設定用のIOCTL
	SetAbsBit   = 0x40045567 // 絶対座標ビット設定用のIOCTL
	SetPropBit  = 0x4004556e // プロパティビット設定用のIOCTL
	BusUsb      = 0x03       // USBバスタイプ
)

// evdev 側の IOCTL とプロパティ
const (
	EVIOCGRAB   = 0x40044590 // デバイスの排他制御用のIOCTL
	EVIOCGKEY   = 0x80604518 // 押下中キーのビットマップ取得 (KEY_MAX+1 ビット)
	KeyMax      = 0x2ff
	PropPointer = 0x00 // ポインターデバイスプロパティ
)
