package features

import (
	"os"
	"unsafe"

	"github.com/char5742/trackswipe/internal/consts"
	"github.com/char5742/trackswipe/internal/utils"
)

// pressedKeys は EVIOCGKEY でカーネルが保持する押下中のキーを取得する
func pressedKeys(file *os.File) ([]uint16, error) {
	keyBits := make([]byte, consts.KeyMax/8+1)
	if err := utils.IOCtlPtr(file, consts.EVIOCGKEY, unsafe.Pointer(&keyBits[0])); err != nil {
		return nil, err
	}
	return decodeKeyBits(keyBits), nil
}

func decodeKeyBits(keyBits []byte) []uint16 {
	var pressed []uint16
	for keyCode := 0; keyCode <= consts.KeyMax && keyCode/8 < len(keyBits); keyCode++ {
		byteIndex := keyCode / 8
		bitIndex := keyCode % 8
		if (keyBits[byteIndex] & (1 << bitIndex)) != 0 {
			pressed = append(pressed, uint16(keyCode))
		}
	}
	return pressed
}
