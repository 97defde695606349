package utils

import (
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// IOCtl は整数引数の ioctl を発行する
func IOCtl(f *os.File, request uintptr, arg uintptr) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), request, arg)
	if errno != 0 {
		return errno
	}
	return nil
}

// IOCtlPtr は構造体やバッファへのポインタを渡す ioctl を発行する
func IOCtlPtr(f *os.File, request uintptr, ptr unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), request, uintptr(ptr))
	if errno != 0 {
		return errno
	}
	return nil
}
