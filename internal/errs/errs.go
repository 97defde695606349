// Package errs はジェスチャーエンジンのエラー種別を定義する。
//
// 各パッケージは下位のエラーを fmt.Errorf("%w: %w", errs.ErrXxx, err) で包み、
// 呼び出し側は errors.Is で種別を判定する。
package errs

import "errors"

var (
	// ErrCapability は指の本数や面のサイズが仮想デバイスで表現できない
	ErrCapability = errors.New("capability negotiation failed")
	// ErrDeviceAcquisition は物理デバイスが存在しない、他プロセスが掴んでいる、権限が無い
	ErrDeviceAcquisition = errors.New("physical device acquisition failed")
	// ErrDeviceCreation は OS が仮想デバイスの登録を拒否した
	ErrDeviceCreation = errors.New("virtual device creation failed")
	// ErrPublish は仮想デバイスへのフレーム書き込みに失敗した（現在のジェスチャーのみ致命的）
	ErrPublish = errors.New("touch frame publish failed")
	// ErrDeviceLost は物理または仮想デバイスが消えた（プロセス全体で致命的）
	ErrDeviceLost = errors.New("device lost")
)

// ExitCode はエラー種別からプロセスの終了ステータスを決める
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrDeviceLost):
		return 2
	default:
		return 1
	}
}
