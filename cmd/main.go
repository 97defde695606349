package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/char5742/trackswipe/internal/capability"
	"github.com/char5742/trackswipe/internal/config"
	"github.com/char5742/trackswipe/internal/errs"
	"github.com/char5742/trackswipe/internal/features"
	"github.com/char5742/trackswipe/internal/logger"
	"github.com/char5742/trackswipe/internal/service"
)

const uinputPath = "/dev/uinput"

// 仮想デバイス作成後、コンポジタが認識するまでの待ち時間
const settleDelay = 200 * time.Millisecond

var (
	configPath  string
	devicePath  string
	fingers     uint8
	trigger     uint16
	sensitivity float64
	width       uint32
	height      uint32
	noGrab      bool
	logLevel    string
	listDevices bool
)

var rootCmd = &cobra.Command{
	Use:   "trackswipe",
	Short: "マウスのボタンとドラッグを複数本指のトラックパッドスワイプに変換します",
	Long: `trackswipe はトリガーボタンを押している間のマウスの移動を、
uinput で作成した仮想マルチタッチトラックパッド上の複数本指スワイプとして出力します。
ワークスペース切り替えなどのジェスチャーをマウスだけで行えます。`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVarP(&configPath, "config", "c", "", "設定ファイルのパス (指定しない場合はデフォルトパスを使用)")
	flags.StringVarP(&devicePath, "device", "d", "", "物理デバイスのパス (/dev/input/eventN)")
	flags.Uint8VarP(&fingers, "fingers", "f", 0, "スワイプする指の本数")
	flags.Uint16VarP(&trigger, "trigger", "t", 0, "ジェスチャーを開始するボタンのキーコード")
	flags.Float64VarP(&sensitivity, "sensitivity", "s", 0, "移動量の倍率")
	flags.Uint32Var(&width, "width", 0, "仮想タッチパッドの幅")
	flags.Uint32Var(&height, "height", 0, "仮想タッチパッドの高さ")
	flags.BoolVar(&noGrab, "no-grab", false, "ジェスチャー中も物理デバイスを専有しない")
	flags.StringVar(&logLevel, "log-level", "", "ログレベル (debug, info, warn, error)")
	flags.BoolVar(&listDevices, "list-devices", false, "利用できるマウスを一覧表示して終了します")
}

func main() {
	err := rootCmd.Execute()
	if err != nil {
		logger.Error(err)
	}
	os.Exit(errs.ExitCode(err))
}

func run(cmd *cobra.Command, args []string) error {
	if logLevel != "" {
		logger.SetLevel(logLevel)
	}
	if listDevices {
		return printDevices()
	}

	cfgPath, err := resolveConfigPath()
	if err != nil {
		return err
	}
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("設定ファイルの読み込みに失敗しました: %w", err)
	}
	logger.Info("設定ファイルを読み込みました", "path", cfgPath)
	applyFlags(cmd, cfg)
	if logLevel == "" {
		logger.SetLevel(cfg.Log.Level)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("設定値が不正です: %w", err)
	}

	caps, err := cfg.Capabilities()
	if err != nil {
		return err
	}

	path := cfg.Device.Path
	if path == "" {
		dev, err := features.FindMouse(cfg.Device.PreferredName)
		if err != nil {
			return err
		}
		path = dev.Path
	}

	mouse, err := features.OpenMouse(path, cfg.Device.Grab)
	if err != nil {
		return err
	}
	defer mouse.Close()

	name := []byte(cfg.TouchPad.Name)
	pad, err := features.CreateTouchPad(uinputPath, name, caps)
	if err != nil {
		return err
	}
	logger.Info("仮想タッチパッドを作成しました", "name", cfg.TouchPad.Name, "slots", caps.Slots, "width", caps.Width(), "height", caps.Height())
	time.Sleep(settleDelay)

	newPad := func(caps capability.Set) (features.TouchPad, error) {
		return features.CreateTouchPad(uinputPath, name, caps)
	}
	svc := service.NewGestureService(cfg, mouse, pad, newPad)
	defer func() {
		if err := svc.TouchPad().Close(); err != nil {
			logger.Warn("仮想タッチパッドの解放に失敗しました", "err", err)
		}
	}()

	watcher, err := config.NewWatcher(cfgPath, func(next *config.Config) {
		// 起動時のフラグは再読み込み後も優先する
		applyFlags(cmd, next)
		if err := next.Validate(); err != nil {
			logger.Error("設定値が不正です", "err", err)
			return
		}
		svc.UpdateConfig(next)
	})
	if err != nil {
		logger.Warn("設定ファイルを監視できません", "err", err)
	} else {
		watcher.Start()
		defer watcher.Stop()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return svc.Run(ctx)
}

func resolveConfigPath() (string, error) {
	if configPath != "" {
		return configPath, nil
	}
	configDir, err := config.GetDefaultConfigDir()
	if err != nil {
		return "", fmt.Errorf("設定ディレクトリが分かりません: %w", err)
	}
	return filepath.Join(configDir, "config.toml"), nil
}

// applyFlags は明示されたフラグで設定を上書きする
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("device") {
		cfg.Device.Path = devicePath
	}
	if flags.Changed("fingers") {
		cfg.Gesture.FingerCount = fingers
	}
	if flags.Changed("trigger") {
		cfg.Gesture.TriggerButton = trigger
	}
	if flags.Changed("sensitivity") {
		cfg.Gesture.Sensitivity = sensitivity
	}
	if flags.Changed("width") {
		cfg.TouchPad.Width = width
	}
	if flags.Changed("height") {
		cfg.TouchPad.Height = height
	}
	if noGrab {
		cfg.Device.Grab = false
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
}

func printDevices() error {
	devices, err := features.ScanDevices()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	pointers, err := features.ListPointerDevices()
	if err != nil {
		logger.Warn("evdev デバイスの列挙に失敗しました", "err", err)
	}

	rows := [][]string{}
	for _, d := range devices {
		rows = append(rows, []string{d.Type.String(), d.Name, d.Path})
	}
	for _, d := range pointers {
		rows = append(rows, []string{"pointer", d.Name, d.Path})
	}
	if len(rows) == 0 {
		fmt.Println("入力デバイスが見つかりませんでした")
		return nil
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("TYPE", "NAME", "PATH").
		Rows(rows...)
	fmt.Println(t)
	return nil
}
