package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/char5742/trackswipe/internal/logger"
)

// DefaultDebounce はエディタの連続書き込みをまとめる待ち時間
const DefaultDebounce = 500 * time.Millisecond

// Watcher は設定ファイルの変更を監視し、正しく解析できた設定だけを通知する
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	onChange func(*Config)
	debounce time.Duration
	stopChan chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewWatcher は path を監視する Watcher を作る。
// エディタは置き換え保存をするのでファイルではなくディレクトリを監視する
func NewWatcher(path string, onChange func(*Config)) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		watcher.Close()
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, err
	}
	return &Watcher{
		path:     abs,
		watcher:  watcher,
		onChange: onChange,
		debounce: DefaultDebounce,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Start は監視ゴルーチンを起動する
func (w *Watcher) Start() {
	logger.Info("設定ファイルの監視を開始します", "path", w.path)
	go w.watchEvents()
}

// Stop は監視を停止する
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopChan)
		w.watcher.Close()
	})
}

// Done は監視ゴルーチンが終了すると閉じられる
func (w *Watcher) Done() <-chan struct{} {
	return w.done
}

func (w *Watcher) watchEvents() {
	defer close(w.done)

	// 一時的なファイルシステムイベントを収集してバッチ処理するためのしくみ
	eventTimer := time.NewTimer(w.debounce)
	eventTimer.Stop()
	pendingReload := false

	for {
		select {
		case <-w.stopChan:
			eventTimer.Stop()
			return

		case <-eventTimer.C:
			if pendingReload {
				pendingReload = false
				w.reload()
			}

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			logger.Debug("設定ファイルイベント", "op", event.Op.String(), "name", event.Name)
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if !pendingReload {
				pendingReload = true
				eventTimer.Reset(w.debounce)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("設定ファイル監視エラー", "err", err)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := ReadConfig(w.path)
	if err != nil {
		// 不正な設定はエンジンへ渡さない
		logger.Error("設定ファイルの再読み込みに失敗しました。現在の設定を維持します", "path", w.path, "err", err)
		return
	}
	logger.Info("設定ファイルを再読み込みしました", "path", w.path)
	w.onChange(cfg)
}
