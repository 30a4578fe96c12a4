package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap/zapcore"

	"moneymate-trader/infrastructure/logger"
)

// Watcher 监听配置文件变化，合并连续写入后重新加载并回调。
// 监听的是所在目录，编辑器以 rename 方式保存也能捕获。
type Watcher struct {
	path     string
	cooldown time.Duration
	log      *logger.Logger
	fsw      *fsnotify.Watcher

	// load 便于测试替换，默认 LoadWithEnvOverrides。
	load func(string) (AppConfig, error)

	mu       sync.Mutex
	started  bool
	stopChan chan struct{}
	doneChan chan struct{}
}

// NewWatcher 创建监听器，cooldown 为合并写入事件的静默时间。
func NewWatcher(path string, cooldown time.Duration, log *logger.Logger) (*Watcher, error) {
	if path == "" {
		return nil, ErrInvalid("config path is required for watching")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if cooldown <= 0 {
		cooldown = 200 * time.Millisecond
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Watcher{
		path:     abs,
		cooldown: cooldown,
		log:      log,
		fsw:      fsw,
		load:     LoadWithEnvOverrides,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}, nil
}

// Path 被监听的配置文件绝对路径。
func (w *Watcher) Path() string { return w.path }

// Start 开始监听；onUpdate 只会收到通过校验的配置。
func (w *Watcher) Start(ctx context.Context, onUpdate func(AppConfig)) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return fmt.Errorf("watcher already started")
	}
	if err := w.fsw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch config dir: %w", err)
	}
	w.started = true
	go w.watch(ctx, onUpdate)
	return nil
}

// Stop 停止监听并释放 fsnotify 资源，可重复调用。
func (w *Watcher) Stop() error {
	w.mu.Lock()
	started := w.started
	select {
	case <-w.stopChan:
	default:
		close(w.stopChan)
	}
	w.mu.Unlock()

	if started {
		select {
		case <-w.doneChan:
		case <-time.After(time.Second):
		}
	}
	return w.fsw.Close()
}

func (w *Watcher) watch(ctx context.Context, onUpdate func(AppConfig)) {
	defer close(w.doneChan)

	var (
		timer  *time.Timer
		timerC <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.cooldown)
			} else {
				timer.Reset(w.cooldown)
			}
			timerC = timer.C
		case <-timerC:
			timerC = nil
			w.reload(onUpdate)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.LogEvent(zapcore.WarnLevel, "config_reload", map[string]interface{}{
				"path":  w.path,
				"error": err.Error(),
			})
		}
	}
}

func (w *Watcher) reload(onUpdate func(AppConfig)) {
	cfg, err := w.load(w.path)
	if err != nil {
		// 保留旧配置继续运行
		w.log.LogEvent(zapcore.WarnLevel, "config_reload", map[string]interface{}{
			"path":  w.path,
			"error": err.Error(),
		})
		return
	}
	w.log.LogEvent(zapcore.InfoLevel, "config_reload", map[string]interface{}{
		"path":    w.path,
		"baseURL": cfg.Service.BaseURL,
	})
	if onUpdate != nil {
		onUpdate(cfg)
	}
}
