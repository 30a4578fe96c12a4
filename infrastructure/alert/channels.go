package alert

import (
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"go.uber.org/zap/zapcore"

	"moneymate-trader/infrastructure/logger"
)

// LogChannel 把提示写入结构化日志。
type LogChannel struct {
	logger *logger.Logger
	name   string
}

// NewLogChannel 创建日志通道
func NewLogChannel(name string, l *logger.Logger) *LogChannel {
	if l == nil {
		l = logger.NewNop()
	}
	return &LogChannel{logger: l, name: name}
}

// Send 输出为 notice 事件
func (c *LogChannel) Send(n Notice) error {
	fields := map[string]interface{}{
		"noticeId": n.ID,
		"flow":     n.Flow,
		"action":   n.Action,
		"message":  n.Message,
	}
	for k, v := range n.Fields {
		fields[k] = v
	}
	level := zapcore.InfoLevel
	switch n.Level {
	case LevelWarning:
		level = zapcore.WarnLevel
	case LevelError:
		level = zapcore.ErrorLevel
	}
	c.logger.LogEvent(level, "notice", fields)
	return nil
}

// Name 返回通道名称
func (c *LogChannel) Name() string {
	return c.name
}

// ConsoleChannel 终端通道（彩色输出），用于一次性 CLI 命令。
type ConsoleChannel struct {
	name string
	out  io.Writer
	mu   sync.Mutex
}

// NewConsoleChannel 创建终端通道，out 为空时写 stderr。
func NewConsoleChannel(name string, out io.Writer) *ConsoleChannel {
	if out == nil {
		out = os.Stderr
	}
	return &ConsoleChannel{name: name, out: out}
}

// Send 输出带颜色的提示
func (c *ConsoleChannel) Send(n Notice) error {
	colorReset := "\033[0m"
	colorCode := colorReset
	switch n.Level {
	case LevelInfo:
		colorCode = "\033[32m"
	case LevelWarning:
		colorCode = "\033[33m"
	case LevelError:
		colorCode = "\033[31m"
	}

	msg := fmt.Sprintf("%s[%s]%s %s", colorCode, n.Level, colorReset, n.Message)
	if n.Action != "" {
		msg = fmt.Sprintf("%s[%s]%s %s: %s", colorCode, n.Level, colorReset, n.Action, n.Message)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintln(c.out, msg)
	return err
}

// Name 返回通道名称
func (c *ConsoleChannel) Name() string {
	return c.name
}

// Board 内存提示板，交互式界面从这里渲染并关闭提示。
type Board struct {
	name    string
	limit   int
	notices []Notice
	mu      sync.RWMutex
}

// NewBoard 创建提示板，limit<=0 时保留 50 条。
func NewBoard(name string, limit int) *Board {
	if limit <= 0 {
		limit = 50
	}
	return &Board{name: name, limit: limit}
}

// Send 追加提示；同一动作的旧提示被替换。
func (b *Board) Send(n Notice) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	kept := b.notices[:0]
	for _, old := range b.notices {
		if n.Action != "" && old.Flow == n.Flow && old.Action == n.Action {
			continue
		}
		kept = append(kept, old)
	}
	b.notices = append(kept, n)
	if len(b.notices) > b.limit {
		b.notices = b.notices[len(b.notices)-b.limit:]
	}
	return nil
}

// Name 返回通道名称
func (b *Board) Name() string {
	return b.name
}

// Active 返回未关闭的提示，按时间排序。
func (b *Board) Active() []Notice {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Notice, len(b.notices))
	copy(out, b.notices)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// Dismiss 关闭一条提示，返回是否存在。
func (b *Board) Dismiss(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, n := range b.notices {
		if n.ID == id {
			b.notices = append(b.notices[:i], b.notices[i+1:]...)
			return true
		}
	}
	return false
}

// DismissAction 关闭某动作的全部提示。
func (b *Board) DismissAction(flow, action string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	kept := b.notices[:0]
	for _, n := range b.notices {
		if n.Flow == flow && n.Action == action {
			continue
		}
		kept = append(kept, n)
	}
	b.notices = kept
}

// Clear 清空提示板
func (b *Board) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notices = nil
}
