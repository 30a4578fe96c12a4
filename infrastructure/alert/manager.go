package alert

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"moneymate-trader/tradeerr"
)

// Level 提示级别
type Level string

const (
	LevelInfo    Level = "INFO"
	LevelWarning Level = "WARNING"
	LevelError   Level = "ERROR"
)

// Notice 绑定到某个用户动作的可关闭提示。
type Notice struct {
	ID        string
	Level     Level
	Flow      string
	Action    string // pause、sell-AAPL、confirm ...
	Message   string
	Timestamp time.Time
	Fields    map[string]interface{}
}

// Channel 提示输出通道
type Channel interface {
	Send(n Notice) error
	Name() string
}

// Manager 提示管理器，向所有通道广播，并对重复提示限流。
type Manager struct {
	channels []Channel
	throttle *Throttler
	mu       sync.RWMutex
}

// Throttler 提示限流器
type Throttler struct {
	lastSent map[string]time.Time
	interval time.Duration
	mu       sync.Mutex
}

// NewThrottler 创建限流器
func NewThrottler(interval time.Duration) *Throttler {
	return &Throttler{
		lastSent: make(map[string]time.Time),
		interval: interval,
	}
}

// Allow 检查是否允许发送（限流）
func (t *Throttler) Allow(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	lastTime, exists := t.lastSent[key]
	if !exists || now.Sub(lastTime) >= t.interval {
		t.lastSent[key] = now
		return true
	}
	return false
}

// Reset 重置某个 key，动作重试成功后允许再次提示同样的失败。
func (t *Throttler) Reset(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.lastSent, key)
}

// Clear 清空所有限流记录
func (t *Throttler) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastSent = make(map[string]time.Time)
}

// NewManager 创建提示管理器
func NewManager(channels []Channel, throttleInterval time.Duration) *Manager {
	return &Manager{
		channels: channels,
		throttle: NewThrottler(throttleInterval),
	}
}

func throttleKey(n Notice) string {
	return fmt.Sprintf("%s:%s:%s:%s", n.Level, n.Flow, n.Action, n.Message)
}

// Send 广播提示。Manager 为 nil 时静默忽略，便于测试中不注入提示。
func (m *Manager) Send(n Notice) error {
	if m == nil {
		return nil
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if !m.throttle.Allow(throttleKey(n)) {
		return nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var lastErr error
	successCount := 0
	for _, ch := range m.channels {
		if err := ch.Send(n); err != nil {
			lastErr = fmt.Errorf("channel %s failed: %w", ch.Name(), err)
		} else {
			successCount++
		}
	}
	if successCount == 0 && lastErr != nil {
		return lastErr
	}
	return nil
}

// ActionFailed 把一次动作失败转换为提示；级别随错误类别变化。
func (m *Manager) ActionFailed(flow string, err error) error {
	if err == nil {
		return nil
	}
	action := tradeerr.ActionOf(err)
	level := LevelError
	switch tradeerr.KindOf(err) {
	case tradeerr.KindValidation, tradeerr.KindConflict, tradeerr.KindPreconditionFailed:
		level = LevelWarning
	}
	var te *tradeerr.Error
	msg := err.Error()
	if errors.As(err, &te) && te.Action != "" {
		// 动作名单独展示，消息不再重复
		cp := *te
		cp.Action = ""
		msg = cp.Error()
	}
	return m.Send(Notice{
		Level:   level,
		Flow:    flow,
		Action:  action,
		Message: msg,
		Fields:  map[string]interface{}{"kind": tradeerr.KindOf(err).String()},
	})
}

// Info 发送一条普通提示。
func (m *Manager) Info(flow, action, message string) error {
	return m.Send(Notice{Level: LevelInfo, Flow: flow, Action: action, Message: message})
}

// Warn 发送一条警告提示，例如变更成功但刷新失败。
func (m *Manager) Warn(flow, action, message string) error {
	return m.Send(Notice{Level: LevelWarning, Flow: flow, Action: action, Message: message})
}

// ActionSucceeded 清除该动作的限流记录，使后续同样的失败能再次提示。
func (m *Manager) ActionSucceeded(flow, action string) {
	if m == nil {
		return
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ch := range m.channels {
		if b, ok := ch.(*Board); ok {
			b.DismissAction(flow, action)
		}
	}
	prefix := ":" + flow + ":" + action + ":"
	m.throttle.mu.Lock()
	for k := range m.throttle.lastSent {
		if strings.Contains(k, prefix) {
			delete(m.throttle.lastSent, k)
		}
	}
	m.throttle.mu.Unlock()
}

// AddChannel 添加通道
func (m *Manager) AddChannel(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels = append(m.channels, ch)
}

// RemoveChannel 移除通道
func (m *Manager) RemoveChannel(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	filtered := make([]Channel, 0, len(m.channels))
	for _, ch := range m.channels {
		if ch.Name() != name {
			filtered = append(filtered, ch)
		}
	}
	m.channels = filtered
}

// GetChannels 获取所有通道名
func (m *Manager) GetChannels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.channels))
	for _, ch := range m.channels {
		names = append(names, ch.Name())
	}
	return names
}

// ResetThrottle 重置限流器
func (m *Manager) ResetThrottle() {
	m.throttle.Clear()
}
