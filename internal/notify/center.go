package notify

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Level 通知级别
type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
	LevelInfo    Level = "info"
)

// 默认容量和显示时长
const (
	DefaultCapacity = 100
	DefaultTTL      = 4 * time.Second
)

// Notification 一条短暂显示的通知
type Notification struct {
	ID        string    `json:"id"`
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Notifier 执行器发出通知用的接口
type Notifier interface {
	Success(format string, args ...interface{})
	Error(format string, args ...interface{})
	Info(format string, args ...interface{})
}

// Center 保存最近的通知，超过容量丢弃最旧的
type Center struct {
	mu       sync.RWMutex
	items    []Notification
	capacity int
	ttl      time.Duration
	logger   *logrus.Logger
	now      func() time.Time
}

// NewCenter 创建通知中心
func NewCenter(capacity int, ttl time.Duration, logger *logrus.Logger) *Center {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Center{
		items:    make([]Notification, 0, capacity),
		capacity: capacity,
		ttl:      ttl,
		logger:   logger,
		now:      time.Now,
	}
}

func (c *Center) Success(format string, args ...interface{}) {
	c.push(LevelSuccess, fmt.Sprintf(format, args...))
}

func (c *Center) Error(format string, args ...interface{}) {
	c.push(LevelError, fmt.Sprintf(format, args...))
}

func (c *Center) Info(format string, args ...interface{}) {
	c.push(LevelInfo, fmt.Sprintf(format, args...))
}

func (c *Center) push(level Level, message string) {
	now := c.now()
	n := Notification{
		ID:        uuid.NewString(),
		Level:     level,
		Message:   message,
		CreatedAt: now,
		ExpiresAt: now.Add(c.ttl),
	}

	c.mu.Lock()
	if len(c.items) >= c.capacity {
		copy(c.items, c.items[1:])
		c.items = c.items[:len(c.items)-1]
	}
	c.items = append(c.items, n)
	c.mu.Unlock()

	c.logger.WithField("level", string(level)).Debug(message)
}

// Active 尚未过期的通知，按时间顺序
func (c *Center) Active() []Notification {
	now := c.now()
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Notification, 0, len(c.items))
	for _, n := range c.items {
		if now.Before(n.ExpiresAt) {
			out = append(out, n)
		}
	}
	return out
}

// All 所有保留的通知
func (c *Center) All() []Notification {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Notification, len(c.items))
	copy(out, c.items)
	return out
}

// Clear 清空
func (c *Center) Clear() {
	c.mu.Lock()
	c.items = c.items[:0]
	c.mu.Unlock()
}
