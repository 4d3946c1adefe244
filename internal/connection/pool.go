package connection

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"airdrop/internal/config"
	"airdrop/internal/retry"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// DialFunc 创建节点客户端
type DialFunc func(ctx context.Context, url string) (*ethclient.Client, error)

// Pool 按优先级选择RPC节点，每个节点一个客户端和一个限速器
type Pool struct {
	nodes   []*node
	logger  *logrus.Logger
	dial    DialFunc
	retrier *retry.Retrier

	// 限流或连接失败后的冷却时间
	rateLimitCooldown time.Duration
	failureCooldown   time.Duration

	stopOnce sync.Once
	stop     chan struct{}
}

type node struct {
	cfg     config.NodeConfig
	limiter *rate.Limiter

	mu            sync.Mutex
	client        *ethclient.Client
	healthy       bool
	coolDownUntil time.Time
	lastCheck     time.Time
	lastError     string
	requests      uint64
	failures      uint64
}

// NodeStats 节点统计
type NodeStats struct {
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	Priority  int       `json:"priority"`
	Healthy   bool      `json:"healthy"`
	Connected bool      `json:"connected"`
	CoolDown  time.Time `json:"cool_down_until,omitempty"`
	LastCheck time.Time `json:"last_check,omitempty"`
	LastError string    `json:"last_error,omitempty"`
	Requests  uint64    `json:"requests"`
	Failures  uint64    `json:"failures"`
}

// NewPool 创建节点池，URL为空的节点忽略
func NewPool(nodes []*config.NodeConfig, logger *logrus.Logger) *Pool {
	p := &Pool{
		logger:            logger,
		dial:              ethclient.DialContext,
		retrier:           retry.NewRetrier(retry.HealthCheckRetryConfig, logger),
		rateLimitCooldown: 60 * time.Second,
		failureCooldown:   15 * time.Second,
		stop:              make(chan struct{}),
	}

	for _, n := range nodes {
		if n == nil || n.URL == "" {
			continue
		}
		limit := rate.Inf
		if n.RateLimit > 0 {
			limit = rate.Limit(n.RateLimit)
		}
		burst := n.Burst
		if burst < 1 {
			burst = 1
		}
		p.nodes = append(p.nodes, &node{
			cfg:     *n,
			limiter: rate.NewLimiter(limit, burst),
			healthy: true,
		})
	}

	sort.SliceStable(p.nodes, func(i, j int) bool {
		return p.nodes[i].cfg.Priority < p.nodes[j].cfg.Priority
	})
	return p
}

// WithDialer 替换拨号函数
func (p *Pool) WithDialer(dial DialFunc) *Pool {
	p.dial = dial
	return p
}

// Len 节点数量
func (p *Pool) Len() int {
	return len(p.nodes)
}

// Acquire 选择可用的最高优先级节点，等待其限速器放行后返回客户端
func (p *Pool) Acquire(ctx context.Context) (*ethclient.Client, string, error) {
	if len(p.nodes) == 0 {
		return nil, "", fmt.Errorf("没有配置RPC节点")
	}

	candidates := p.available()
	if len(candidates) == 0 {
		// 全部在冷却中时退回到冷却最早结束的节点
		candidates = []*node{p.soonestAvailable()}
	}

	var lastErr error
	for _, n := range candidates {
		client, err := n.connect(ctx, p.dial)
		if err != nil {
			lastErr = err
			p.markFailure(n, err)
			p.logger.Debugf("节点 %s 连接失败: %v", n.cfg.Name, err)
			continue
		}
		if err := n.limiter.Wait(ctx); err != nil {
			return nil, "", err
		}
		n.mu.Lock()
		n.requests++
		n.mu.Unlock()
		return client, n.cfg.Name, nil
	}
	return nil, "", fmt.Errorf("所有节点都无法提供连接: %w", lastErr)
}

func (p *Pool) available() []*node {
	now := time.Now()
	out := make([]*node, 0, len(p.nodes))
	for _, n := range p.nodes {
		n.mu.Lock()
		ok := now.After(n.coolDownUntil)
		n.mu.Unlock()
		if ok {
			out = append(out, n)
		}
	}
	return out
}

func (p *Pool) soonestAvailable() *node {
	best := p.nodes[0]
	for _, n := range p.nodes[1:] {
		n.mu.Lock()
		until := n.coolDownUntil
		n.mu.Unlock()
		best.mu.Lock()
		bestUntil := best.coolDownUntil
		best.mu.Unlock()
		if until.Before(bestUntil) {
			best = n
		}
	}
	return best
}

func (n *node) connect(ctx context.Context, dial DialFunc) (*ethclient.Client, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.client != nil {
		return n.client, nil
	}
	client, err := dial(ctx, n.cfg.URL)
	if err != nil {
		return nil, err
	}
	n.client = client
	return client, nil
}

// Report 调用方报告RPC调用结果，失败的节点进入冷却
func (p *Pool) Report(name string, err error) {
	for _, n := range p.nodes {
		if n.cfg.Name != name {
			continue
		}
		if err == nil {
			n.mu.Lock()
			n.healthy = true
			n.lastError = ""
			n.mu.Unlock()
			return
		}
		p.markFailure(n, err)
		return
	}
}

func (p *Pool) markFailure(n *node, err error) {
	cooldown := p.failureCooldown
	if isRateLimitError(err) {
		cooldown = p.rateLimitCooldown
	} else if !isConnectionError(err) {
		// 合约回滚等业务错误不影响节点状态
		return
	}

	n.mu.Lock()
	n.healthy = false
	n.failures++
	n.lastError = err.Error()
	n.coolDownUntil = time.Now().Add(cooldown)
	n.mu.Unlock()

	p.logger.Warnf("节点 %s 暂停使用 %v: %v", n.cfg.Name, cooldown, err)
}

func isRateLimitError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") || strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "rate limit")
}

func isConnectionError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"connection", "timeout", "no such host", "eof", "unreachable", "502", "503", "dial"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// CheckHealth 对每个节点调用eth_chainId
func (p *Pool) CheckHealth(ctx context.Context) map[string]bool {
	result := make(map[string]bool, len(p.nodes))
	for _, n := range p.nodes {
		client, err := n.connect(ctx, p.dial)
		if err == nil {
			err = p.retrier.Execute(ctx, "eth_chainId", func(ctx context.Context) error {
				checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
				defer cancel()
				_, err := client.ChainID(checkCtx)
				return err
			})
		}

		n.mu.Lock()
		n.lastCheck = time.Now()
		n.healthy = err == nil
		if err != nil {
			n.lastError = err.Error()
		} else {
			n.lastError = ""
			n.coolDownUntil = time.Time{}
		}
		n.mu.Unlock()

		result[n.cfg.Name] = err == nil
		if err != nil {
			p.logger.Warnf("节点 %s 健康检查失败: %v", n.cfg.Name, err)
		} else {
			p.logger.Debugf("节点 %s 健康检查通过", n.cfg.Name)
		}
	}
	return result
}

// StartHealthChecker 周期性健康检查，Close后退出
func (p *Pool) StartHealthChecker(interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), interval)
				p.CheckHealth(ctx)
				cancel()
			case <-p.stop:
				return
			}
		}
	}()
}

// GetStats 获取节点统计
func (p *Pool) GetStats() []NodeStats {
	stats := make([]NodeStats, 0, len(p.nodes))
	for _, n := range p.nodes {
		n.mu.Lock()
		stats = append(stats, NodeStats{
			Name:      n.cfg.Name,
			URL:       n.cfg.URL,
			Priority:  n.cfg.Priority,
			Healthy:   n.healthy,
			Connected: n.client != nil,
			CoolDown:  n.coolDownUntil,
			LastCheck: n.lastCheck,
			LastError: n.lastError,
			Requests:  n.requests,
			Failures:  n.failures,
		})
		n.mu.Unlock()
	}
	return stats
}

// Close 关闭所有客户端
func (p *Pool) Close() error {
	p.stopOnce.Do(func() { close(p.stop) })
	for _, n := range p.nodes {
		n.mu.Lock()
		if n.client != nil {
			n.client.Close()
			n.client = nil
		}
		n.mu.Unlock()
	}
	p.logger.Info("RPC节点池已关闭")
	return nil
}
