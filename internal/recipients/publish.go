package recipients

// Subscribe 订阅列表变更，通道收到最新版本号；
// 通道带1个缓冲，消费慢时只保留最新通知
func (l *List) Subscribe() (<-chan uint64, func()) {
	ch := make(chan uint64, 1)

	l.mu.Lock()
	l.listeners = append(l.listeners, ch)
	l.mu.Unlock()

	cancel := func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		for i, c := range l.listeners {
			if c == ch {
				l.listeners = append(l.listeners[:i], l.listeners[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, cancel
}

// publish 通知所有订阅者，发送不阻塞，持读锁保证不会写入已关闭的通道
func (l *List) publish() {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, ch := range l.listeners {
		select {
		case ch <- l.version:
		default:
			// 丢弃旧通知后重投
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- l.version:
			default:
			}
		}
	}
}
