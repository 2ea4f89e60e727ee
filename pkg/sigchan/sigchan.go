package sigchan

// Chan 非阻塞的信号 channel，只通知事件发生，不传递数据
type Chan struct {
	c chan struct{}
}

// New 创建新的信号 channel
func New(bufferSize int) *Chan {
	return &Chan{c: make(chan struct{}, bufferSize)}
}

// Emit 发送信号；缓冲已满时合并到尚未消费的信号里
func (c *Chan) Emit() bool {
	select {
	case c.c <- struct{}{}:
		return true
	default:
		return false
	}
}

// C 返回内部的 channel（用于 select）
func (c *Chan) C() <-chan struct{} {
	return c.c
}
