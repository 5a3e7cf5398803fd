package socket

const minQueueSize = 8

// frameQueue 环形帧队列，非并发安全，由 Client.mu 保护
type frameQueue struct {
	buf  [][]byte
	head int
	size int
}

// Len 返回队列中的帧数
func (q *frameQueue) Len() int {
	return q.size
}

// Push 入队，满时扩容
func (q *frameQueue) Push(frame []byte) {
	if q.size == len(q.buf) {
		q.grow()
	}
	q.buf[(q.head+q.size)%len(q.buf)] = frame
	q.size++
}

// PushBounded 入队，达到 limit 时丢弃最旧的帧
func (q *frameQueue) PushBounded(frame []byte, limit int) (dropped bool) {
	if limit > 0 && q.size >= limit {
		q.Pop()
		dropped = true
	}
	q.Push(frame)
	return dropped
}

// Peek 返回队首帧但不出队
func (q *frameQueue) Peek() ([]byte, bool) {
	if q.size == 0 {
		return nil, false
	}
	return q.buf[q.head], true
}

// Pop 出队
func (q *frameQueue) Pop() ([]byte, bool) {
	if q.size == 0 {
		return nil, false
	}
	frame := q.buf[q.head]
	q.buf[q.head] = nil
	q.head = (q.head + 1) % len(q.buf)
	q.size--
	return frame, true
}

// Reset 清空队列，保留底层数组
func (q *frameQueue) Reset() {
	for i := range q.buf {
		q.buf[i] = nil
	}
	q.head = 0
	q.size = 0
}

func (q *frameQueue) grow() {
	n := len(q.buf) * 2
	if n < minQueueSize {
		n = minQueueSize
	}
	buf := make([][]byte, n)
	for i := 0; i < q.size; i++ {
		buf[i] = q.buf[(q.head+i)%len(q.buf)]
	}
	q.buf = buf
	q.head = 0
}
