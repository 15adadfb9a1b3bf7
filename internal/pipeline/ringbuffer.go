package pipeline

import "sync"

// RingBuffer 定长 FIFO，写满后覆盖最旧的元素
type RingBuffer[T any] struct {
	mu    sync.Mutex
	items []T
	head  int // 最旧元素的位置
	size  int
}

// NewRingBuffer 创建容量为 capacity 的环形缓冲
func NewRingBuffer[T any](capacity int) *RingBuffer[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &RingBuffer[T]{items: make([]T, capacity)}
}

// Push 追加一个元素
func (b *RingBuffer[T]) Push(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.size < len(b.items) {
		b.items[(b.head+b.size)%len(b.items)] = v
		b.size++
		return
	}
	b.items[b.head] = v
	b.head = (b.head + 1) % len(b.items)
}

// Snapshot 按时间顺序复制当前内容
func (b *RingBuffer[T]) Snapshot() []T {
	return b.Last(-1)
}

// Last 复制最新的 n 个元素（n < 0 表示全部）
func (b *RingBuffer[T]) Last(n int) []T {
	b.mu.Lock()
	defer b.mu.Unlock()

	if n < 0 || n > b.size {
		n = b.size
	}
	out := make([]T, n)
	start := b.head + b.size - n
	for i := 0; i < n; i++ {
		out[i] = b.items[(start+i)%len(b.items)]
	}
	return out
}

// Len 当前元素个数
func (b *RingBuffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Cap 容量
func (b *RingBuffer[T]) Cap() int {
	return len(b.items)
}

// Reset 清空
func (b *RingBuffer[T]) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	var zero T
	for i := range b.items {
		b.items[i] = zero
	}
	b.head = 0
	b.size = 0
}
