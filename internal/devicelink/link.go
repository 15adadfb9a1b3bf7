// Package devicelink 设备链路：打开传输、按行解析 ECG/EMG 采样并分发给订阅者
//
// 状态机：Disconnected → Connecting → Connected → Disconnecting → Disconnected。
// 主动断开时先把状态置为 Disconnecting、IsConnected() 置为 false，再关闭端口；
// 读取出错或 EOF（设备拔出）时强制清理并异步触发一次断开事件。链路本身不重连。
package devicelink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smalok/NeuroGuard/internal/models"
	"go.uber.org/zap"
)

// Port 已打开的字节流；Close 必须能让阻塞中的 Read 返回
type Port = io.ReadCloser

// Opener 打开底层传输
type Opener interface {
	Open(ctx context.Context) (Port, error)
}

// SampleHandler 采样处理函数
type SampleHandler func(models.Sample) error

// DisconnectHandler 强制断开事件处理函数，err 为导致断开的读取错误
type DisconnectHandler func(err error)

// Options 链路参数
type Options struct {
	MaxLineBytes   int
	ReadBufferSize int
	Now            func() time.Time
}

func (o Options) withDefaults() Options {
	if o.MaxLineBytes <= 0 {
		o.MaxLineBytes = DefaultMaxLineBytes
	}
	if o.ReadBufferSize <= 0 {
		o.ReadBufferSize = 1024
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// portHandle 保证端口只关闭一次
type portHandle struct {
	port Port
	once sync.Once
	err  error
}

func (h *portHandle) close() error {
	h.once.Do(func() {
		h.err = h.port.Close()
	})
	return h.err
}

type sampleSub struct {
	id uint64
	fn SampleHandler
}

type disconnectSub struct {
	id uint64
	fn DisconnectHandler
}

// Link 设备链路
type Link struct {
	opener Opener
	opts   Options
	logger *zap.Logger

	mu          sync.Mutex
	state       State
	tearingDown bool
	gen         uint64
	port        *portHandle
	cancel      context.CancelFunc
	done        chan struct{}
	connected   atomic.Bool

	subMu          sync.Mutex
	nextSubID      uint64
	sampleSubs     []sampleSub
	disconnectSubs []disconnectSub

	lines   atomic.Uint64
	samples atomic.Uint64
	dropped atomic.Uint64
}

// NewLink 创建设备链路
func NewLink(opener Opener, opts Options, logger *zap.Logger) *Link {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Link{
		opener: opener,
		opts:   opts.withDefaults(),
		logger: logger,
		state:  StateDisconnected,
	}
}

// State 当前状态
func (l *Link) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// IsConnected 是否已连接（主动断开开始时即变为 false）
func (l *Link) IsConnected() bool {
	return l.connected.Load()
}

// Stats 累计的行数、有效采样数、丢弃行数
func (l *Link) Stats() (lines, samples, dropped uint64) {
	return l.lines.Load(), l.samples.Load(), l.dropped.Load()
}

// Connect 打开传输并启动读取循环
func (l *Link) Connect(ctx context.Context) error {
	l.mu.Lock()
	if l.state != StateDisconnected || l.tearingDown {
		l.mu.Unlock()
		return ErrAlreadyActive
	}
	l.state = StateConnecting
	l.mu.Unlock()

	port, err := l.opener.Open(ctx)
	if err != nil {
		l.mu.Lock()
		l.state = StateDisconnected
		l.mu.Unlock()
		return fmt.Errorf("failed to open device: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	handle := &portHandle{port: port}
	done := make(chan struct{})

	l.mu.Lock()
	l.gen++
	gen := l.gen
	l.port = handle
	l.cancel = cancel
	l.done = done
	l.state = StateConnected
	l.connected.Store(true)
	l.mu.Unlock()

	l.logger.Info("Device link connected")
	go l.readLoop(loopCtx, gen, handle, done)
	return nil
}

// Disconnect 主动断开
// 未连接时直接返回 nil；清理过程中的错误只记录日志，唯一可能的返回值是 ctx 的错误。
// ctx 先到期时对外状态已是 Disconnected，但读取循环退出前 Connect 仍返回 ErrAlreadyActive
func (l *Link) Disconnect(ctx context.Context) error {
	l.mu.Lock()
	if l.state != StateConnected {
		l.mu.Unlock()
		return nil
	}
	l.state = StateDisconnecting
	l.connected.Store(false)
	l.tearingDown = true
	handle, cancel, done := l.port, l.cancel, l.done
	l.mu.Unlock()

	cancel()
	// 端口关闭可能阻塞在硬件上，等待受 ctx 约束
	go func() {
		if err := handle.close(); err != nil {
			l.logger.Warn("Error closing device port", zap.Error(err))
		}
	}()

	var waitErr error
	select {
	case <-done:
	case <-ctx.Done():
		waitErr = ctx.Err()
		l.logger.Warn("Timed out waiting for read loop to exit", zap.Error(waitErr))
	}

	l.mu.Lock()
	l.state = StateDisconnected
	l.port = nil
	l.cancel = nil
	l.done = nil
	if waitErr == nil {
		l.tearingDown = false
	}
	l.mu.Unlock()

	if waitErr != nil {
		go func() {
			<-done
			l.mu.Lock()
			l.tearingDown = false
			l.mu.Unlock()
			l.logger.Info("Stale read loop exited")
		}()
	}

	l.logger.Info("Device link disconnected")
	return waitErr
}

// Subscribe 注册采样订阅者，按注册顺序调用；返回取消订阅函数
func (l *Link) Subscribe(fn SampleHandler) (unsubscribe func()) {
	l.subMu.Lock()
	l.nextSubID++
	id := l.nextSubID
	subs := make([]sampleSub, len(l.sampleSubs), len(l.sampleSubs)+1)
	copy(subs, l.sampleSubs)
	l.sampleSubs = append(subs, sampleSub{id: id, fn: fn})
	l.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.subMu.Lock()
			defer l.subMu.Unlock()
			next := make([]sampleSub, 0, len(l.sampleSubs))
			for _, s := range l.sampleSubs {
				if s.id != id {
					next = append(next, s)
				}
			}
			l.sampleSubs = next
		})
	}
}

// OnDisconnect 注册强制断开事件处理函数；返回取消订阅函数
func (l *Link) OnDisconnect(fn DisconnectHandler) (unsubscribe func()) {
	l.subMu.Lock()
	l.nextSubID++
	id := l.nextSubID
	subs := make([]disconnectSub, len(l.disconnectSubs), len(l.disconnectSubs)+1)
	copy(subs, l.disconnectSubs)
	l.disconnectSubs = append(subs, disconnectSub{id: id, fn: fn})
	l.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.subMu.Lock()
			defer l.subMu.Unlock()
			next := make([]disconnectSub, 0, len(l.disconnectSubs))
			for _, s := range l.disconnectSubs {
				if s.id != id {
					next = append(next, s)
				}
			}
			l.disconnectSubs = next
		})
	}
}

func (l *Link) readLoop(ctx context.Context, gen uint64, handle *portHandle, done chan struct{}) {
	defer close(done)

	buf := make([]byte, l.opts.ReadBufferSize)
	framer := NewLineFramer(l.opts.MaxLineBytes)

	for {
		n, err := handle.port.Read(buf)
		if ctx.Err() != nil {
			return
		}

		if n > 0 {
			lines, discarded := framer.Push(buf[:n])
			if discarded > 0 {
				l.dropped.Add(uint64(discarded))
				l.logger.Debug("Discarded over-long line", zap.Int("max_line_bytes", l.opts.MaxLineBytes))
			}
			for _, line := range lines {
				l.handleLine(line)
			}
		}

		if err != nil {
			l.forceDisconnect(gen, handle, err)
			return
		}
	}
}

func (l *Link) handleLine(line string) {
	ecgVal, emgVal, err := ParseLine(line)
	if errors.Is(err, ErrEmptyLine) {
		return
	}
	l.lines.Add(1)
	if err != nil {
		l.dropped.Add(1)
		l.logger.Debug("Dropped malformed line", zap.String("line", line), zap.Error(err))
		return
	}
	l.samples.Add(1)

	l.dispatch(models.Sample{ECG: ecgVal, EMG: emgVal, Timestamp: l.opts.Now()})
}

func (l *Link) dispatch(sample models.Sample) {
	l.subMu.Lock()
	subs := l.sampleSubs
	l.subMu.Unlock()

	for _, s := range subs {
		l.callSample(s.fn, sample)
	}
}

func (l *Link) callSample(fn SampleHandler, sample models.Sample) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("Sample handler panicked", zap.Any("panic", r))
		}
	}()
	if err := fn(sample); err != nil {
		l.logger.Warn("Sample handler failed", zap.Error(err))
	}
}

// forceDisconnect 读取失败：设备被拔出或传输中断
func (l *Link) forceDisconnect(gen uint64, handle *portHandle, cause error) {
	l.mu.Lock()
	if l.gen != gen || l.state != StateConnected {
		// 主动断开过程中的读取错误
		l.mu.Unlock()
		return
	}
	l.state = StateDisconnected
	l.connected.Store(false)
	l.tearingDown = true
	cancel := l.cancel
	l.port = nil
	l.cancel = nil
	l.done = nil
	l.mu.Unlock()

	cancel()
	if err := handle.close(); err != nil {
		l.logger.Debug("Ignoring close error on lost port", zap.Error(err))
	}

	l.mu.Lock()
	l.tearingDown = false
	l.mu.Unlock()

	if errors.Is(cause, io.EOF) {
		l.logger.Warn("Device link closed by device")
	} else {
		l.logger.Warn("Device link lost", zap.Error(cause))
	}

	go l.notifyDisconnect(cause)
}

func (l *Link) notifyDisconnect(cause error) {
	l.subMu.Lock()
	subs := l.disconnectSubs
	l.subMu.Unlock()

	for _, s := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					l.logger.Error("Disconnect handler panicked", zap.Any("panic", r))
				}
			}()
			s.fn(cause)
		}()
	}
}
