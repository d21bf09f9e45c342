// Package stream 把上游推送的分片转换为一次拉取一个的迭代接口。
//
// 生产端（传输会话的读协程）调用 Deliver / MarkFinished / MarkFailed，
// 消费端调用 Recv，中途放弃时调用 Cancel。同一时刻只允许一个 Recv 在等待，
// 由消费端自己保证串行，违反时 Recv 返回 ErrConcurrentRecv。
package stream

import (
	"context"
	"errors"
	"io"
	"sync"

	"chat-proxy/internal/types"
)

// ErrConcurrentRecv 已有一个 Recv 在等待时再次调用 Recv
var ErrConcurrentRecv = errors.New("stream: concurrent Recv calls are not supported")

// State 流的状态
type State int

const (
	Idle State = iota
	AwaitingItem
	Finished
	Failed
	Canceled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingItem:
		return "awaiting_item"
	case Finished:
		return "finished"
	case Failed:
		return "failed"
	case Canceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Terminal 是否已进入终态
func (s State) Terminal() bool {
	return s == Finished || s == Failed || s == Canceled
}

type result struct {
	chunk *types.Chunk
	err   error
}

// Options 创建 Stream 的参数
type Options struct {
	// MaxQueue 就绪队列上限，0 表示不限制。满了之后 Deliver 阻塞生产端
	MaxQueue int
	// Closer 关闭上游传输，Cancel 时最多调用一次
	Closer func()
}

// Stream 单生产者单消费者的拉取适配器
type Stream struct {
	id string

	mu      sync.Mutex
	space   *sync.Cond
	state   State
	cause   error
	queue   []*types.Chunk
	pending chan result

	maxQueue  int
	closer    func()
	closeOnce sync.Once
}

// New 创建处于 Idle 状态的流
func New(id string, opts Options) *Stream {
	s := &Stream{
		id:       id,
		state:    Idle,
		maxQueue: opts.MaxQueue,
		closer:   opts.Closer,
	}
	s.space = sync.NewCond(&s.mu)
	return s
}

// ID 流标识
func (s *Stream) ID() string {
	return s.id
}

// State 当前状态
func (s *Stream) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err 失败原因，只有 Failed 状态才非 nil。Recv 不会返回它
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cause
}

// Len 就绪队列长度
func (s *Stream) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Recv 取下一个分片。队列非空时立即返回最早的分片；流已结束（包括失败和取消）
// 且队列为空时返回 io.EOF；否则等待直到分片到达、流结束或 ctx 结束。
// ctx 结束时返回 ctx.Err()，流本身不受影响，可以再次调用 Recv。
func (s *Stream) Recv(ctx context.Context) (*types.Chunk, error) {
	s.mu.Lock()
	if len(s.queue) > 0 {
		chunk := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.space.Signal()
		s.mu.Unlock()
		return chunk, nil
	}
	if s.state.Terminal() {
		s.mu.Unlock()
		return nil, io.EOF
	}
	if s.pending != nil {
		s.mu.Unlock()
		return nil, ErrConcurrentRecv
	}

	ch := make(chan result, 1)
	s.pending = ch
	s.state = AwaitingItem
	s.mu.Unlock()

	select {
	case r := <-ch:
		return r.chunk, r.err
	case <-ctx.Done():
		s.mu.Lock()
		if s.pending == ch {
			s.pending = nil
			if s.state == AwaitingItem {
				s.state = Idle
			}
			s.mu.Unlock()
			return nil, ctx.Err()
		}
		s.mu.Unlock()
		// 生产端已在锁内完成投递，结果一定在通道里
		r := <-ch
		return r.chunk, r.err
	}
}

// Deliver 投递一个校验通过的分片：有等待中的 Recv 则直接交付，否则入队。
// 终态下为空操作。设置了 MaxQueue 时，队列满会阻塞直到消费端取走或流结束。
func (s *Stream) Deliver(chunk *types.Chunk) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		if s.state.Terminal() {
			return
		}
		if s.pending != nil {
			s.fulfil(result{chunk: chunk})
			s.state = Idle
			return
		}
		if s.maxQueue <= 0 || len(s.queue) < s.maxQueue {
			s.queue = append(s.queue, chunk)
			return
		}
		s.space.Wait()
	}
}

// MarkFinished 收到 [DONE] 或上游正常结束。剩余分片仍会被 Recv 依次取走
func (s *Stream) MarkFinished() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Terminal() {
		return
	}
	s.state = Finished
	s.fulfil(result{err: io.EOF})
	s.space.Broadcast()
}

// MarkFailed 上游出错。对消费端表现为正常结束，原因保存在 Err 中
func (s *Stream) MarkFailed(cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Terminal() {
		return
	}
	s.state = Failed
	s.cause = cause
	s.fulfil(result{err: io.EOF})
	s.space.Broadcast()
}

// Cancel 消费端提前退出：丢弃队列，关闭上游传输，之后所有 Recv 立即返回 io.EOF。
// 非终态转为 Canceled，已结束或已失败的流保留原状态。
// 可重复调用，也可与生产端并发调用，传输只会被关闭一次。
func (s *Stream) Cancel() {
	s.mu.Lock()
	if !s.state.Terminal() {
		s.state = Canceled
	}
	s.queue = nil
	s.fulfil(result{err: io.EOF})
	s.space.Broadcast()
	s.mu.Unlock()

	s.closeOnce.Do(func() {
		if s.closer != nil {
			s.closer()
		}
	})
}

// fulfil 交付给等待中的 Recv 并清空槽位，调用方需持有锁
func (s *Stream) fulfil(r result) {
	if s.pending == nil {
		return
	}
	s.pending <- r
	s.pending = nil
}
