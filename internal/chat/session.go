package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/go-resty/resty/v2"
)

const (
	readBufferSize = 4096
	errBodyLimit   = 4096
)

// ErrUpstreamStatus 补全后端返回了非 2xx 状态
var ErrUpstreamStatus = errors.New("upstream returned non-success status")

// Handler 接收传输会话的信号。所有回调都在同一个读协程里依次执行，
// 前一个返回后才会发出下一个；OnEnd 和 OnError 只会出现其中一个，且最多一次。
type Handler interface {
	OnData(fragment []byte)
	OnEnd()
	OnError(err error)
}

// Session 一次发往补全后端的流式 POST。失败不重试，直接作为终止信号交给 Handler
type Session struct {
	client   *resty.Client
	endpoint string
	body     interface{}

	cancel context.CancelFunc
	closed atomic.Bool
	once   sync.Once
	done   chan struct{}

	mu  sync.Mutex
	raw io.ReadCloser
}

// NewSession 创建会话但不发请求，调用 Start 后才开始
func NewSession(client *resty.Client, endpoint string, body interface{}) *Session {
	return &Session{
		client:   client,
		endpoint: endpoint,
		body:     body,
		cancel:   func() {},
		done:     make(chan struct{}),
	}
}

// Start 在后台发起请求并把响应体逐段交给 h。只能调用一次
func (s *Session) Start(ctx context.Context, h Handler) {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	if s.closed.Load() {
		cancel()
		close(s.done)
		return
	}
	go s.run(ctx, h)
}

// Close 停止投递信号并释放连接，可重复调用
func (s *Session) Close() {
	s.once.Do(func() {
		s.closed.Store(true)

		s.mu.Lock()
		defer s.mu.Unlock()
		s.cancel()
		if s.raw != nil {
			_ = s.raw.Close()
		}
	})
}

// Done 读协程退出后关闭
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) run(ctx context.Context, h Handler) {
	defer close(s.done)

	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(s.body).
		Post(s.endpoint)
	if err != nil {
		if resp != nil && resp.RawBody() != nil {
			_ = resp.RawBody().Close()
		}
		s.emitError(h, fmt.Errorf("completion request: %w", err))
		return
	}

	// Resty 不会自动关闭 Body，需要我们自己来处理
	raw := resp.RawBody()
	defer raw.Close()
	if !s.attach(raw) {
		return
	}

	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(raw, errBodyLimit))
		s.emitError(h, fmt.Errorf("%w: status %d, body: %s", ErrUpstreamStatus, resp.StatusCode(), snippet))
		return
	}

	buf := make([]byte, readBufferSize)
	for {
		n, err := raw.Read(buf)
		if n > 0 {
			if s.closed.Load() {
				return
			}
			fragment := make([]byte, n)
			copy(fragment, buf[:n])
			h.OnData(fragment)
		}
		if errors.Is(err, io.EOF) {
			if !s.closed.Load() {
				h.OnEnd()
			}
			return
		}
		if err != nil {
			s.emitError(h, fmt.Errorf("read completion stream: %w", err))
			return
		}
	}
}

// attach 记录响应体以便 Close 能打断阻塞中的 Read；已关闭则返回 false
func (s *Session) attach(raw io.ReadCloser) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return false
	}
	s.raw = raw
	return true
}

func (s *Session) emitError(h Handler, err error) {
	if s.closed.Load() {
		return
	}
	h.OnError(err)
}
