// Package chat 把补全后端的 SSE 响应接到拉取式的 stream.Stream 上：
// 传输会话 → 行解析 → 分片校验 → 拉取适配器。
package chat

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"chat-proxy/internal/sse"
	"chat-proxy/internal/stream"
	"chat-proxy/internal/types"
	"chat-proxy/internal/utils"
)

// Options 创建 Service 的参数
type Options struct {
	// Endpoint 补全后端地址
	Endpoint string
	// Client 为空时使用不限时的 SSE 客户端
	Client        *resty.Client
	MaxLineBytes  int
	MaxQueue      int
	StrictChoices bool
	Logger        *slog.Logger
	// Metrics 为空时注册到一个私有 registry
	Metrics *Metrics
}

// Service 负责创建流式会话
type Service struct {
	client    *resty.Client
	endpoint  string
	maxLine   int
	maxQueue  int
	validator *Validator
	logger    *slog.Logger
	metrics   *Metrics
}

// NewService 创建 Service
func NewService(opts Options) *Service {
	client := opts.Client
	if client == nil {
		client = utils.NewRestySSEClient(0)
	}
	client.SetJSONMarshaler(sonic.Marshal)

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = NewMetrics("chat_proxy", prometheus.NewRegistry())
	}

	return &Service{
		client:    client,
		endpoint:  opts.Endpoint,
		maxLine:   opts.MaxLineBytes,
		maxQueue:  opts.MaxQueue,
		validator: &Validator{Strict: opts.StrictChoices},
		logger:    logger,
		metrics:   metrics,
	}
}

// StreamChat 向补全后端发起流式请求，立即返回可拉取的会话。
// 调用方必须在用完后调用 Finish（或 Cancel），否则上游连接不会释放。
func (s *Service) StreamChat(ctx context.Context, input string) *Chat {
	id := uuid.NewString()
	logger := s.logger.With("stream_id", id)

	c := &Chat{
		InputHash: utils.InputFingerprint(input),
		StartedAt: time.Now(),
		metrics:   s.metrics,
	}
	p := &pipeline{
		chat:      c,
		demux:     sse.NewDemuxer(s.maxLine),
		validator: s.validator,
		logger:    logger,
		metrics:   s.metrics,
	}
	p.session = NewSession(s.client, s.endpoint, types.CompletionRequest{Content: input})
	c.Stream = stream.New(id, stream.Options{
		MaxQueue: s.maxQueue,
		Closer:   p.session.Close,
	})

	logger.Debug("request chat input",
		"input_hash", c.InputHash,
		"input_len", len(input),
		"endpoint", s.endpoint,
	)
	s.metrics.streamStarted()
	p.session.Start(ctx, p)
	return c
}

// Chat 一次流式会话：内嵌拉取流，附带生产端统计
type Chat struct {
	*stream.Stream

	InputHash string
	StartedAt time.Time

	received atomic.Int64
	dropped  atomic.Int64
	metrics  *Metrics

	finishOnce sync.Once
	summary    *types.StreamSummary
}

// Recv 同 stream.Stream.Recv，额外统计消费端取走的分片数
func (c *Chat) Recv(ctx context.Context) (*types.Chunk, error) {
	chunk, err := c.Stream.Recv(ctx)
	if err == nil {
		c.received.Add(1)
	}
	return chunk, err
}

// Received 消费端已取走的分片数
func (c *Chat) Received() int {
	return int(c.received.Load())
}

// Dropped 校验失败被丢弃的记录数
func (c *Chat) Dropped() int {
	return int(c.dropped.Load())
}

// Finish 结束会话：先记下当前状态，再 Cancel 释放上游，返回摘要。
// completion 是消费端拼出的文本，用于统计 token。多次调用返回同一个摘要
func (c *Chat) Finish(completion string) *types.StreamSummary {
	c.finishOnce.Do(func() {
		state := c.State()
		if !state.Terminal() {
			state = stream.Canceled
		}
		cause := c.Err()
		c.Cancel()

		duration := time.Since(c.StartedAt)
		c.summary = &types.StreamSummary{
			ID:               c.ID(),
			State:            state.String(),
			InputHash:        c.InputHash,
			Chunks:           c.Received(),
			Dropped:          c.Dropped(),
			CompletionTokens: utils.CalculateTokens(completion),
			StartedAt:        c.StartedAt,
			Duration:         duration,
		}
		if cause != nil {
			c.summary.Cause = cause.Error()
		}
		c.metrics.streamEnded(state.String(), duration)
	})
	return c.summary
}

// pipeline 实现 Handler，运行在会话的读协程里
type pipeline struct {
	chat      *Chat
	session   *Session
	demux     *sse.Demuxer
	validator *Validator
	logger    *slog.Logger
	metrics   *Metrics
	done      bool
}

func (p *pipeline) OnData(fragment []byte) {
	if p.done {
		return
	}
	events, err := p.demux.Feed(fragment)
	for _, ev := range events {
		switch ev.Kind {
		case sse.Done:
			p.logger.Debug("received done sentinel")
			p.finish()
			return
		case sse.Payload:
			p.handlePayload(ev.Data)
		}
	}
	if err != nil {
		p.logger.Error("line buffer overrun", "error", err)
		p.fail(err)
	}
}

func (p *pipeline) OnEnd() {
	if p.done {
		return
	}
	if n := p.demux.Pending(); n > 0 {
		p.logger.Debug("discarding incomplete trailing line", "bytes", n)
	}
	p.logger.Debug("stream ended")
	p.finish()
}

func (p *pipeline) OnError(err error) {
	if p.done {
		return
	}
	p.logger.Error("error in stream", "error", err)
	p.fail(err)
}

func (p *pipeline) handlePayload(data string) {
	chunk, err := p.validator.Validate(data)
	if err != nil {
		p.chat.dropped.Add(1)
		var verr *ValidationError
		reason := ReasonParse
		if errors.As(err, &verr) {
			reason = verr.Reason
		}
		p.metrics.chunkDropped(reason)
		if reason == ReasonParse {
			p.logger.Error("error parsing chunk", "error", err, "payload_len", len(data))
		} else {
			p.logger.Warn("invalid chunk received", "error", err, "payload", truncate(data, 256))
		}
		return
	}
	p.metrics.chunkDelivered()
	p.chat.Deliver(chunk)
}

func (p *pipeline) finish() {
	p.done = true
	p.chat.MarkFinished()
	p.session.Close()
}

func (p *pipeline) fail(err error) {
	p.done = true
	p.metrics.upstreamError()
	p.chat.MarkFailed(err)
	p.session.Close()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
