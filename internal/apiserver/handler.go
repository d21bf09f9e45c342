package apiserver

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sashabaranov/go-openai"

	"chat-proxy/internal/chat"
	"chat-proxy/internal/stream"
	"chat-proxy/internal/types"
	"chat-proxy/internal/utils"
)

// HeaderStreamID 响应头里的流 ID，可用于查询摘要
const HeaderStreamID = "X-Stream-ID"

func errorJSON(c echo.Context, code int, msg string) error {
	return c.JSON(code, map[string]interface{}{
		"error": msg,
	})
}

func (h *Handler) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// handleChatStream 把补全后端的分片以 SSE 形式转发给调用方
func (h *Handler) handleChatStream(c echo.Context) error {
	var in types.ChatInput
	if err := c.Bind(&in); err != nil {
		return errorJSON(c, http.StatusBadRequest, "Invalid request payload")
	}
	if strings.TrimSpace(in.Message) == "" {
		return errorJSON(c, http.StatusBadRequest, "message is required")
	}

	ch := h.open(c, in.Message)
	content, err := h.relay(c, ch, func(chunk *types.Chunk) interface{} {
		return chunk
	})
	h.finish(ch, content, err)
	return nil
}

// handleChatCompletion 接收 ChatGPT 形式的对话请求，流式或聚合后返回
func (h *Handler) handleChatCompletion(c echo.Context) error {
	var req openai.ChatCompletionRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "Invalid request payload")
	}

	// 检查请求是否包含消息
	if len(req.Messages) == 0 {
		return errorJSON(c, http.StatusBadRequest, "No messages found")
	}
	input, err := types.ChatGPTToInput(req)
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}

	ch := h.open(c, input)
	if req.Stream {
		content, err := h.relay(c, ch, func(chunk *types.Chunk) interface{} {
			msg := chunk.ToOpenAI()
			if msg.Model == "" {
				msg.Model = req.Model
			}
			return msg
		})
		h.finish(ch, content, err)
		return nil
	}

	agg, err := collect(c.Request().Context(), ch)
	summary := h.finish(ch, agg.content.String(), err)
	if err != nil {
		return err
	}
	if summary.State == stream.Failed.String() && summary.Chunks == 0 {
		return c.JSON(http.StatusBadGateway, map[string]interface{}{
			"error":     "upstream stream failed",
			"stream_id": summary.ID,
		})
	}
	return c.JSON(http.StatusOK, agg.response(req, input))
}

func (h *Handler) handleStreamSummary(c echo.Context) error {
	summary, ok := h.summaries.Load(c.Param("id"))
	if !ok {
		return errorJSON(c, http.StatusNotFound, "stream not found")
	}
	return c.JSON(http.StatusOK, summary)
}

// open 开始一次上游会话。上游只在消费端 Cancel 时断开，不跟随请求 context
func (h *Handler) open(c echo.Context, input string) *chat.Chat {
	ch := h.svc.StreamChat(context.WithoutCancel(c.Request().Context()), input)
	c.Response().Header().Set(HeaderStreamID, ch.ID())
	return ch
}

// relay 逐个拉取分片写给调用方，空闲超过 heartbeat 时发 keepalive。
// 返回 choices[0] 拼出的文本；err 非空表示调用方已断开
func (h *Handler) relay(c echo.Context, ch *chat.Chat, encode func(*types.Chunk) interface{}) (string, error) {
	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writer := bufio.NewWriterSize(w, initialBufferSize)
	ctx := c.Request().Context()
	var content strings.Builder

	for {
		recvCtx, cancel := context.WithTimeout(ctx, h.heartbeat)
		chunk, err := ch.Recv(recvCtx)
		cancel()

		switch {
		case err == nil:
			content.WriteString(chunk.Text())
			if err := sendMessage(writer, w, encode(chunk)); err != nil {
				return content.String(), err
			}
		case errors.Is(err, io.EOF):
			return content.String(), sendFinishSignal(writer, w)
		case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
			if err := sendHeartbeat(writer, w); err != nil {
				return content.String(), err
			}
		default:
			return content.String(), err
		}
	}
}

// finish 释放会话并保存摘要
func (h *Handler) finish(ch *chat.Chat, content string, relayErr error) *types.StreamSummary {
	summary := ch.Finish(content)
	h.summaries.Store(summary.ID, summary)

	logger := h.logger.With(
		"stream_id", summary.ID,
		"state", summary.State,
		"chunks", summary.Chunks,
		"dropped", summary.Dropped,
		"completion_tokens", summary.CompletionTokens,
		"duration", summary.Duration,
	)
	switch {
	case relayErr != nil:
		logger.Info("client went away", "error", relayErr)
	case summary.Cause != "":
		logger.Warn("stream ended with error", "cause", summary.Cause)
	default:
		logger.Info("stream completed")
	}
	return summary
}

// aggregate 非流式请求时累积的分片信息
type aggregate struct {
	id          string
	model       string
	fingerprint string
	created     int64
	finish      openai.FinishReason
	content     strings.Builder
}

func collect(ctx context.Context, ch *chat.Chat) (*aggregate, error) {
	agg := &aggregate{}
	for {
		chunk, err := ch.Recv(ctx)
		if errors.Is(err, io.EOF) {
			return agg, nil
		}
		if err != nil {
			return agg, err
		}
		agg.add(chunk)
	}
}

func (a *aggregate) add(chunk *types.Chunk) {
	if a.id == "" {
		a.id = chunk.ID
		a.model = chunk.Model
		a.created = chunk.Created
		if chunk.SystemFingerprint != nil {
			a.fingerprint = *chunk.SystemFingerprint
		}
	}
	a.content.WriteString(chunk.Text())
	if len(chunk.Choices) > 0 && chunk.Choices[0].FinishReason != nil {
		a.finish = *chunk.Choices[0].FinishReason
	}
}

func (a *aggregate) response(req openai.ChatCompletionRequest, input string) openai.ChatCompletionResponse {
	content := a.content.String()
	resp := openai.ChatCompletionResponse{
		ID:      a.id,
		Object:  types.CompletionObject,
		Created: a.created,
		Model:   a.model,
		Choices: []openai.ChatCompletionChoice{{
			Index: 0,
			Message: openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: content,
			},
			FinishReason: a.finish,
		}},
		SystemFingerprint: a.fingerprint,
		Usage:             utils.CalculateUsage(input, content),
	}
	if resp.ID == "" {
		resp.ID = utils.NewChatID()
	}
	if resp.Created == 0 {
		resp.Created = time.Now().Unix()
	}
	if resp.Model == "" {
		resp.Model = req.Model
	}
	if resp.Choices[0].FinishReason == "" {
		resp.Choices[0].FinishReason = openai.FinishReasonStop
	}
	return resp
}
