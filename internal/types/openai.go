package types

import "github.com/sashabaranov/go-openai"

const (
	// ChunkObject 上游流式分片的 object 标记
	ChunkObject = "chat.completion.chunk"
	// CompletionObject 非流式聚合响应的 object 标记
	CompletionObject = "chat.completion"
)

// Chunk 上游返回的一个增量分片，校验通过后不可变
type Chunk struct {
	ID                string   `json:"id"`
	Object            string   `json:"object"`
	Created           int64    `json:"created"`
	Model             string   `json:"model"`
	SystemFingerprint *string  `json:"system_fingerprint"`
	Choices           []Choice `json:"choices"`
}

// Choice 分片中的单个候选
type Choice struct {
	Index        int                  `json:"index"`
	Delta        Delta                `json:"delta"`
	FinishReason *openai.FinishReason `json:"finish_reason"`
}

// Delta content 为 nil 表示本次增量没有文本（心跳或结构分片）
type Delta struct {
	Content *string `json:"content"`
}

// Text 返回 choices[0] 的文本，没有则为空串
func (c *Chunk) Text() string {
	if c == nil || len(c.Choices) == 0 || c.Choices[0].Delta.Content == nil {
		return ""
	}
	return *c.Choices[0].Delta.Content
}

// ToOpenAI 转成 go-openai 的流式响应结构，供 /v1/chat/completions 兼容接口使用
func (c *Chunk) ToOpenAI() openai.ChatCompletionStreamResponse {
	choices := make([]openai.ChatCompletionStreamChoice, 0, len(c.Choices))
	for _, ch := range c.Choices {
		choice := openai.ChatCompletionStreamChoice{
			Index: ch.Index,
			Delta: openai.ChatCompletionStreamChoiceDelta{
				Role: openai.ChatMessageRoleAssistant,
			},
			FinishReason: openai.FinishReasonNull,
		}
		if ch.Delta.Content != nil {
			choice.Delta.Content = *ch.Delta.Content
		}
		if ch.FinishReason != nil {
			choice.FinishReason = *ch.FinishReason
		}
		choices = append(choices, choice)
	}

	resp := openai.ChatCompletionStreamResponse{
		ID:      c.ID,
		Object:  c.Object,
		Created: c.Created,
		Model:   c.Model,
		Choices: choices,
	}
	if c.SystemFingerprint != nil {
		resp.SystemFingerprint = *c.SystemFingerprint
	}
	return resp
}
