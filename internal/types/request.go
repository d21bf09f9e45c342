package types

import (
	"fmt"
	"strings"

	"github.com/samber/lo"
	"github.com/sashabaranov/go-openai"
)

// CompletionRequest 发往补全后端的请求体
type CompletionRequest struct {
	Content string `json:"content"`
}

// ChatInput 下游 /chat/stream 的请求体
type ChatInput struct {
	Message string `json:"message"`
}

// ChatGPTToInput 从 ChatGPT 形式的请求中取出要转发的文本，即最后一条 user 消息
func ChatGPTToInput(req openai.ChatCompletionRequest) (string, error) {
	users := lo.Filter(req.Messages, func(msg openai.ChatCompletionMessage, _ int) bool {
		return msg.Role == openai.ChatMessageRoleUser
	})
	if len(users) == 0 {
		return "", fmt.Errorf("no user message found")
	}

	last := users[len(users)-1]
	if last.Content != "" {
		return last.Content, nil
	}

	// 多内容消息只拼接文本部分
	texts := lo.FilterMap(last.MultiContent, func(part openai.ChatMessagePart, _ int) (string, bool) {
		return part.Text, part.Type == openai.ChatMessagePartTypeText && part.Text != ""
	})
	if len(texts) == 0 {
		return "", fmt.Errorf("last user message has no text content")
	}
	return strings.Join(texts, "\n"), nil
}
