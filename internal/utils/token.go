package utils

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"github.com/sashabaranov/go-openai"
)

var (
	tiktokenOnce sync.Once
	cachedTke    *tiktoken.Tiktoken
	tiktokenErr  error
)

func getTiktokenEncoding() (*tiktoken.Tiktoken, error) {
	tiktokenOnce.Do(func() {
		tke, err := tiktoken.GetEncoding("cl100k_base")
		cachedTke, tiktokenErr = tke, err
	})
	return cachedTke, tiktokenErr
}

// CalculateTokens 编码不可用（例如离线无法下载词表）时返回 0
func CalculateTokens(text string) int {
	if text == "" {
		return 0
	}
	tke, err := getTiktokenEncoding()
	if err != nil {
		return 0
	}
	return len(tke.Encode(text, nil, nil))
}

// CalculateUsage 按输入文本和生成文本估算用量
func CalculateUsage(input, completionText string) openai.Usage {
	promptTokens := CalculateTokens(input)
	completionTokens := CalculateTokens(completionText)
	return openai.Usage{
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalTokens:      promptTokens + completionTokens,
	}
}
