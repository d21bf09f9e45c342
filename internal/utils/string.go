package utils

import (
	"strings"

	"github.com/google/uuid"
)

// NewChatID 生成 OpenAI 风格的补全 ID，上游分片没有带 id 时使用
func NewChatID() string {
	return "chatcmpl-" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
