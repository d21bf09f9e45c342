package utils

import (
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// InputFingerprint 输入文本的短指纹，日志里用它关联请求而不记录原文
func InputFingerprint(input string) string {
	return strconv.FormatUint(xxhash.Sum64String(input), 16)
}
