package types

import "time"

// StreamSummary 一次流式会话结束后的摘要，失败原因只通过这里对外暴露
type StreamSummary struct {
	ID               string        `json:"id"`
	State            string        `json:"state"`
	Cause            string        `json:"cause,omitempty"`
	InputHash        string        `json:"input_hash"`
	Chunks           int           `json:"chunks"`
	Dropped          int           `json:"dropped"`
	CompletionTokens int           `json:"completion_tokens"`
	StartedAt        time.Time     `json:"started_at"`
	Duration         time.Duration `json:"duration"`
}
