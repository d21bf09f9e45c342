package chat

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/sashabaranov/go-openai"

	"chat-proxy/internal/types"
)

// 校验失败的原因
const (
	ReasonParse = "parse"
	ReasonShape = "shape"
)

// ValidationError 分片无效，只用于诊断，不会传给消费端
type ValidationError struct {
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid chunk (%s): %v", e.Reason, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// 只解码需要检查的字段，其余字段保留原文，类型不符时当作缺失
type wireChunk struct {
	ID                *string           `json:"id"`
	Object            *string           `json:"object"`
	Created           *float64          `json:"created"`
	Model             *string           `json:"model"`
	SystemFingerprint json.RawMessage   `json:"system_fingerprint"`
	Choices           []json.RawMessage `json:"choices"`
}

type wireChoice struct {
	Index        json.RawMessage `json:"index"`
	Delta        json.RawMessage `json:"delta"`
	FinishReason json.RawMessage `json:"finish_reason"`
}

type wireDelta struct {
	Content json.RawMessage `json:"content"`
}

// Validator 解析并校验上游分片。默认只检查第一个 choice，Strict 时检查全部
type Validator struct {
	Strict bool
}

// Validate 成功返回分片，失败返回 *ValidationError
func (v *Validator) Validate(jsonText string) (*types.Chunk, error) {
	var w wireChunk
	if err := sonic.UnmarshalString(jsonText, &w); err != nil {
		if !sonic.Valid([]byte(jsonText)) {
			return nil, &ValidationError{Reason: ReasonParse, Err: err}
		}
		// 合法 JSON 但被检查的字段类型不符
		return nil, &ValidationError{Reason: ReasonShape, Err: err}
	}
	chunk, err := v.build(&w)
	if err != nil {
		return nil, &ValidationError{Reason: ReasonShape, Err: err}
	}
	return chunk, nil
}

func (v *Validator) build(w *wireChunk) (*types.Chunk, error) {
	switch {
	case w.ID == nil:
		return nil, errors.New("id is missing")
	case w.Object == nil:
		return nil, errors.New("object is missing")
	case w.Created == nil:
		return nil, errors.New("created is missing")
	case w.Model == nil:
		return nil, errors.New("model is missing")
	case len(w.Choices) == 0:
		return nil, errors.New("choices is empty")
	}

	chunk := &types.Chunk{
		ID:      *w.ID,
		Object:  *w.Object,
		Created: int64(*w.Created),
		Model:   *w.Model,
		Choices: make([]types.Choice, 0, len(w.Choices)),
	}
	if fp, ok := asString(w.SystemFingerprint); ok {
		chunk.SystemFingerprint = fp
	}

	limit := 1
	if v.Strict {
		limit = len(w.Choices)
	}
	seen := make(map[int]bool, limit)
	for i, raw := range w.Choices {
		choice, err := decodeChoice(raw, i)
		if i < limit {
			if err != nil {
				return nil, err
			}
			if v.Strict {
				if choice.Index < 0 {
					return nil, fmt.Errorf("choices[%d].index is negative", i)
				}
				if seen[choice.Index] {
					return nil, fmt.Errorf("choices[%d].index %d is duplicated", i, choice.Index)
				}
				seen[choice.Index] = true
			}
		}
		chunk.Choices = append(chunk.Choices, choice)
	}
	return chunk, nil
}

// decodeChoice 尽量解出一个 choice。err 描述第一个不合格的字段，
// 未被检查的 choice 忽略 err，缺失的 index 按位置补齐
func decodeChoice(raw json.RawMessage, pos int) (types.Choice, error) {
	choice := types.Choice{Index: pos}

	var w wireChoice
	if err := sonic.Unmarshal(raw, &w); err != nil {
		return choice, fmt.Errorf("choices[%d] is not an object", pos)
	}

	var firstErr error
	record := func(err error) {
		if firstErr == nil {
			firstErr = err
		}
	}

	if index, ok := asNumber(w.Index); ok {
		choice.Index = int(index)
	} else {
		record(fmt.Errorf("choices[%d].index is missing or not a number", pos))
	}

	if isNull(w.Delta) {
		record(fmt.Errorf("choices[%d].delta is missing", pos))
	} else {
		var d wireDelta
		if err := sonic.Unmarshal(w.Delta, &d); err != nil {
			record(fmt.Errorf("choices[%d].delta is not an object", pos))
		} else if content, ok := asString(d.Content); ok {
			choice.Delta.Content = content
		} else {
			record(fmt.Errorf("choices[%d].delta.content is not a string", pos))
		}
	}

	if reason, ok := asString(w.FinishReason); ok && reason != nil {
		fr := openai.FinishReason(*reason)
		choice.FinishReason = &fr
	}
	return choice, firstErr
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

// asString 缺失或 null 返回 (nil, true)，非字符串返回 ok=false
func asString(raw json.RawMessage) (*string, bool) {
	if isNull(raw) {
		return nil, true
	}
	var s string
	if err := sonic.Unmarshal(raw, &s); err != nil {
		return nil, false
	}
	return &s, true
}

func asNumber(raw json.RawMessage) (float64, bool) {
	if isNull(raw) {
		return 0, false
	}
	var f float64
	if err := sonic.Unmarshal(raw, &f); err != nil {
		return 0, false
	}
	return f, true
}
