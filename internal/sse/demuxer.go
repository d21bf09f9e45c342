// Package sse 把上游的字节流按行重组为 SSE 记录。
// 片段可以在任意位置切开（包括 "data: " 前缀中间），只有遇到换行才算一条完整记录。
package sse

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
)

const (
	// DataPrefix 事件行前缀
	DataPrefix = "data: "
	// DoneSentinel 结束标记
	DoneSentinel = "[DONE]"
	// DefaultMaxLineBytes 单行缓冲上限，与上游 SSE 处理保持一致
	DefaultMaxLineBytes = 1024 * 1024 // 1MB
)

// ErrLineTooLong 缓冲中的半行超过上限，上游可能永远不发换行
var ErrLineTooLong = errors.New("sse: line exceeds maximum buffered size")

// Kind 行的分类
type Kind int

const (
	Ignored Kind = iota
	Payload
	Done
)

func (k Kind) String() string {
	switch k {
	case Payload:
		return "payload"
	case Done:
		return "done"
	default:
		return "ignored"
	}
}

// Event 一行解析后的结果，只有 Payload 带 Data
type Event struct {
	Kind Kind
	Data string
}

// Demuxer 跨片段保存未完成的行。非并发安全，只由单个读协程使用
type Demuxer struct {
	buf     []byte
	maxLine int
}

// NewDemuxer maxLine <= 0 时使用 DefaultMaxLineBytes
func NewDemuxer(maxLine int) *Demuxer {
	if maxLine <= 0 {
		maxLine = DefaultMaxLineBytes
	}
	return &Demuxer{maxLine: maxLine}
}

// Feed 追加一个片段并返回其中所有完整行对应的事件，剩余半行留在缓冲里。
// 返回 ErrLineTooLong 时，已完整的行对应的事件仍然一并返回。
func (d *Demuxer) Feed(fragment []byte) ([]Event, error) {
	d.buf = append(d.buf, fragment...)

	var events []Event
	for {
		idx := bytes.IndexByte(d.buf, '\n')
		if idx < 0 {
			break
		}
		line := string(d.buf[:idx])
		d.buf = d.buf[idx+1:]
		events = append(events, classify(line))
	}

	// 缓冲为空时释放已消费的底层数组
	if len(d.buf) == 0 {
		d.buf = nil
	}

	if len(d.buf) > d.maxLine {
		size := len(d.buf)
		d.buf = nil
		return events, fmt.Errorf("%w: %d > %d bytes", ErrLineTooLong, size, d.maxLine)
	}
	return events, nil
}

// Pending 缓冲中尚未成行的字节数
func (d *Demuxer) Pending() int {
	return len(d.buf)
}

func classify(line string) Event {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, DataPrefix) {
		return Event{Kind: Ignored}
	}
	rest := strings.TrimPrefix(line, DataPrefix)
	if rest == DoneSentinel {
		return Event{Kind: Done}
	}
	return Event{Kind: Payload, Data: rest}
}
