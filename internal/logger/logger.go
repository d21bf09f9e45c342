// Package logger 提供基于 slog 的日志：终端下用 charmbracelet/log 彩色输出，服务部署用 JSON。
package logger

import (
	"io"
	"log/slog"
	"os"

	charmlog "github.com/charmbracelet/log"
)

type config struct {
	level   slog.Level
	pretty  bool
	json    bool
	source  bool
	writers []io.Writer
}

// Option 配置 New 创建的 Logger
type Option func(*config)

// WithDebug true 时输出 Debug 级别
func WithDebug(debug bool) Option {
	return func(c *config) {
		if debug {
			c.level = slog.LevelDebug
		} else {
			c.level = slog.LevelInfo
		}
	}
}

// WithPretty 使用 charmbracelet/log 的彩色输出
func WithPretty(pretty bool) Option {
	return func(c *config) {
		c.pretty = pretty
	}
}

// WithJSON 使用 slog 的 JSON 输出
func WithJSON(json bool) Option {
	return func(c *config) {
		c.json = json
	}
}

// WithSource 输出调用位置
func WithSource(source bool) Option {
	return func(c *config) {
		c.source = source
	}
}

// WithWriter 覆盖输出，默认 os.Stdout
func WithWriter(w io.Writer) Option {
	return func(c *config) {
		c.writers = []io.Writer{w}
	}
}

// New 创建 *slog.Logger。JSON 优先于 pretty，都未开启时为 slog 文本格式
func New(opts ...Option) *slog.Logger {
	c := &config{level: slog.LevelInfo}
	for _, opt := range opts {
		opt(c)
	}

	var w io.Writer = os.Stdout
	if len(c.writers) == 1 {
		w = c.writers[0]
	} else if len(c.writers) > 1 {
		w = io.MultiWriter(c.writers...)
	}

	switch {
	case c.json:
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: c.level, AddSource: c.source}))
	case c.pretty:
		level := charmlog.InfoLevel
		if c.level <= slog.LevelDebug {
			level = charmlog.DebugLevel
		}
		return slog.New(charmlog.NewWithOptions(w, charmlog.Options{
			Level:           level,
			ReportTimestamp: true,
			ReportCaller:    c.source,
		}))
	default:
		return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: c.level, AddSource: c.source}))
	}
}

// FromFormat 按配置中的 log_format（pretty / json / text）创建 Logger
func FromFormat(format string, debug bool) *slog.Logger {
	return New(
		WithDebug(debug),
		WithJSON(format == "json"),
		WithPretty(format == "pretty"),
		WithSource(debug),
	)
}

// Nop 丢弃所有输出，测试用
func Nop() *slog.Logger {
	return New(WithWriter(io.Discard))
}
