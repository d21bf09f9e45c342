package logger_test

import (
	"bytes"
	"encoding/json"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"chat-proxy/internal/logger"
)

var _ = Describe("Logger", func() {
	It("writes text records by default", func() {
		var buf bytes.Buffer
		l := logger.New(logger.WithWriter(&buf))
		l.Info("hello", "key", "value")

		Expect(buf.String()).To(ContainSubstring("hello"))
		Expect(buf.String()).To(ContainSubstring("key=value"))
	})

	It("filters debug unless enabled", func() {
		var buf bytes.Buffer
		logger.New(logger.WithWriter(&buf)).Debug("hidden")
		Expect(buf.String()).To(BeEmpty())

		logger.New(logger.WithWriter(&buf), logger.WithDebug(true)).Debug("shown")
		Expect(buf.String()).To(ContainSubstring("shown"))
	})

	It("writes JSON records", func() {
		var buf bytes.Buffer
		l := logger.New(logger.WithWriter(&buf), logger.WithJSON(true))
		l.Warn("invalid chunk", "stream_id", "s-1")

		var parsed map[string]any
		Expect(json.Unmarshal(buf.Bytes(), &parsed)).To(Succeed())
		Expect(parsed["msg"]).To(Equal("invalid chunk"))
		Expect(parsed["stream_id"]).To(Equal("s-1"))
		Expect(parsed["level"]).To(Equal("WARN"))
	})

	It("writes pretty records", func() {
		var buf bytes.Buffer
		l := logger.New(logger.WithWriter(&buf), logger.WithPretty(true))
		l.Info("pretty output")
		Expect(buf.String()).To(ContainSubstring("pretty output"))
	})

	It("discards everything with Nop", func() {
		Expect(func() { logger.Nop().Error("nothing") }).NotTo(Panic())
	})
})

var _ = Describe("FromFormat", func() {
	It("selects JSON output", func() {
		Expect(logger.FromFormat("json", false).Handler()).NotTo(BeNil())
	})
})
