package types

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sashabaranov/go-openai"
)

var _ = Describe("ChatGPTToInput", func() {
	It("picks the last user message", func() {
		input, err := ChatGPTToInput(openai.ChatCompletionRequest{
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: "be brief"},
				{Role: openai.ChatMessageRoleUser, Content: "first"},
				{Role: openai.ChatMessageRoleAssistant, Content: "ok"},
				{Role: openai.ChatMessageRoleUser, Content: "second"},
			},
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(input).To(Equal("second"))
	})

	It("joins text parts of a multi-content message", func() {
		input, err := ChatGPTToInput(openai.ChatCompletionRequest{
			Messages: []openai.ChatCompletionMessage{
				{
					Role: openai.ChatMessageRoleUser,
					MultiContent: []openai.ChatMessagePart{
						{Type: openai.ChatMessagePartTypeText, Text: "look at"},
						{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: "http://x/y.png"}},
						{Type: openai.ChatMessagePartTypeText, Text: "this"},
					},
				},
			},
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(input).To(Equal("look at\nthis"))
	})

	It("fails without a user message", func() {
		_, err := ChatGPTToInput(openai.ChatCompletionRequest{
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: "be brief"},
			},
		})
		Expect(err).To(HaveOccurred())
	})

	It("fails when the user message has no text", func() {
		_, err := ChatGPTToInput(openai.ChatCompletionRequest{
			Messages: []openai.ChatCompletionMessage{
				{
					Role: openai.ChatMessageRoleUser,
					MultiContent: []openai.ChatMessagePart{
						{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: "http://x/y.png"}},
					},
				},
			},
		})
		Expect(err).To(HaveOccurred())
	})
})
