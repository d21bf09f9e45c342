package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"chat-proxy/internal/logger"
	"chat-proxy/internal/sse"
	"chat-proxy/internal/stream"
	"chat-proxy/internal/types"
)

func chunkLine(id, content string) string {
	return fmt.Sprintf(`data: {"id":%q,"object":"chat.completion.chunk","created":1700000000,"model":"gpt-test","system_fingerprint":null,"choices":[{"index":0,"delta":{"content":%q},"finish_reason":null}]}`+"\n", id, content)
}

// fragmentServer 按给定片段逐个写出并 flush，模拟任意切分的上游
func fragmentServer(fragments ...string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)
		for _, f := range fragments {
			_, _ = io.WriteString(w, f)
			flusher.Flush()
		}
	}))
}

func collect(c *Chat) []*types.Chunk {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var chunks []*types.Chunk
	for {
		chunk, err := c.Recv(ctx)
		if errors.Is(err, io.EOF) {
			return chunks
		}
		Expect(err).NotTo(HaveOccurred())
		chunks = append(chunks, chunk)
	}
}

func texts(chunks []*types.Chunk) []string {
	out := make([]string, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, c.Text())
	}
	return out
}

var _ = Describe("Service", func() {
	var (
		upstream *httptest.Server
		metrics  *Metrics
		svc      *Service
		opts     Options
	)

	BeforeEach(func() {
		metrics = NewMetrics("test", prometheus.NewRegistry())
		opts = Options{Logger: logger.Nop(), Metrics: metrics}
	})

	AfterEach(func() {
		if upstream != nil {
			upstream.Close()
			upstream = nil
		}
	})

	start := func(input string) *Chat {
		opts.Endpoint = upstream.URL + "/chat/completion"
		svc = NewService(opts)
		return svc.StreamChat(context.Background(), input)
	}

	It("delivers a single chunk then ends", func() {
		upstream = fragmentServer(chunkLine("1", "Hi"), "data: [DONE]\n")
		c := start("hello")

		chunks := collect(c)
		Expect(texts(chunks)).To(Equal([]string{"Hi"}))
		Expect(c.State()).To(Equal(stream.Finished))
		Expect(c.Err()).To(BeNil())
		Expect(testutil.ToFloat64(metrics.chunksDelivered)).To(Equal(1.0))
	})

	It("posts the input as the content field", func() {
		bodies := make(chan map[string]string, 1)
		upstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer GinkgoRecover()
			Expect(r.Method).To(Equal(http.MethodPost))
			Expect(r.URL.Path).To(Equal("/chat/completion"))
			var body map[string]string
			Expect(json.NewDecoder(r.Body).Decode(&body)).To(Succeed())
			bodies <- body
			_, _ = io.WriteString(w, "data: [DONE]\n")
		}))

		collect(start("what is go?"))
		Eventually(bodies).Should(Receive(Equal(map[string]string{"content": "what is go?"})))
	})

	It("delivers two records from one fragment in order", func() {
		upstream = fragmentServer(chunkLine("1", "a")+chunkLine("2", "b"), "data: [DONE]\n")
		Expect(texts(collect(start("x")))).To(Equal([]string{"a", "b"}))
	})

	It("is unaffected by how the upstream fragments the bytes", func() {
		whole := chunkLine("1", "Hel") + ": ping\n" + chunkLine("2", "lo") + "\n" + chunkLine("3", "!") + "data: [DONE]\n"

		var fragments []string
		for i := 0; i < len(whole); i += 7 {
			end := i + 7
			if end > len(whole) {
				end = len(whole)
			}
			fragments = append(fragments, whole[i:end])
		}

		upstream = fragmentServer(fragments...)
		Expect(texts(collect(start("x")))).To(Equal([]string{"Hel", "lo", "!"}))
	})

	It("drops malformed records and keeps streaming", func() {
		upstream = fragmentServer(
			`data: {"id":"x"}`+"\n",
			"data: {not json\n",
			chunkLine("2", "ok"),
			"data: [DONE]\n",
		)
		c := start("x")

		Expect(texts(collect(c))).To(Equal([]string{"ok"}))
		Expect(c.Dropped()).To(Equal(2))
		Expect(testutil.ToFloat64(metrics.chunksDropped.WithLabelValues(ReasonShape))).To(Equal(1.0))
		Expect(testutil.ToFloat64(metrics.chunksDropped.WithLabelValues(ReasonParse))).To(Equal(1.0))
	})

	It("ignores anything after the sentinel", func() {
		upstream = fragmentServer(chunkLine("1", "a") + "data: [DONE]\n" + chunkLine("2", "late"))
		Expect(texts(collect(start("x")))).To(Equal([]string{"a"}))
	})

	It("finishes when the upstream closes without a sentinel", func() {
		upstream = fragmentServer(chunkLine("1", "a"), `data: {"partial":`)
		c := start("x")

		Expect(texts(collect(c))).To(Equal([]string{"a"}))
		Expect(c.State()).To(Equal(stream.Finished))
	})

	It("ends cleanly with no chunks when the upstream is unreachable", func() {
		upstream = httptest.NewServer(http.NotFoundHandler())
		upstream.Close()
		c := start("x")

		Expect(collect(c)).To(BeEmpty())
		Expect(c.State()).To(Equal(stream.Failed))
		Expect(c.Err()).To(HaveOccurred())
		Expect(testutil.ToFloat64(metrics.upstreamErrors)).To(Equal(1.0))
		upstream = nil
	})

	It("treats a non-success status as a transport error", func() {
		upstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
		}))
		c := start("x")

		Expect(collect(c)).To(BeEmpty())
		Expect(c.State()).To(Equal(stream.Failed))
		Expect(c.Err()).To(MatchError(ErrUpstreamStatus))
		Expect(c.Err().Error()).To(ContainSubstring("503"))
		Expect(c.Err().Error()).To(ContainSubstring("overloaded"))
	})

	It("fails the stream when a line never ends", func() {
		opts.MaxLineBytes = 512
		upstream = fragmentServer(chunkLine("1", "a"), "data: "+strings.Repeat("z", 2000))
		c := start("x")

		Expect(texts(collect(c))).To(Equal([]string{"a"}))
		Expect(c.State()).To(Equal(stream.Failed))
		Expect(c.Err()).To(MatchError(sse.ErrLineTooLong))
	})

	It("tears down the upstream connection on cancel", func() {
		released := make(chan struct{})
		upstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = io.WriteString(w, chunkLine("1", "first"))
			w.(http.Flusher).Flush()
			<-r.Context().Done()
			close(released)
		}))
		c := start("x")

		chunk, err := c.Recv(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(chunk.Text()).To(Equal("first"))

		c.Cancel()
		c.Cancel()

		_, err = c.Recv(context.Background())
		Expect(err).To(Equal(io.EOF))
		Expect(c.State()).To(Equal(stream.Canceled))
		Eventually(released).Should(BeClosed())
	})

	Describe("Finish", func() {
		It("summarises a completed stream", func() {
			upstream = fragmentServer(chunkLine("1", "Hi"), `data: {"id":"bad"}`+"\n", "data: [DONE]\n")
			c := start("hello")
			collect(c)

			summary := c.Finish("Hi")
			Expect(summary.ID).To(Equal(c.ID()))
			Expect(summary.State).To(Equal("finished"))
			Expect(summary.Cause).To(BeEmpty())
			Expect(summary.Chunks).To(Equal(1))
			Expect(summary.Dropped).To(Equal(1))
			Expect(summary.InputHash).To(Equal(c.InputHash))
			Expect(c.Finish("ignored")).To(BeIdenticalTo(summary))

			Expect(testutil.ToFloat64(metrics.streamsTotal.WithLabelValues("finished"))).To(Equal(1.0))
			Expect(testutil.ToFloat64(metrics.active)).To(BeZero())
		})

		It("records the failure cause", func() {
			upstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
			}))
			c := start("x")
			collect(c)

			summary := c.Finish("")
			Expect(summary.State).To(Equal("failed"))
			Expect(summary.Cause).To(ContainSubstring("502"))
		})

		It("reports an abandoned stream as canceled", func() {
			upstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				w.(http.Flusher).Flush()
				<-r.Context().Done()
			}))
			c := start("x")

			summary := c.Finish("")
			Expect(summary.State).To(Equal("canceled"))
			Expect(c.State()).To(Equal(stream.Canceled))
		})
	})
})
