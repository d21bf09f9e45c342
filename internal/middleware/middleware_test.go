package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"

	"github.com/labstack/echo/v4"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"chat-proxy/internal/logger"
)

func serve(e *echo.Echo, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/secret", nil)
	if header != "" {
		req.Header.Set(echo.HeaderAuthorization, header)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

var _ = Describe("BearerAuth", func() {
	var e *echo.Echo

	BeforeEach(func() {
		e = echo.New()
		e.GET("/secret", func(c echo.Context) error {
			return c.String(http.StatusOK, "ok")
		}, BearerAuth("s3cret"))
	})

	DescribeTable("rejects bad credentials",
		func(header string) {
			Expect(serve(e, header).Code).To(Equal(http.StatusUnauthorized))
		},
		Entry("missing header", ""),
		Entry("wrong scheme", "Basic s3cret"),
		Entry("empty token", "Bearer "),
		Entry("wrong token", "Bearer nope"),
	)

	It("lets a valid token through", func() {
		rec := serve(e, "Bearer s3cret")
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(Equal("ok"))
	})
})

var _ = Describe("RequestLogger", func() {
	It("logs method, uri and status", func() {
		var buf bytes.Buffer
		e := echo.New()
		e.Use(RequestLogger(logger.New(logger.WithWriter(&buf))))
		e.GET("/ping", func(c echo.Context) error {
			return c.String(http.StatusTeapot, "short and stout")
		})

		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))

		Expect(rec.Code).To(Equal(http.StatusTeapot))
		Expect(buf.String()).To(ContainSubstring("uri=/ping"))
		Expect(buf.String()).To(ContainSubstring("status=418"))
	})
})
