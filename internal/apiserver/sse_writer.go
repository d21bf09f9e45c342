package apiserver

import (
	"bufio"
	"fmt"
	"io"
	"net/http"

	"github.com/bytedance/sonic"

	"chat-proxy/internal/sse"
)

const initialBufferSize = 4096

func sendMessage(writer *bufio.Writer, w io.Writer, msg interface{}) error {
	sendLine, err := sonic.MarshalString(msg)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}

	if _, err := writer.WriteString(sse.DataPrefix + sendLine + "\n\n"); err != nil {
		return fmt.Errorf("write error: %w", err)
	}
	return flushWriter(writer, w)
}

func sendHeartbeat(writer *bufio.Writer, w io.Writer) error {
	if _, err := writer.WriteString(": keepalive\n\n"); err != nil {
		return fmt.Errorf("heartbeat write error: %w", err)
	}
	return flushWriter(writer, w)
}

func sendFinishSignal(writer *bufio.Writer, w io.Writer) error {
	if _, err := writer.WriteString(sse.DataPrefix + sse.DoneSentinel + "\n\n"); err != nil {
		return fmt.Errorf("write finish signal error: %w", err)
	}
	return flushWriter(writer, w)
}

func flushWriter(writer *bufio.Writer, w io.Writer) error {
	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flush error: %w", err)
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}
