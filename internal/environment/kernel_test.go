package environment

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"

	"github.com/xkilldash9x/strata-cli/api/schemas"
	"github.com/xkilldash9x/strata-cli/internal/config"
)

// fakeGateway mimics the kernel gateway surface the runtime touches: kernel
// start, the channels websocket, and kernel shutdown. The handler echoes each
// execute_request as a scripted IOPub conversation ending in an idle status.
type fakeGateway struct {
	t       *testing.T
	mux     *http.ServeMux
	server  *httptest.Server
	starts  atomic.Int32
	deleted chan string
	replies func(parent kernelHeader) []kernelMessage
}

func newFakeGateway(t *testing.T, replies func(parent kernelHeader) []kernelMessage) *fakeGateway {
	t.Helper()
	g := &fakeGateway{t: t, mux: http.NewServeMux(), deleted: make(chan string, 1), replies: replies}

	g.mux.HandleFunc("/api/kernels", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		g.starts.Add(1)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"k-test","name":"python3"}`))
	})
	g.mux.HandleFunc("/api/kernels/k-test", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		g.deleted <- "k-test"
		w.WriteHeader(http.StatusNoContent)
	})
	g.mux.Handle("/api/kernels/k-test/channels", websocket.Handler(g.serveChannel))

	g.server = httptest.NewServer(g.mux)
	t.Cleanup(g.server.Close)
	return g
}

func (g *fakeGateway) serveChannel(conn *websocket.Conn) {
	for {
		var req kernelMessage
		if err := websocket.JSON.Receive(conn, &req); err != nil {
			return
		}
		if req.Header.MsgType != "execute_request" {
			continue
		}
		for _, msg := range g.replies(req.Header) {
			if err := websocket.JSON.Send(conn, &msg); err != nil {
				return
			}
		}
	}
}

func iopub(parent kernelHeader, msgType string, content string) kernelMessage {
	return kernelMessage{
		Header:       kernelHeader{MsgID: "srv-" + msgType, MsgType: msgType, Session: "srv"},
		ParentHeader: parent,
		Content:      []byte(content),
		Channel:      "iopub",
	}
}

func newTestKernel(t *testing.T, gatewayURL string) *Kernel {
	t.Helper()
	k := NewKernel(testLogger(t), config.KernelConfig{
		GatewayURL:     gatewayURL,
		StartupTimeout: 5 * time.Second,
	})
	t.Cleanup(k.Terminate)
	return k
}

func collectChunks(t *testing.T, chunks <-chan schemas.OutputChunk) []schemas.OutputChunk {
	t.Helper()
	var out []schemas.OutputChunk
	deadline := time.After(5 * time.Second)
	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				return out
			}
			out = append(out, chunk)
		case <-deadline:
			t.Fatal("timed out draining kernel chunks")
		}
	}
}

func TestKernelRun_StreamsStdout(t *testing.T) {
	gw := newFakeGateway(t, func(parent kernelHeader) []kernelMessage {
		return []kernelMessage{
			iopub(parent, "status", `{"execution_state":"busy"}`),
			iopub(parent, "stream", `{"name":"stdout","text":"hello\n"}`),
			iopub(parent, "stream", `{"name":"stdout","text":"world\n"}`),
			iopub(parent, "status", `{"execution_state":"idle"}`),
		}
	})
	k := newTestKernel(t, gw.server.URL)

	chunks, err := k.Run(context.Background(), `print("hello")`)
	require.NoError(t, err)

	got := collectChunks(t, chunks)
	require.Len(t, got, 2)
	assert.Equal(t, "hello\n", got[0].Content)
	assert.Equal(t, "world\n", got[1].Content)
	for _, c := range got {
		assert.Equal(t, schemas.ChunkConsole, c.Type)
		assert.Equal(t, schemas.FormatOutput, c.Format)
	}
}

func TestKernelRun_TracebackBecomesOutput(t *testing.T) {
	gw := newFakeGateway(t, func(parent kernelHeader) []kernelMessage {
		return []kernelMessage{
			iopub(parent, "error", `{"ename":"ZeroDivisionError","evalue":"division by zero","traceback":["Traceback (most recent call last):","ZeroDivisionError: division by zero"]}`),
			iopub(parent, "status", `{"execution_state":"idle"}`),
		}
	})
	k := newTestKernel(t, gw.server.URL)

	chunks, err := k.Run(context.Background(), "1/0")
	require.NoError(t, err)

	got := collectChunks(t, chunks)
	require.Len(t, got, 1)
	assert.Contains(t, got[0].Text(), "ZeroDivisionError: division by zero")
	assert.Contains(t, got[0].Text(), "Traceback")
}

func TestKernelRun_DisplayDataImage(t *testing.T) {
	gw := newFakeGateway(t, func(parent kernelHeader) []kernelMessage {
		return []kernelMessage{
			iopub(parent, "display_data", `{"data":{"image/png":"aGVsbG8=","text/plain":"<Figure>"}}`),
			iopub(parent, "execute_result", `{"data":{"text/plain":"42"}}`),
			iopub(parent, "status", `{"execution_state":"idle"}`),
		}
	})
	k := newTestKernel(t, gw.server.URL)

	chunks, err := k.Run(context.Background(), "plot()")
	require.NoError(t, err)

	got := collectChunks(t, chunks)
	require.Len(t, got, 2)
	assert.Equal(t, schemas.ChunkImage, got[0].Type)
	assert.Equal(t, schemas.FormatBase64PNG, got[0].Format)
	assert.Equal(t, "aGVsbG8=", got[0].Content)
	assert.Equal(t, schemas.ChunkConsole, got[1].Type)
	assert.Equal(t, "42", got[1].Content)
}

func TestKernelRun_IgnoresUnrelatedParents(t *testing.T) {
	gw := newFakeGateway(t, func(parent kernelHeader) []kernelMessage {
		other := parent
		other.MsgID = "someone-else"
		return []kernelMessage{
			iopub(other, "stream", `{"name":"stdout","text":"not yours\n"}`),
			iopub(parent, "stream", `{"name":"stdout","text":"yours\n"}`),
			iopub(parent, "status", `{"execution_state":"idle"}`),
		}
	})
	k := newTestKernel(t, gw.server.URL)

	chunks, err := k.Run(context.Background(), "x")
	require.NoError(t, err)

	got := collectChunks(t, chunks)
	require.Len(t, got, 1)
	assert.Equal(t, "yours\n", got[0].Content)
}

func TestKernelRun_ReusesKernelAcrossRuns(t *testing.T) {
	gw := newFakeGateway(t, func(parent kernelHeader) []kernelMessage {
		return []kernelMessage{
			iopub(parent, "stream", `{"name":"stdout","text":"ok\n"}`),
			iopub(parent, "status", `{"execution_state":"idle"}`),
		}
	})
	k := newTestKernel(t, gw.server.URL)

	for i := 0; i < 2; i++ {
		chunks, err := k.Run(context.Background(), "x")
		require.NoError(t, err)
		collectChunks(t, chunks)
	}
	assert.Equal(t, int32(1), gw.starts.Load())
	assert.Equal(t, "k-test", k.kernelID)
}

func TestKernelTerminate_DeletesKernel(t *testing.T) {
	gw := newFakeGateway(t, func(parent kernelHeader) []kernelMessage {
		return []kernelMessage{iopub(parent, "status", `{"execution_state":"idle"}`)}
	})
	k := newTestKernel(t, gw.server.URL)

	chunks, err := k.Run(context.Background(), "pass")
	require.NoError(t, err)
	collectChunks(t, chunks)

	k.Terminate()
	select {
	case id := <-gw.deleted:
		assert.Equal(t, "k-test", id)
	case <-time.After(2 * time.Second):
		t.Fatal("kernel was never shut down on the gateway")
	}
	assert.Empty(t, k.kernelID)
}

func TestKernelRun_GatewayDown(t *testing.T) {
	k := newTestKernel(t, "http://127.0.0.1:1")
	_, err := k.Run(context.Background(), "x")
	assert.Error(t, err)
}
