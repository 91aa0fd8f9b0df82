// File: internal/environment/kernel.go
// Description: Kernel-style Python runtime. Instead of a bare subprocess it
// drives a long-lived Jupyter kernel through a kernel gateway: code goes out
// as an execute_request on the kernel's websocket channel and a listener
// converts the asynchronous IOPub traffic (stream text, rich display data,
// tracebacks, idle status) into the same output-chunk shape the subprocess
// runtime produces.

package environment

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/net/websocket"

	"github.com/xkilldash9x/strata-cli/api/schemas"
	"github.com/xkilldash9x/strata-cli/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Kernel is the Python runtime backed by a Jupyter-style kernel gateway.
type Kernel struct {
	logger *zap.Logger
	cfg    config.KernelConfig
	client *http.Client

	mu       sync.Mutex
	kernelID string
	conn     *websocket.Conn
	session  string
}

// NewKernel creates the runtime without contacting the gateway; the kernel is
// started lazily on the first Run.
func NewKernel(logger *zap.Logger, cfg config.KernelConfig) *Kernel {
	timeout := cfg.StartupTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Kernel{
		logger:  logger.Named("env.python"),
		cfg:     cfg,
		client:  &http.Client{Timeout: timeout},
		session: uuid.NewString(),
	}
}

func (k *Kernel) Name() string      { return "Python" }
func (k *Kernel) Aliases() []string { return []string{"py"} }

// -- Jupyter wire structures --

type kernelHeader struct {
	MsgID    string `json:"msg_id"`
	MsgType  string `json:"msg_type"`
	Session  string `json:"session"`
	Username string `json:"username"`
	Version  string `json:"version"`
	Date     string `json:"date"`
}

type kernelMessage struct {
	Header       kernelHeader        `json:"header"`
	ParentHeader kernelHeader        `json:"parent_header"`
	Metadata     map[string]any      `json:"metadata"`
	Content      jsoniter.RawMessage `json:"content"`
	Channel      string              `json:"channel"`
}

type streamContent struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

type errorContent struct {
	EName     string   `json:"ename"`
	EValue    string   `json:"evalue"`
	Traceback []string `json:"traceback"`
}

type displayContent struct {
	Data map[string]any `json:"data"`
}

type statusContent struct {
	ExecutionState string `json:"execution_state"`
}

// ensureStarted starts a kernel on the gateway and opens its channel
// websocket if not already connected.
func (k *Kernel) ensureStarted(ctx context.Context) error {
	if k.conn != nil {
		return nil
	}

	body, _ := json.Marshal(map[string]string{"name": k.kernelName()})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(k.cfg.GatewayURL, "/")+"/api/kernels", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build kernel start request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	k.authorize(req.Header)

	resp, err := k.client.Do(req)
	if err != nil {
		return fmt.Errorf("start kernel: %w", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("kernel gateway returned %d: %s", resp.StatusCode, string(raw))
	}

	var started struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &started); err != nil || started.ID == "" {
		return fmt.Errorf("unexpected kernel start response: %s", string(raw))
	}
	k.kernelID = started.ID

	wsURL := strings.TrimRight(k.cfg.GatewayURL, "/") + "/api/kernels/" + k.kernelID + "/channels"
	wsURL = strings.Replace(wsURL, "http", "ws", 1)

	wsCfg, err := websocket.NewConfig(wsURL, k.cfg.GatewayURL)
	if err != nil {
		return fmt.Errorf("websocket config: %w", err)
	}
	k.authorize(wsCfg.Header)

	conn, err := websocket.DialConfig(wsCfg)
	if err != nil {
		return fmt.Errorf("dial kernel channel: %w", err)
	}
	k.conn = conn

	k.logger.Info("Kernel started", zap.String("kernel_id", k.kernelID), zap.String("name", k.kernelName()))
	return nil
}

func (k *Kernel) kernelName() string {
	if k.cfg.KernelName != "" {
		return k.cfg.KernelName
	}
	return "python3"
}

func (k *Kernel) authorize(h http.Header) {
	if k.cfg.AuthToken != "" {
		h.Set("Authorization", "token "+k.cfg.AuthToken)
	}
}

// Run submits the code as an execute_request and streams the kernel's
// asynchronous replies as output chunks until the kernel reports idle for
// this request.
func (k *Kernel) Run(ctx context.Context, code string) (<-chan schemas.OutputChunk, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if err := k.ensureStarted(ctx); err != nil {
		return nil, err
	}

	msgID := uuid.NewString()
	content, _ := json.Marshal(map[string]any{
		"code":             code,
		"silent":           false,
		"store_history":    true,
		"user_expressions": map[string]any{},
		"allow_stdin":      false,
		"stop_on_error":    true,
	})
	request := kernelMessage{
		Header: kernelHeader{
			MsgID:    msgID,
			MsgType:  "execute_request",
			Session:  k.session,
			Username: "strata",
			Version:  "5.3",
			Date:     time.Now().UTC().Format(time.RFC3339),
		},
		Metadata: map[string]any{},
		Content:  content,
		Channel:  "shell",
	}
	if err := websocket.JSON.Send(k.conn, &request); err != nil {
		return nil, fmt.Errorf("send execute_request: %w", err)
	}

	out := make(chan schemas.OutputChunk, 16)
	conn := k.conn

	go func() {
		defer close(out)
		for {
			var msg kernelMessage
			if err := websocket.JSON.Receive(conn, &msg); err != nil {
				k.logger.Warn("Kernel channel closed during execution", zap.Error(err))
				out <- schemas.OutputChunk{Type: schemas.ChunkConsole, Format: schemas.FormatOutput,
					Content: fmt.Sprintf("kernel channel error: %v", err)}
				return
			}
			if msg.ParentHeader.MsgID != msgID {
				continue
			}
			select {
			case <-ctx.Done():
				return
			default:
			}

			switch msg.Header.MsgType {
			case "status":
				var sc statusContent
				if json.Unmarshal(msg.Content, &sc) == nil && sc.ExecutionState == "idle" {
					return
				}
			case "stream":
				var sc streamContent
				if json.Unmarshal(msg.Content, &sc) == nil && sc.Text != "" {
					out <- schemas.OutputChunk{Type: schemas.ChunkConsole, Format: schemas.FormatOutput, Content: sc.Text}
				}
			case "error":
				var ec errorContent
				if json.Unmarshal(msg.Content, &ec) == nil {
					out <- schemas.OutputChunk{Type: schemas.ChunkConsole, Format: schemas.FormatOutput,
						Content: strings.Join(ec.Traceback, "\n")}
				}
			case "display_data", "execute_result":
				var dc displayContent
				if json.Unmarshal(msg.Content, &dc) != nil {
					continue
				}
				if img, ok := dc.Data["image/png"].(string); ok {
					out <- schemas.OutputChunk{Type: schemas.ChunkImage, Format: schemas.FormatBase64PNG, Content: img}
				} else if txt, ok := dc.Data["text/plain"].(string); ok {
					out <- schemas.OutputChunk{Type: schemas.ChunkConsole, Format: schemas.FormatOutput, Content: txt}
				}
			}
		}
	}()

	return out, nil
}

// Terminate closes the channel websocket and shuts the kernel down on the
// gateway.
func (k *Kernel) Terminate() {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.conn != nil {
		k.conn.Close()
		k.conn = nil
	}
	if k.kernelID == "" {
		return
	}
	req, err := http.NewRequest(http.MethodDelete,
		strings.TrimRight(k.cfg.GatewayURL, "/")+"/api/kernels/"+k.kernelID, nil)
	if err == nil {
		k.authorize(req.Header)
		if resp, err := k.client.Do(req); err == nil {
			resp.Body.Close()
		}
	}
	k.kernelID = ""
}
