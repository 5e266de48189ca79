package cli

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/bufbuild/connect-go"
	"github.com/spf13/cobra"
	"golang.org/x/net/http2"

	"github.com/loomworks/loom/internal/rpc"
	agentrpc "github.com/loomworks/loom/internal/rpc/agent"
	"github.com/loomworks/loom/internal/rpc/connectjson"
	"github.com/loomworks/loom/internal/tools"
)

// NewRunCmd wires the run command to stream events from the daemon.
func NewRunCmd(opts *Options) *cobra.Command {
	var mode string
	var task bool
	var contextPaths []string
	var modelOverride string

	cmd := &cobra.Command{
		Use:   "run \"<prompt>\"",
		Short: "Send a prompt to the daemon and stream events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}

			prompt := args[0]
			if strings.TrimSpace(prompt) == "" {
				return fmt.Errorf("prompt cannot be empty")
			}
			switch mode {
			case "", "agent", "chat":
			default:
				return fmt.Errorf("unknown mode %q (want agent or chat)", mode)
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			sessionID := fmt.Sprintf("cli-%d", time.Now().UnixNano())

			reqBody := rpc.RunTaskRequest{
				SessionID:     sessionID,
				CorrelationID: sessionID + "-corr",
				Mode:          mode,
				Model:         modelOverride,
				Task:          task,
				Prompt:        prompt,
				ContextPaths:  contextPaths,
			}

			baseURL := daemonURL(cfg.Server.Addr)
			switch strings.ToLower(strings.TrimSpace(cfg.Server.Transport)) {
			case "ndjson":
				return runNDJSON(ctx, cmd, baseURL+"/agent/run", reqBody)
			default:
				return runConnect(ctx, cmd, baseURL+agentrpc.ConnectRunTaskProcedure, reqBody)
			}
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "", "Loop mode: agent or chat (default agent)")
	cmd.Flags().BoolVar(&task, "task", false, "Run the full phase pipeline instead of a single turn")
	cmd.Flags().StringSliceVar(&contextPaths, "context", nil, "Context paths resolved inside the daemon sandbox (repeatable or comma-separated)")
	cmd.Flags().StringVar(&modelOverride, "model", "", "Override model id for this run")
	return cmd
}

func daemonURL(addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return addr
	}
	if strings.HasPrefix(addr, ":") {
		return "http://localhost" + addr
	}
	return "http://" + addr
}

func runNDJSON(ctx context.Context, cmd *cobra.Command, url string, reqBody rpc.RunTaskRequest) error {
	data, err := json.Marshal(reqBody)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("daemon returned status %d", resp.StatusCode)
	}

	// json.Decoder instead of a line scanner: events can exceed any
	// fixed line buffer once tool payloads are attached.
	dec := json.NewDecoder(resp.Body)
	for {
		var evt rpc.RunTaskEvent
		if err := dec.Decode(&evt); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("decode event: %w", err)
		}
		if err := renderEvent(cmd, evt); err != nil {
			return err
		}
	}
}

func runConnect(ctx context.Context, cmd *cobra.Command, url string, reqBody rpc.RunTaskRequest) error {
	client := connect.NewClient[rpc.RunTaskStreamRequest, rpc.RunTaskEvent](buildH2CClient(), url, connect.WithCodec(connectjson.Codec{}))
	stream := client.CallBidiStream(ctx)

	if err := stream.Send(&rpc.RunTaskStreamRequest{Run: &reqBody}); err != nil {
		return err
	}

	// propagate cancellation to the daemon.
	go func() {
		<-ctx.Done()
		_ = stream.Send(&rpc.RunTaskStreamRequest{Cancel: true, SessionID: reqBody.SessionID, CorrelationID: reqBody.CorrelationID})
		_ = stream.CloseRequest()
	}()

	for {
		evt, err := stream.Receive()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if err := renderEvent(cmd, *evt); err != nil {
			return err
		}
	}
	_ = stream.CloseRequest()
	return stream.CloseResponse()
}

// renderEvent prints one stream event. Assistant text carries the run's
// content; phase and tool events are framed so interleaved output stays
// readable.
func renderEvent(cmd *cobra.Command, evt rpc.RunTaskEvent) error {
	out := cmd.OutOrStdout()
	switch evt.Type {
	case rpc.EventPhaseStart:
		fmt.Fprintf(out, "[%s]\n", evt.Phase)
	case rpc.EventPhaseIncomplete:
		fmt.Fprintf(out, "[%s] stopped at iteration cap (%d)\n", evt.Phase, evt.Iteration)
	case rpc.EventAssistant:
		if evt.Message != "" {
			fmt.Fprintln(out, evt.Message)
		}
	case rpc.EventToolResult:
		res := evt.Result
		if res == nil || res.Status == tools.StatusExecuting {
			return nil
		}
		fmt.Fprintf(out, "[tool %s %s] %s\n", res.ToolName, res.Status, resultLine(res))
	case rpc.EventDone:
		// The final content already streamed as assistant events.
		if evt.FinishReason != "" && evt.FinishReason != "stop" {
			fmt.Fprintf(out, "[done: %s]\n", evt.FinishReason)
			return nil
		}
		fmt.Fprintln(out, "[done]")
	case rpc.EventError:
		return fmt.Errorf("daemon error: %s", evt.Error)
	}
	return nil
}

func resultLine(res *tools.Result) string {
	line := res.Preview
	if line == "" {
		line = res.Content()
	}
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	if len(line) > 160 {
		line = line[:160] + "..."
	}
	return line
}

// buildH2CClient speaks HTTP/2 over plaintext, matching the daemon's
// h2c listener.
func buildH2CClient() *http.Client {
	return &http.Client{
		Transport: &http2.Transport{
			AllowHTTP: true,
			DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, network, addr)
			},
		},
	}
}
