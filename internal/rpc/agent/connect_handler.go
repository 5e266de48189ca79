package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bufbuild/connect-go"

	"github.com/loomworks/loom/internal/observability"
	"github.com/loomworks/loom/internal/rpc"
	"github.com/loomworks/loom/internal/rpc/connectjson"
)

const ConnectRunTaskProcedure = "/connect.agent.v1.AgentService/RunTask"

// NewConnectHandler builds a Connect bidi stream handler for RunTask.
func NewConnectHandler(runner Runner, metrics *observability.Metrics) (string, http.Handler) {
	h := &connectRunHandler{runner: runner, metrics: metrics}
	return ConnectRunTaskProcedure, connect.NewBidiStreamHandler(ConnectRunTaskProcedure, h.handle, connect.WithCodec(connectjson.Codec{}))
}

type connectRunHandler struct {
	runner  Runner
	metrics *observability.Metrics
}

type runStream = connect.BidiStream[rpc.RunTaskStreamRequest, rpc.RunTaskEvent]

func (h *connectRunHandler) handle(ctx context.Context, stream *runStream) error {
	if h.metrics != nil {
		h.metrics.IncActiveSessions("connect")
		defer h.metrics.DecActiveSessions("connect")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	req, err := h.firstRunRequest(stream)
	if err != nil {
		return err
	}

	go h.watchControl(ctx, cancel, stream, req.SessionID)

	events, err := h.runner.Run((&http.Request{}).WithContext(ctx), req)
	if err != nil {
		h.record("runner_error")
		return connect.NewError(connect.CodeInternal, err)
	}

	for ev := range events {
		if err := stream.Send(&ev); err != nil {
			h.record("send")
			return err
		}
	}
	return nil
}

// firstRunRequest reads the opening message, which must carry the run
// payload, and fills in session/correlation ids.
func (h *connectRunHandler) firstRunRequest(stream *runStream) (rpc.RunTaskRequest, error) {
	first, err := stream.Receive()
	if err != nil {
		h.record("receive_first")
		return rpc.RunTaskRequest{}, err
	}
	if first == nil || first.Run == nil {
		h.record("missing_run")
		return rpc.RunTaskRequest{}, connect.NewError(connect.CodeInvalidArgument, errors.New("first message must include run payload"))
	}

	req := *first.Run
	if req.SessionID == "" {
		req.SessionID = fmt.Sprintf("session-%d", time.Now().UnixNano())
	}
	if req.CorrelationID == "" {
		req.CorrelationID = req.SessionID + "-corr"
	}
	return req, nil
}

// watchControl consumes client messages after the opening run. A cancel
// naming a tool call aborts only that call and the stream stays live; a
// bare cancel (or stream teardown) stops the whole run.
func (h *connectRunHandler) watchControl(ctx context.Context, cancel context.CancelFunc, stream *runStream, fallbackSession string) {
	for {
		msg, err := stream.Receive()
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				h.record("receive_stream")
			}
			cancel()
			return
		}
		if msg == nil || !msg.Cancel {
			continue
		}
		if msg.ToolCallID != "" {
			if c, ok := h.runner.(CallCanceller); ok {
				session := msg.SessionID
				if session == "" {
					session = fallbackSession
				}
				c.CancelCall(ctx, session, msg.ToolCallID)
				continue
			}
		}
		cancel()
		return
	}
}

func (h *connectRunHandler) record(reason string) {
	if h.metrics != nil {
		h.metrics.RecordTransportError("connect", reason)
	}
}
