package service

import (
	"bufio"
	"encoding/json"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gofiber/fiber/v3"
	"github.com/theapemachine/a2a-core/pkg/jsonrpc"
	"github.com/theapemachine/a2a-core/pkg/service/sse"
)

// DefaultHeartbeat is how often an idle stream emits a comment frame so
// proxies and load balancers keep the connection open.
const DefaultHeartbeat = 25 * time.Second

/*
streamResponse upgrades an RPC call into a server-sent event stream.
Each event queued on the subscription is wrapped in a JSON-RPC response
envelope carrying the id of the request that opened the stream, so a
client multiplexing calls over one connection can correlate frames.

The writer runs after the request handler has returned, which is why
the request id is detached from the request buffer before capture.
*/
func (srv *Server) streamResponse(ctx fiber.Ctx, requestID json.RawMessage, subscription *sse.Subscription) error {
	ctx.Set(fiber.HeaderContentType, "text/event-stream")
	ctx.Set(fiber.HeaderCacheControl, "no-cache")
	ctx.Set(fiber.HeaderConnection, "keep-alive")
	ctx.Set("X-Accel-Buffering", "no")

	id := append(json.RawMessage(nil), requestID...)

	heartbeat := srv.heartbeat

	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}

	return ctx.SendStreamWriter(func(w *bufio.Writer) {
		defer subscription.Cancel()

		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()

		for {
			select {
			case event, ok := <-subscription.Events:
				if !ok {
					if rpcErr := subscription.Err(); rpcErr != nil {
						writeFrame(w, jsonrpc.NewErrorResponse(id, rpcErr))
					}

					return
				}

				if writeFrame(w, jsonrpc.NewResponse(id, json.RawMessage(event.Data))) != nil {
					return
				}

				if event.Final {
					return
				}
			case <-ticker.C:
				if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
					return
				}

				if err := w.Flush(); err != nil {
					return
				}
			}
		}
	})
}

// writeFrame marshals one response envelope into an SSE data frame and
// flushes it out immediately.
func writeFrame(w *bufio.Writer, response jsonrpc.Response) error {
	payload, err := json.Marshal(response)

	if err != nil {
		log.Error("failed to encode stream frame", "error", err)
		return err
	}

	if _, err = fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
		return err
	}

	return w.Flush()
}
