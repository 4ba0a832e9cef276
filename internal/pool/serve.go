package pool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/CZERTAINLY/jqplay/internal/jq"
	"github.com/CZERTAINLY/jqplay/internal/model"
)

// Serve is the worker side of ProcessSpawner: it reads WireRequests from r
// and writes a WireReply per request to w until r is closed.
func Serve(ctx context.Context, r io.Reader, w io.Writer, ev jq.Evaluator) error {
	dec := json.NewDecoder(r)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for {
		var req WireRequest
		if err := dec.Decode(&req); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("decoding request: %w", err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		reply := WireReply{ID: req.ID}
		if flags, err := model.ParseFlags(model.Strings(req.Options)); err != nil {
			reply.Error = err.Error()
		} else {
			out := ev.Evaluate(ctx, req.Input, req.Query, flags)
			reply.Stdout, reply.Stderr = out.Stdout, out.Stderr
		}
		slog.DebugContext(ctx, "request served", "request_id", req.ID)

		if err := enc.Encode(reply); err != nil {
			return fmt.Errorf("encoding reply: %w", err)
		}
	}
}
