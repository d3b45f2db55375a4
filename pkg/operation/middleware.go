package operation

import (
	"context"
	"time"

	"github.com/go-training/sevenpass-client/pkg/core"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.opentelemetry.io/otel/attribute"
)

// ToolHandlerMiddleware gives every tool call a request ID and a span, and
// records its status and duration.
func ToolHandlerMiddleware() server.ToolHandlerMiddleware {
	return func(next server.ToolHandlerFunc) server.ToolHandlerFunc {
		return func(ctx context.Context, req mcp.CallToolRequest) (res *mcp.CallToolResult, err error) {
			ctx = core.WithRequestID(ctx)
			ctx, span := core.StartSpan(ctx, "mcp.tool", attribute.String("mcp.tool", req.Params.Name))
			defer func() { core.EndSpan(span, err) }()

			start := time.Now()
			res, err = next(ctx, req)

			status := "ok"
			var errMsg string
			switch {
			case err != nil:
				status = "error"
				errMsg = err.Error()
			case res != nil && res.IsError:
				status = "error"
				if len(res.Content) > 0 {
					if txt, ok := res.Content[0].(mcp.TextContent); ok {
						errMsg = txt.Text
					}
				}
			}

			attrs := []attribute.KeyValue{
				attribute.String("mcp.status", status),
				attribute.Float64("mcp.duration_ms", float64(time.Since(start).Microseconds())/1000.0),
			}
			if errMsg != "" {
				attrs = append(attrs, attribute.String("mcp.error", errMsg))
			}
			core.AddSpanAttributes(ctx, attrs...)
			return res, err
		}
	}
}
