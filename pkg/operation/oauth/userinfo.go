// Package oauth provides MCP tools backed by the provider's OpenID Connect
// endpoints.
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/go-training/sevenpass-client/pkg/apiclient"
	"github.com/go-training/sevenpass-client/pkg/core"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Requester sends authenticated GET requests. *apiclient.Client satisfies it.
type Requester interface {
	Get(ctx context.Context, path string, params url.Values, headers http.Header) (*apiclient.Response, error)
}

// FetchUserInfoTool defines the MCP tool for reading the signed-in user's claims.
var FetchUserInfoTool = mcp.NewTool("fetch_user_info",
	mcp.WithDescription("Fetch the signed-in user's claims from the userinfo endpoint"),
)

// HandleFetchUserInfoTool returns a handler that calls endpoint through client.
// An empty endpoint means the provider advertises none.
func HandleFetchUserInfoTool(client Requester, endpoint string) server.ToolHandlerFunc {
	return func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		logger := core.LoggerFromCtx(ctx)
		logger.Info("Handling fetch_user_info tool")

		if endpoint == "" {
			return mcp.NewToolResultError("provider has no userinfo endpoint"), nil
		}

		resp, err := client.Get(ctx, endpoint, nil, nil)
		if err != nil {
			var reqErr *apiclient.Error
			if errors.As(err, &reqErr) {
				logger.Error("Userinfo request failed", "kind", reqErr.Kind, "status", reqErr.StatusCode())
			}
			return mcp.NewToolResultError(err.Error()), nil
		}

		claims := map[string]any{}
		if err := resp.JSON(&claims); err != nil {
			logger.Error("Failed to decode userinfo", "error", err)
			return nil, err
		}

		data, err := json.Marshal(claims)
		if err != nil {
			return nil, err
		}
		logger.Info("Successfully retrieved userinfo")
		return mcp.NewToolResultText(string(data)), nil
	}
}
