// Package token provides MCP tools for authenticated requests and for showing
// the held tokens.
package token

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-training/sevenpass-client/pkg/apiclient"
	"github.com/go-training/sevenpass-client/pkg/core"
	tokenset "github.com/go-training/sevenpass-client/pkg/token"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Requester sends authenticated GET requests. *apiclient.Client satisfies it.
type Requester interface {
	Get(ctx context.Context, path string, params url.Values, headers http.Header) (*apiclient.Response, error)
}

// Holder exposes the held token set. *token.Manager satisfies it.
type Holder interface {
	Snapshot() (tokenset.Set, bool)
}

// MakeAuthenticatedRequestTool defines the MCP tool for making authenticated HTTP requests.
var MakeAuthenticatedRequestTool = mcp.NewTool("make_authenticated_request",
	mcp.WithDescription("Send an authenticated GET request to the account API. The access token is refreshed first when it is about to expire."),
	mcp.WithString("path",
		mcp.Description("Path relative to the API base URL, e.g. \"me\", or an absolute URL"),
		mcp.Required(),
	),
	mcp.WithString("query",
		mcp.Description("Optional URL encoded query string, e.g. \"fields=email\""),
	),
)

// ShowAuthTokenTool defines the MCP tool for displaying the held tokens.
var ShowAuthTokenTool = mcp.NewTool("show_auth_token",
	mcp.WithDescription("Show the currently held tokens, masked"),
)

// HandleMakeAuthenticatedRequestTool returns a handler that sends the request
// through client and returns the response body.
func HandleMakeAuthenticatedRequestTool(client Requester) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		logger := core.LoggerFromCtx(ctx)
		logger.Info("Handling make_authenticated_request tool")

		args := request.GetArguments()
		path, ok := args["path"].(string)
		if !ok || strings.TrimSpace(path) == "" {
			logger.Error("Missing path argument")
			return nil, fmt.Errorf("missing path")
		}

		var params url.Values
		if raw, _ := args["query"].(string); raw != "" {
			var err error
			params, err = url.ParseQuery(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid query: %w", err)
			}
		}

		resp, err := client.Get(ctx, path, params, nil)
		if err != nil {
			logger.Error("HTTP request failed", "error", err)
			return mcp.NewToolResultError(err.Error()), nil
		}
		logger.Info("HTTP request succeeded", "status", resp.StatusCode)
		return mcp.NewToolResultText(string(resp.Body)), nil
	}
}

type maskedSet struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	IDToken      string    `json:"id_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	Scope        string    `json:"scope,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitzero"`
}

// HandleShowAuthTokenTool returns a handler that reports the held token set
// with every token masked.
func HandleShowAuthTokenTool(tokens Holder) server.ToolHandlerFunc {
	return func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		set, ok := tokens.Snapshot()
		if !ok {
			return mcp.NewToolResultError("not signed in"), nil
		}

		data, err := json.Marshal(maskedSet{
			AccessToken:  core.MaskToken(set.AccessToken),
			RefreshToken: core.MaskToken(set.RefreshToken),
			IDToken:      core.MaskToken(set.IDToken),
			TokenType:    set.TokenType,
			Scope:        set.Scope,
			ExpiresAt:    set.Expiry,
		})
		if err != nil {
			return nil, err
		}
		return mcp.NewToolResultText(string(data)), nil
	}
}
