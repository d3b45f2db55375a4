package operation

import (
	"github.com/go-training/sevenpass-client/pkg/operation/oauth"
	"github.com/go-training/sevenpass-client/pkg/operation/token"

	"github.com/mark3labs/mcp-go/server"
)

// Deps are the collaborators the tools act through.
type Deps struct {
	// Client sends authenticated requests, usually an *apiclient.Client.
	Client token.Requester
	// Tokens exposes the held token set, usually a *token.Manager.
	Tokens token.Holder
	// UserinfoEndpoint is the provider's userinfo endpoint, empty if none.
	UserinfoEndpoint string
}

/*
RegisterAuthTool registers the authenticated client tools to the specified MCPServer instance.

Parameters:
  - s: Pointer to the MCPServer instance where the tools will be registered.
  - deps: The client and token holder the tools use.

This function registers make_authenticated_request, show_auth_token and fetch_user_info.
*/
func RegisterAuthTool(s *server.MCPServer, deps Deps) {
	tool := &Tool{}

	tool.RegisterRead(server.ServerTool{
		Tool:    token.MakeAuthenticatedRequestTool,
		Handler: token.HandleMakeAuthenticatedRequestTool(deps.Client),
	})
	tool.RegisterRead(server.ServerTool{
		Tool:    token.ShowAuthTokenTool,
		Handler: token.HandleShowAuthTokenTool(deps.Tokens),
	})
	tool.RegisterRead(server.ServerTool{
		Tool:    oauth.FetchUserInfoTool,
		Handler: oauth.HandleFetchUserInfoTool(deps.Client, deps.UserinfoEndpoint),
	})

	s.AddTools(tool.Tools()...)
}

// NewMCPServer creates an MCPServer with the authenticated client tools registered.
func NewMCPServer(name, version string, deps Deps) *server.MCPServer {
	s := server.NewMCPServer(
		name,
		version,
		server.WithToolCapabilities(true),
		server.WithLogging(),
		server.WithRecovery(),
		server.WithToolHandlerMiddleware(ToolHandlerMiddleware()),
	)
	RegisterAuthTool(s, deps)
	return s
}

// Tool collects ServerTools before they are added to an MCPServer. Every tool
// here only reads, so they are listed in registration order.
type Tool struct {
	read []server.ServerTool
}

// RegisterRead adds a tool that only reads.
func (t *Tool) RegisterRead(s server.ServerTool) {
	t.read = append(t.read, s)
}

// Tools returns the registered tools.
func (t *Tool) Tools() []server.ServerTool {
	return append([]server.ServerTool(nil), t.read...)
}
