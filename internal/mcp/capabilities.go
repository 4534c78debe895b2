package mcp

// ServerCapabilities represents the capabilities exposed by the MCP server
type ServerCapabilities struct {
	Tools *ToolsCapability `json:"tools,omitempty"`
}

// ToolsCapability represents the tools capability. The catalogue is fixed at
// startup, so ListChanged is always false.
type ToolsCapability struct {
	ListChanged bool `json:"listChanged"`
}

// ServerInfo identifies this server to the client
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeResult represents the result of the initialize request
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      ServerInfo         `json:"serverInfo"`
	Instructions    string             `json:"instructions,omitempty"`
}

const instructions = "Read-only access to curated OSINT collections. " +
	"Start with get_latest_briefing, then follow suggestedNextCalls in each response."

// negotiateVersion echoes a supported client revision and falls back to
// ProtocolVersion for anything else.
func negotiateVersion(requested string) string {
	for _, v := range supportedVersions {
		if v == requested {
			return v
		}
	}
	return ProtocolVersion
}

// handleInitialize builds the initialize result for the client's params.
func (s *Server) handleInitialize(params map[string]interface{}) *InitializeResult {
	requested, _ := params["protocolVersion"].(string)
	version := negotiateVersion(requested)

	s.logger.Info("MCP client initializing",
		"clientInfo", params["clientInfo"],
		"requestedVersion", requested,
		"protocolVersion", version,
	)

	return &InitializeResult{
		ProtocolVersion: version,
		Capabilities: ServerCapabilities{
			Tools: &ToolsCapability{ListChanged: false},
		},
		ServerInfo: ServerInfo{
			Name:    s.name,
			Version: s.version,
		},
		Instructions: instructions,
	}
}
