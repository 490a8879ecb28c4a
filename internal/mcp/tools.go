package mcp

// Tool names. Exactly these seven are exposed.
const (
	ToolListRooms      = "messenger.list_rooms"
	ToolSend           = "messenger.send"
	ToolHistory        = "messenger.history"
	ToolDocumentCreate = "office.document.create"
	ToolDocumentGet    = "office.document.get"
	ToolDocumentSearch = "office.document.search"
	ToolLLMComplete    = "office.llm.complete"
)

const (
	roomIDPattern      = "^r:[a-z0-9-]{1,50}$"
	workspaceIDPattern = "^w:[a-z0-9-]{1,50}$"
	messageIDPattern   = "^m:[a-zA-Z0-9-]{1,64}$"
)

// toolDescriptors is the static tools/list payload.
var toolDescriptors = []ToolDescriptor{
	{
		Name:        ToolListRooms,
		Description: "List the rooms in the caller's tenant.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	},
	{
		Name:        ToolSend,
		Description: "Send a message to a room. Returns the stored message with its ledger receipt.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"room_id": map[string]any{"type": "string", "pattern": roomIDPattern},
				"type":    map[string]any{"type": "string", "enum": []string{"text", "system"}},
				"body": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"text": map[string]any{"type": "string"},
					},
					"required": []string{"text"},
				},
				"reply_to":          map[string]any{"type": "string", "pattern": messageIDPattern},
				"client_request_id": map[string]any{"type": "string"},
			},
			"required": []string{"room_id", "body"},
		},
	},
	{
		Name:        ToolHistory,
		Description: "Page a room's recent messages in ascending order.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"room_id": map[string]any{"type": "string", "pattern": roomIDPattern},
				"cursor":  map[string]any{"type": "integer", "minimum": 1},
				"limit":   map[string]any{"type": "integer", "minimum": 1, "maximum": 200},
			},
			"required": []string{"room_id"},
		},
	},
	{
		Name:        ToolDocumentCreate,
		Description: "Store an immutable document in a workspace. Returns the document with its ledger receipt.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"workspace_id": map[string]any{"type": "string", "pattern": workspaceIDPattern},
				"title":        map[string]any{"type": "string", "maxLength": 500},
				"content":      map[string]any{"type": "string", "maxLength": 100000},
			},
			"required": []string{"workspace_id", "title"},
		},
	},
	{
		Name:        ToolDocumentGet,
		Description: "Fetch a workspace document by id.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"workspace_id": map[string]any{"type": "string", "pattern": workspaceIDPattern},
				"document_id":  map[string]any{"type": "string"},
			},
			"required": []string{"workspace_id", "document_id"},
		},
	},
	{
		Name:        ToolDocumentSearch,
		Description: "Case-insensitive substring search over a workspace's documents.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"workspace_id": map[string]any{"type": "string", "pattern": workspaceIDPattern},
				"query":        map[string]any{"type": "string"},
			},
			"required": []string{"workspace_id", "query"},
		},
	},
	{
		Name:        ToolLLMComplete,
		Description: "Run a completion against a workspace. Placeholder output until a model provider is connected.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"workspace_id": map[string]any{"type": "string", "pattern": workspaceIDPattern},
				"prompt":       map[string]any{"type": "string"},
			},
			"required": []string{"workspace_id", "prompt"},
		},
	},
}
