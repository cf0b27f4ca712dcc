package request

// CreateRoomRequest is the request body for creating a room. The caller
// becomes the host; an X-Player-ID header reuses an existing identity.
type CreateRoomRequest struct {
	Name        string `json:"name,omitempty"`
	DisplayName string `json:"display_name"`
	MinPlayers  int    `json:"min_players,omitempty"`
	MaxPlayers  int    `json:"max_players,omitempty"`
	Private     bool   `json:"private,omitempty"`
	Secret      string `json:"secret,omitempty"`
}

// JoinRoomRequest is the request body for joining a room
type JoinRoomRequest struct {
	DisplayName string `json:"display_name"`
	Secret      string `json:"secret,omitempty"`
}

// PostChatRequest is the request body for posting a chat message
type PostChatRequest struct {
	Body            string `json:"body"`
	ClientMessageID string `json:"client_message_id,omitempty"`
}
