package domain

// ChatMessage is a text event delivered by the chat transport
type ChatMessage struct {
	Text      string   `json:"text"`
	AuthorID  string   `json:"author_id"`
	GuildID   string   `json:"guild_id"`
	ChannelID string   `json:"channel_id"`
	IsFromBot bool     `json:"is_from_bot"`
	RoleIDs   []string `json:"role_ids,omitempty"`
}

// LoginIdentity is what a platform adapter knows about a connecting player.
// Platform is optional; when empty the space is inferred from the identifier.
type LoginIdentity struct {
	DisplayName   string `json:"display_name"`
	RawIdentifier string `json:"raw_identifier,omitempty"`
	Platform      Space  `json:"platform,omitempty"`
	XUID          string `json:"xuid,omitempty"`
}

// LoginDecision is the AccessGate answer for one login
type LoginDecision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
	Key     string `json:"key,omitempty"`
}

// ChatReply answers a chat message. Reply is empty when Handled is false.
type ChatReply struct {
	Handled  bool   `json:"handled"`
	Status   string `json:"status,omitempty"`
	Reply    string `json:"reply,omitempty"`
	Degraded bool   `json:"degraded,omitempty"`
}
