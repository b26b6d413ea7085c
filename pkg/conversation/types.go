package conversation

import "time"

// Message roles. The engine only ever appends user/bot pairs.
const (
	RoleUser = "user"
	RoleBot  = "bot"
)

// Message is a single conversation turn half. Immutable once appended;
// ordering is append order.
type Message struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// Conversation is the message log for one agent's dialogue run. At most
// one non-closed conversation exists per agent at any time.
type Conversation struct {
	ID        int64      `json:"id"`
	AgentID   int64      `json:"agentId"`
	Messages  []Message  `json:"messages"`
	Closed    bool       `json:"closed"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`
}

// Filter narrows conversation listings.
type Filter struct {
	AgentID  int64
	Closed   *bool
	Keyword  string
	SortDesc bool
}
