package domain

// InboundTurn is one message received from a learner.
type InboundTurn struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name,omitempty"`
	Message  string `json:"message"`
	ImageURL string `json:"image_url,omitempty"`
}

// OutboundTurn is the reply for one inbound message.
type OutboundTurn struct {
	Response    string         `json:"response"`
	Expectation string         `json:"expectation"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}
