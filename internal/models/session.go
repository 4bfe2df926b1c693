package models

import "time"

// Snapshot is a read-only copy of a chat session as rendered by the widget.
type Snapshot struct {
	ID           string           `json:"id"`
	Locale       string           `json:"locale"`
	Conversation []Turn           `json:"conversation"`
	Config       EndpointConfig   `json:"config"`
	Status       ConnectionStatus `json:"status"`
	Loading      bool             `json:"loading"`
	Diagnostic   string           `json:"diagnostic,omitempty"`
	CanSend      bool             `json:"can_send"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}
