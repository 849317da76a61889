package models

import "time"

// ChatMetadata stores information about a chat. The call id of a call between
// two participants is derived from the chat id.
type ChatMetadata struct {
	ID           string    `json:"id"`
	Code         string    `json:"code"` // Short, shareable chat code (e.g. "ABCD123")
	Name         string    `json:"name,omitempty"`
	Participants []string  `json:"participants"`
	CreatorID    string    `json:"creatorId"`
	CreatedAt    time.Time `json:"createdAt"`
	IsGroup      bool      `json:"isGroup,omitempty"`
}

// CreateChatRequest is the request body for creating a chat
type CreateChatRequest struct {
	Participants []string `json:"participants" binding:"required,min=1"`
	Name         string   `json:"name,omitempty"`
	IsGroup      bool     `json:"isGroup,omitempty"`
}

// CreateChatResponse is the response for creating a chat
type CreateChatResponse struct {
	ChatID string `json:"chatId"`
	Code   string `json:"code"`
}
