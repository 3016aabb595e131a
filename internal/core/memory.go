package core

import "context"

// TurnResult is what a collaborator (chat transport, API layer) receives for one handled turn.
type TurnResult struct {
	ResponseText   string              `json:"response_text"`
	ConversationID string              `json:"conversation_id"`
	Trace          *ObservabilityTrace `json:"trace"`
}

type TurnHandler interface {
	HandleTurn(ctx context.Context, userID, conversationID, message string) (*TurnResult, error)
}
