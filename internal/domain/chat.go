package domain

// Chat roles understood by the LLM integration.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is the provider-agnostic prompt message shape passed from the
// orchestrator to the LLM client.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// RoleFor maps a stored message direction onto the chat role it plays when
// replayed as history.
func RoleFor(d Direction) string {
	if d == DirectionOut {
		return RoleAssistant
	}
	return RoleUser
}
