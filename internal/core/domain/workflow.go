package domain

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type EventType string

const (
	EventDetails EventType = "details"
	EventToken   EventType = "token"
	EventSources EventType = "sources"
)

type QueryDetails struct {
	Query  string `json:"query"`
	Filter string `json:"filter"`
}

// Event is one step of a streamed query. Data holds QueryDetails for
// details, a string for token and []Source for sources.
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}
