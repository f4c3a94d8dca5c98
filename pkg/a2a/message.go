package a2a

import (
	"strings"

	v "github.com/cohesivestack/valgo"
)

// Message roles.  Agents never speak as "user"; the engine relies on
// the distinction when appending status messages to history.
const (
	RoleUser  = "user"
	RoleAgent = "agent"
)

/*
Message represents all non-artifact communication between client & agent.
*/
type Message struct {
	Role     string         `json:"role"`
	Parts    []Part         `json:"parts"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func NewTextMessage(role string, text string) *Message {
	return &Message{
		Role: role,
		Parts: []Part{
			{Type: PartTypeText, Text: text},
		},
	}
}

func NewFileMessage(role string, file *FileContent) *Message {
	return &Message{
		Role: role,
		Parts: []Part{
			{Type: PartTypeFile, File: file},
		},
	}
}

func NewDataMessage(role string, data map[string]any) *Message {
	return &Message{
		Role: role,
		Parts: []Part{
			{Type: PartTypeData, Data: data},
		},
	}
}

// Validate checks the role tag and every part.
func (msg *Message) Validate() error {
	val := v.Is(
		v.String(msg.Role, "role").InSlice([]string{RoleUser, RoleAgent}),
		v.Number(len(msg.Parts), "parts").GreaterThan(0, "message requires at least one part"),
	)

	if !val.Valid() {
		return val.Error()
	}

	for i := range msg.Parts {
		if err := msg.Parts[i].Validate(); err != nil {
			return err
		}
	}

	return nil
}

// String flattens all text parts, which is what most log lines and
// demo handlers want.
func (msg *Message) String() string {
	var sb strings.Builder

	for _, part := range msg.Parts {
		sb.WriteString(part.Text)
	}

	return sb.String()
}
