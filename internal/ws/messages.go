package ws

import "fmt"

// Message is one inbound client command. The Type field selects the variant;
// optional fields are pointers so a missing field is distinguishable from a
// zero value.
type Message struct {
	Type string   `json:"type"`
	URL  string   `json:"url,omitempty"`
	X    *float64 `json:"x,omitempty"`
	Y    *float64 `json:"y,omitempty"`
	Text *string  `json:"text,omitempty"`
	Key  *string  `json:"key,omitempty"`
}

// MissingFieldError rejects a command before any browser interaction.
type MissingFieldError struct {
	Command string
	Field   string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("%s requires %s", e.Command, e.Field)
}

// UnknownCommandError rejects an unrecognized message type.
type UnknownCommandError struct {
	Type string
}

func (e *UnknownCommandError) Error() string {
	return fmt.Sprintf("unrecognized command: %q", e.Type)
}
