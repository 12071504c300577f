package tool

import "strings"

// ContentTypeText is the only content variant produced by the dispatcher.
const ContentTypeText = "text"

// ContentItem is one entry of an envelope's content list.
type ContentItem struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Envelope is the normalized result of a non-streaming invocation. Callers
// tell success from failure by IsError, never by the shape of the response.
type Envelope struct {
	Content []ContentItem `json:"content"`
	IsError bool          `json:"isError"`
}

// Request is one tool invocation as received from a transport.
type Request struct {
	ToolName  string         `json:"toolName"`
	Arguments map[string]any `json:"arguments,omitempty"`

	// Transport labels observations; it never reaches the tool.
	Transport TransportType `json:"-"`
}

// TextEnvelope builds a successful single-item envelope.
func TextEnvelope(text string) Envelope {
	return Envelope{
		Content: []ContentItem{{Type: ContentTypeText, Text: text}},
	}
}

// ErrorEnvelope builds a failed single-item envelope carrying the caller-facing
// message of err.
func ErrorEnvelope(err error) Envelope {
	return Envelope{
		Content: []ContentItem{{Type: ContentTypeText, Text: ErrorMessage(err)}},
		IsError: true,
	}
}

// Text concatenates the text items of the envelope.
func (e Envelope) Text() string {
	if len(e.Content) == 1 {
		return e.Content[0].Text
	}
	parts := make([]string, 0, len(e.Content))
	for _, item := range e.Content {
		if item.Type == ContentTypeText {
			parts = append(parts, item.Text)
		}
	}
	return strings.Join(parts, "\n")
}
