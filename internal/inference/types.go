package inference

import "github.com/localvision/localvision/internal/result"

// Actor identifies who produced an interaction.
type Actor string

const (
	ActorUser      Actor = "user"
	ActorAssistant Actor = "assistant"
)

// Kind is the type of a conversation entry.
type Kind string

const (
	KindText        Kind = "text"
	KindImage       Kind = "image"
	KindDescription Kind = "description"
)

// Interaction is one entry of the conversation history.
type Interaction struct {
	Actor     Actor  `json:"actor"`
	Kind      Kind   `json:"type"`
	Content   string `json:"content,omitempty"`
	ImagePath string `json:"image_path,omitempty"`
}

// EnvelopeKind tells consumers how to treat an envelope.
type EnvelopeKind string

const (
	EnvelopeDescription EnvelopeKind = "description"
	EnvelopeText        EnvelopeKind = "text_response"
	EnvelopeError       EnvelopeKind = "error"
)

// Envelope is the single result delivered for every submitted request.
type Envelope struct {
	Kind    EnvelopeKind `json:"type"`
	Content string       `json:"content"`

	// RequestID matches the value returned by the Submit call.
	RequestID string `json:"request_id,omitempty"`
	// Raw is the model output before markdown stripping. Empty for errors.
	Raw string `json:"-"`
	// Attempts is the number of backend calls made.
	Attempts int `json:"attempts,omitempty"`
}

// IsError reports whether the envelope carries a failure.
func (e Envelope) IsError() bool {
	return e.Kind == EnvelopeError
}

// ResultChannel receives envelopes. Use a fresh channel per request.
type ResultChannel = result.Channel[Envelope]

// NewResultChannel returns an empty channel.
func NewResultChannel() *ResultChannel {
	return result.NewChannel[Envelope]()
}
