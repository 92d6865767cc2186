// Package transport defines the narrow event shapes exchanged with a
// chat transport. The orchestration core never speaks a transport's
// wire protocol directly; adapters translate to and from these types.
package transport

// InboundMessage is a single operator message delivered by a transport.
// Exactly one of Text or Voice is expected to be set; when Voice is set
// the orchestrator asks the transcription collaborator for the text.
type InboundMessage struct {
	PrincipalID    string
	ConversationID string
	Text           string
	Voice          []byte
	// VoiceName carries the original filename of the audio blob, so the
	// transcription provider can infer the container format.
	VoiceName string
}

// OutboundMessage is a response produced by the orchestrator for
// delivery back to the operator's conversation. Adapters (console,
// Telegram, ...) own delivery over their wire protocol.
type OutboundMessage struct {
	ConversationID string
	Text           string
}
