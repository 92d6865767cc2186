// Package nlu wraps the external natural-language-understanding
// provider. The provider is treated as unreliable: callers must map
// every error and malformed result to an "unclear" outcome instead of
// propagating loosely-typed data inward.
package nlu

import (
	"context"
	"errors"
)

// ErrClassificationFailed wraps every provider-side failure so callers
// can report it without inspecting HTTP details.
var ErrClassificationFailed = errors.New("classification failed")

// Turn is one prior exchange handed to the provider as context
type Turn struct {
	Role string `json:"role"` // "user" or "assistant"
	Text string `json:"text"`
}

// Classification is the structured result the provider is asked to
// emit. Action is validated against a closed set by the intent
// resolver; unknown values collapse to unclear there.
type Classification struct {
	Action      string `json:"action"`
	Name        string `json:"name,omitempty"`
	Command     string `json:"command,omitempty"`
	Description string `json:"description,omitempty"`
	Reply       string `json:"reply,omitempty"`
}

// Classifier turns free text into a structured classification
type Classifier interface {
	Classify(ctx context.Context, text string, history []Turn) (*Classification, error)
}
