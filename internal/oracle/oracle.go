// Package oracle turns a routing context and a registry snapshot into one
// routing decision.
//
// The reasoning backend is behind the Oracle interface and answers in free
// text (or JSON). The Adapter builds the prompt, calls the backend with a
// timeout behind a circuit breaker, parses and validates the answer and,
// when anything goes wrong, substitutes a deterministic fallback decision.
// Decide never returns an error.
package oracle

import (
	"context"
	"errors"

	"github.com/mbd888/payroute/internal/payment"
)

var (
	ErrEmptyCompletion  = errors.New("oracle: empty completion")
	ErrNoProcessor      = errors.New("oracle: no processor found in output")
	ErrInvalidSelection = errors.New("oracle: selected processor is not eligible")
	ErrNotConfigured    = errors.New("oracle: backend not configured")
)

// Prompt is one request to a reasoning backend.
type Prompt struct {
	System    string            `json:"system"`
	User      string            `json:"user"`
	Effort    payment.Effort    `json:"reasoningEffort"`
	Verbosity payment.Verbosity `json:"verbosity"`
	MaxTokens int               `json:"maxTokens"`

	// Input is the structured context the text was rendered from.
	Input Request `json:"-"`
}

// Completion is the backend's raw answer.
type Completion struct {
	Text  string        `json:"text"`
	Usage payment.Usage `json:"usage"`
}

// Oracle is a reasoning backend.
type Oracle interface {
	Name() string
	Complete(ctx context.Context, p Prompt) (Completion, error)
}

// Func adapts a function to the Oracle interface.
type Func struct {
	ID string
	Fn func(ctx context.Context, p Prompt) (Completion, error)
}

func (f Func) Name() string { return f.ID }

func (f Func) Complete(ctx context.Context, p Prompt) (Completion, error) {
	return f.Fn(ctx, p)
}
