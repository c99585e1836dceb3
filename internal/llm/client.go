// Package llm defines the completion contract used by the tutor and its
// provider implementations.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrCompletion is returned, wrapped, for every failed completion: transport
// errors, provider errors, timeouts and empty replies alike.
var ErrCompletion = errors.New("llm completion failed")

// Request is a single system+user completion.
type Request struct {
	System      string
	User        string
	JSONMode    bool
	Temperature float32
	MaxTokens   int
}

// Completer produces a completion for a request.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, req Request) (string, error)

// Complete calls f.
func (f CompleterFunc) Complete(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// Unavailable is a Completer that always fails. It lets the tutor run on its
// deterministic fallbacks when no provider is configured.
type Unavailable struct{}

// Complete always returns ErrCompletion.
func (Unavailable) Complete(context.Context, Request) (string, error) {
	return "", fmt.Errorf("%w: no provider configured", ErrCompletion)
}

// WithTimeout bounds every call made through c. A call that exceeds d fails
// with ErrCompletion.
func WithTimeout(c Completer, d time.Duration) Completer {
	if d <= 0 {
		return c
	}
	return CompleterFunc(func(ctx context.Context, req Request) (string, error) {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()

		type result struct {
			text string
			err  error
		}
		done := make(chan result, 1)
		go func() {
			text, err := c.Complete(ctx, req)
			done <- result{text, err}
		}()

		select {
		case r := <-done:
			if r.err != nil && !errors.Is(r.err, ErrCompletion) {
				return "", fmt.Errorf("%w: %w", ErrCompletion, r.err)
			}
			return r.text, r.err
		case <-ctx.Done():
			return "", fmt.Errorf("%w: %w", ErrCompletion, ctx.Err())
		}
	})
}

// CompleteJSON requests a JSON reply and decodes it into out. Unknown fields
// are rejected so a reply that does not match the declared shape fails as a
// whole.
func CompleteJSON(ctx context.Context, c Completer, req Request, out any) error {
	req.JSONMode = true
	text, err := c.Complete(ctx, req)
	if err != nil {
		return err
	}
	return DecodeJSON(text, out)
}

// DecodeJSON strictly decodes a model reply. Markdown code fences around the
// object are tolerated; anything else around it is not.
func DecodeJSON(text string, out any) error {
	body := strings.TrimSpace(text)
	if strings.HasPrefix(body, "```") {
		body = strings.TrimPrefix(body, "```json")
		body = strings.TrimPrefix(body, "```")
		body = strings.TrimSuffix(strings.TrimSpace(body), "```")
		body = strings.TrimSpace(body)
	}
	if body == "" {
		return fmt.Errorf("%w: empty reply", ErrCompletion)
	}

	dec := json.NewDecoder(strings.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("decode reply: %w", err)
	}
	if dec.More() {
		return fmt.Errorf("decode reply: trailing content after JSON object")
	}
	return nil
}
