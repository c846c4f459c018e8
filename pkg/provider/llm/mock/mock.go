// Package mock provides a scripted [llm.Provider] for tests.
//
//	p := &mock.Provider{Replies: []string{"Hello, this is Alex.", "Sure, one moment."}}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/telvoxa/pkg/provider/llm"
)

var _ llm.Provider = (*Provider)(nil)

// Call is one recorded Complete invocation.
type Call struct {
	Req llm.CompletionRequest
}

// Provider answers Complete from, in order of precedence: CompleteErr,
// Respond, Replies and CompleteResponse. The zero value answers nil, nil.
type Provider struct {
	// CompleteErr fails every call.
	CompleteErr error

	// Respond computes the answer from the request.
	Respond func(llm.CompletionRequest) (*llm.CompletionResponse, error)

	// Replies are returned one per call. The last one repeats.
	Replies []string

	// CompleteResponse is returned when nothing above applies.
	CompleteResponse *llm.CompletionResponse

	// Block holds every call until it is closed or the call's context ends.
	Block chan struct{}

	mu    sync.Mutex
	calls []Call
}

// Complete implements [llm.Provider].
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	req.Messages = append([]llm.Message(nil), req.Messages...)
	p.mu.Lock()
	p.calls = append(p.calls, Call{Req: req})
	n := len(p.calls)
	p.mu.Unlock()

	if p.Block != nil {
		select {
		case <-p.Block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	switch {
	case p.CompleteErr != nil:
		return nil, p.CompleteErr
	case p.Respond != nil:
		return p.Respond(req)
	case len(p.Replies) > 0:
		return &llm.CompletionResponse{Content: p.Replies[min(n, len(p.Replies))-1]}, nil
	}
	return p.CompleteResponse, nil
}

// Calls returns the recorded calls in order.
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Call(nil), p.calls...)
}
