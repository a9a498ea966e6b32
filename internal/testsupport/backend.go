package testsupport

import (
	"context"
	"errors"
	"sync"

	"specforge/internal/textgen"
)

// FakeResponse is one scripted backend reply.
type FakeResponse struct {
	Text string
	Err  error
}

// Reply scripts a successful completion.
func Reply(text string) FakeResponse {
	return FakeResponse{Text: text}
}

// Failure scripts a classified backend failure.
func Failure(kind textgen.Kind) FakeResponse {
	return FakeResponse{Err: &textgen.Error{Kind: kind, Provider: "fake", Err: errors.New("scripted failure")}}
}

// FakeBackend replays scripted responses in order. The final response repeats
// once the script is exhausted. Handler, when set, takes precedence.
type FakeBackend struct {
	mu        sync.Mutex
	responses []FakeResponse
	calls     []textgen.Request
	Handler   func(req textgen.Request) (string, error)
}

// NewFakeBackend returns a backend that replays responses.
func NewFakeBackend(responses ...FakeResponse) *FakeBackend {
	return &FakeBackend{responses: responses}
}

func (f *FakeBackend) Name() string { return "fake" }

func (f *FakeBackend) Complete(ctx context.Context, req textgen.Request) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	handler := f.Handler
	var next FakeResponse
	switch {
	case handler != nil:
	case len(f.responses) == 0:
		next = Failure(textgen.KindUnavailable)
	case len(f.responses) == 1:
		next = f.responses[0]
	default:
		next = f.responses[0]
		f.responses = f.responses[1:]
	}
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", &textgen.Error{Kind: textgen.KindTimeout, Provider: "fake", Err: err}
	}
	if handler != nil {
		return handler(req)
	}
	return next.Text, next.Err
}

// Calls returns a copy of every request received.
func (f *FakeBackend) Calls() []textgen.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]textgen.Request(nil), f.calls...)
}

// CallCount returns how many requests were received.
func (f *FakeBackend) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}
