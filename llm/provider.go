package llm

import "context"

// TurnRunner performs one request/response round trip. Driver implements it;
// tests substitute scripted runners.
type TurnRunner interface {
	Turn(ctx context.Context, req TurnRequest) (*TurnResult, error)
}

// TurnRunnerFunc adapts a function to TurnRunner.
type TurnRunnerFunc func(ctx context.Context, req TurnRequest) (*TurnResult, error)

// Turn calls f.
func (f TurnRunnerFunc) Turn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	return f(ctx, req)
}
