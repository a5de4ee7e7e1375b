package llm

import "context"

// FakeOracle is a deterministic Oracle test double: it never calls a
// network API. Responses queue; Stream pops the next queued response (or
// Default if the queue is empty); when that response has Reasoning text,
// it sends the whole text as a single token first so callers exercising
// stream_token handling have something to observe.
type FakeOracle struct {
	Responses []*Response
	Default   *Response
	calls     int
}

// NewFakeOracle creates a fake oracle that returns responses in order,
// falling back to an empty no-op response once exhausted.
func NewFakeOracle(responses ...*Response) *FakeOracle {
	return &FakeOracle{
		Responses: responses,
		Default:   &Response{},
	}
}

// Calls returns how many times Stream has been invoked.
func (f *FakeOracle) Calls() int { return f.calls }

// Stream implements Oracle.
func (f *FakeOracle) Stream(ctx context.Context, modelID, system, user string, temperature float64) (<-chan Token, <-chan Result) {
	tokens := make(chan Token, 8)
	results := make(chan Result, 1)

	var resp *Response
	if f.calls < len(f.Responses) {
		resp = f.Responses[f.calls]
	} else {
		resp = f.Default
	}
	f.calls++

	go func() {
		defer close(tokens)
		defer close(results)

		if resp.Reasoning != "" {
			select {
			case tokens <- Token{Text: resp.Reasoning}:
			case <-ctx.Done():
				results <- Result{Err: ctx.Err()}
				return
			}
		}
		results <- Result{Response: resp}
	}()

	return tokens, results
}
