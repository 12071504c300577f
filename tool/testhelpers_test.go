package tool

import (
	"context"
	"errors"
	"iter"
	"strings"
	"sync/atomic"
)

type greetArgs struct {
	Name  string `json:"name" jsonschema:"required,description=Who to greet" validate:"required"`
	Times int    `json:"times,omitempty"`
}

type recordingObserver struct {
	observations []InvokeObservation
}

func (o *recordingObserver) ObserveInvoke(observation InvokeObservation) {
	o.observations = append(o.observations, observation)
}

func greetTool(calls *atomic.Int32) Tool {
	return New("greet", "Greets someone", func(_ context.Context, args greetArgs) (any, error) {
		calls.Add(1)
		return map[string]any{"greeting": "hello " + args.Name, "times": args.Times}, nil
	})
}

func failingTool() Tool {
	return New("fail", "Always fails", func(context.Context, struct{}) (any, error) {
		return nil, errors.New("backend unavailable")
	})
}

func panickingTool() Tool {
	return New("explode", "Always panics", func(context.Context, struct{}) (any, error) {
		panic("boom")
	})
}

type wordsArgs struct {
	Text string `json:"text"`
}

func wordsTool() Tool {
	return NewChunked("words", "Splits text into words",
		func(_ context.Context, args wordsArgs) (any, error) {
			return strings.Fields(args.Text), nil
		},
		func(_ context.Context, args wordsArgs) iter.Seq2[string, error] {
			return func(yield func(string, error) bool) {
				for _, word := range strings.Fields(args.Text) {
					if !yield(word, nil) {
						return
					}
				}
			}
		},
	)
}
