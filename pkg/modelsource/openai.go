package modelsource

import (
	"context"
	"io"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/ssestream"

	"github.com/inkwellhq/relay/go/pkg/stream"
)

// OpenAISource pulls content deltas from an OpenAI chat-completion stream.
type OpenAISource struct {
	stream *ssestream.Stream[openai.ChatCompletionChunk]
}

var _ stream.Source = (*OpenAISource)(nil)

// OpenAI starts a streaming completion for prompt against model.
// ctx bounds the whole generation.
func OpenAI(ctx context.Context, client *openai.Client, model, prompt string) *OpenAISource {
	s := client.Chat.Completions.NewStreaming(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
	})
	return &OpenAISource{stream: s}
}

func (s *OpenAISource) Next() (stream.Fragment, error) {
	for s.stream.Next() {
		chunk := s.stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		return stream.Fragment{Payload: delta, Kind: stream.KindContent}, nil
	}
	if err := s.stream.Err(); err != nil {
		return stream.Fragment{}, err
	}
	return stream.Fragment{}, io.EOF
}

func (s *OpenAISource) Close() error {
	return s.stream.Close()
}
