package modelsource

import (
	"context"
	"io"
	"iter"

	"github.com/googleapis/gax-go/v2/apierror"
	"google.golang.org/genai"

	"github.com/inkwellhq/relay/go/pkg/stream"
)

// GeminiSource pulls text parts from a Gemini streaming generation.
// Thought parts are surfaced as reasoning fragments.
type GeminiSource struct {
	next    func() (*genai.GenerateContentResponse, error, bool)
	stop    func()
	pending []stream.Fragment
}

var _ stream.Source = (*GeminiSource)(nil)

// Gemini starts a streaming generation for prompt against model.
// model should not start with "models/".
func Gemini(ctx context.Context, client *genai.Client, model, prompt string) *GeminiSource {
	itr := client.Models.GenerateContentStream(ctx, model, genai.Text(prompt), nil)
	return newGeminiSource(itr)
}

func newGeminiSource(itr iter.Seq2[*genai.GenerateContentResponse, error]) *GeminiSource {
	next, stop := iter.Pull2(itr)
	return &GeminiSource{next: next, stop: stop}
}

func (s *GeminiSource) Next() (stream.Fragment, error) {
	for {
		if len(s.pending) > 0 {
			f := s.pending[0]
			s.pending = s.pending[1:]
			return f, nil
		}
		resp, err, ok := s.next()
		if !ok {
			return stream.Fragment{}, io.EOF
		}
		if err != nil {
			if e, isAPI := err.(*apierror.APIError); isAPI {
				err = e.Unwrap()
			}
			return stream.Fragment{}, err
		}
		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
			continue
		}
		for _, p := range resp.Candidates[0].Content.Parts {
			if p.Text == "" {
				continue
			}
			kind := stream.KindContent
			if p.Thought {
				kind = stream.KindReasoning
			}
			s.pending = append(s.pending, stream.Fragment{Payload: p.Text, Kind: kind})
		}
	}
}

func (s *GeminiSource) Close() error {
	s.stop()
	return nil
}
