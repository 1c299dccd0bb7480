// Package modelsource provides stream.Source implementations: scripted
// sources for tests and demos, and adapters that pull fragments from the
// OpenAI and Gemini streaming APIs.
package modelsource

import (
	"io"
	"strings"
	"time"

	"github.com/inkwellhq/relay/go/pkg/stream"
)

// ScriptedSource yields a fixed fragment sequence with an optional delay
// between fragments. It is deterministic and safe to use in tests.
type ScriptedSource struct {
	fragments []stream.Fragment
	delay     time.Duration
	pos       int
}

// Scripted creates a source over the given fragments.
func Scripted(fragments []stream.Fragment, delay time.Duration) *ScriptedSource {
	return &ScriptedSource{fragments: fragments, delay: delay}
}

// SplitText creates a scripted source that emits text word by word, the
// way a model would trickle a response. Whitespace is preserved so the
// concatenation of all fragments equals text.
func SplitText(text string, delay time.Duration) *ScriptedSource {
	var fragments []stream.Fragment
	rest := text
	for rest != "" {
		cut := strings.IndexByte(rest, ' ')
		var word string
		if cut < 0 {
			word, rest = rest, ""
		} else {
			word, rest = rest[:cut+1], rest[cut+1:]
		}
		fragments = append(fragments, stream.Fragment{Payload: word, Kind: stream.KindContent})
	}
	return Scripted(fragments, delay)
}

func (s *ScriptedSource) Next() (stream.Fragment, error) {
	if s.pos >= len(s.fragments) {
		return stream.Fragment{}, io.EOF
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	f := s.fragments[s.pos]
	s.pos++
	return f, nil
}

func (s *ScriptedSource) Close() error { return nil }

// FailingSource yields the given fragments and then fails with err instead
// of finishing. Used to exercise upstream-failure handling.
type FailingSource struct {
	inner *ScriptedSource
	err   error
}

// FailAfter wraps fragments with a terminal error.
func FailAfter(fragments []stream.Fragment, err error) *FailingSource {
	return &FailingSource{inner: Scripted(fragments, 0), err: err}
}

func (s *FailingSource) Next() (stream.Fragment, error) {
	f, err := s.inner.Next()
	if err == io.EOF {
		return stream.Fragment{}, s.err
	}
	return f, err
}

func (s *FailingSource) Close() error { return nil }
