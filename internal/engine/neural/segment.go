package neural

import (
	"context"
	"fmt"
	"strings"
)

// Segment is a contiguous run of tokens synthesized in one backend step.
type Segment struct {
	Index  int
	Tokens []Token
}

// Text renders the segment for the synthesizer, attaching punctuation to the
// preceding word.
func (s Segment) Text() string {
	var b strings.Builder
	for i, tok := range s.Tokens {
		if i > 0 && !tok.Punct {
			b.WriteByte(' ')
		}
		b.WriteString(tok.Text)
	}
	return b.String()
}

// TrailingPunct returns the punctuation that ends the segment, if any.
func (s Segment) TrailingPunct() (string, bool) {
	if len(s.Tokens) == 0 {
		return "", false
	}
	last := s.Tokens[len(s.Tokens)-1]
	if !last.Punct {
		return "", false
	}
	return last.Text, true
}

// Segmenter groups tokens into ordered segments.
type Segmenter interface {
	Segment(ctx context.Context, tokens []Token) ([]Segment, error)
}

// PunctuationSegmenter closes a segment after every punctuation token and
// whenever MaxTokens words have accumulated.
type PunctuationSegmenter struct {
	MaxTokens int
}

func (p PunctuationSegmenter) Segment(_ context.Context, tokens []Token) ([]Segment, error) {
	var (
		segments []Segment
		current  []Token
		words    int
	)
	closeSegment := func() {
		if words == 0 {
			current = nil
			return
		}
		segments = append(segments, Segment{Index: len(segments), Tokens: current})
		current = nil
		words = 0
	}
	for _, tok := range tokens {
		if tok.Punct {
			if words == 0 {
				// leading or repeated punctuation joins the previous segment
				if n := len(segments); n > 0 {
					segments[n-1].Tokens = append(segments[n-1].Tokens, tok)
				}
				continue
			}
			current = append(current, tok)
			closeSegment()
			continue
		}
		if p.MaxTokens > 0 && words >= p.MaxTokens {
			closeSegment()
		}
		current = append(current, tok)
		words++
	}
	closeSegment()
	return segments, nil
}

// splitByLengths cuts tokens into segments of the given token counts.
func splitByLengths(tokens []Token, lengths []int) ([]Segment, error) {
	segments := make([]Segment, 0, len(lengths))
	offset := 0
	for i, n := range lengths {
		if n <= 0 {
			return nil, &SegmentError{Reason: "non-positive segment length", Index: i}
		}
		if offset+n > len(tokens) {
			return nil, &SegmentError{Reason: "segment lengths exceed token count", Index: i}
		}
		segments = append(segments, Segment{Index: i, Tokens: tokens[offset : offset+n]})
		offset += n
	}
	if offset != len(tokens) {
		return nil, &SegmentError{Reason: "segment lengths do not cover all tokens", Index: len(lengths)}
	}
	return segments, nil
}

// SegmentError reports an invalid segmentation returned by a plugin.
type SegmentError struct {
	Reason string
	Index  int
}

func (e *SegmentError) Error() string {
	return fmt.Sprintf("invalid segmentation at %d: %s", e.Index, e.Reason)
}
