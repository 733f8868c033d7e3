package llm

import (
	"encoding/json"

	"github.com/aerokeylabs/t4chat/internal/domain"
)

// StreamChunk is one SSE data frame from the provider.
type StreamChunk struct {
	ID      string        `json:"id"`
	Model   string        `json:"model"`
	Choices []ChunkChoice `json:"choices"`
	Usage   *Usage        `json:"usage,omitempty"`
}

// ChunkChoice is one choice of a stream chunk.
type ChunkChoice struct {
	Index        int        `json:"index"`
	Delta        ChunkDelta `json:"delta"`
	FinishReason *string    `json:"finish_reason"`
}

// ChunkDelta carries the incremental fields of a choice.
type ChunkDelta struct {
	Role         string            `json:"role,omitempty"`
	Content      *string           `json:"content"`
	Reasoning    *string           `json:"reasoning"`
	Refusal      *string           `json:"refusal"`
	FinishReason *string           `json:"finish_reason"`
	Annotations  []ChunkAnnotation `json:"annotations,omitempty"`
}

// ChunkAnnotation is a provider annotation. Only url citations are kept.
type ChunkAnnotation struct {
	Type        string `json:"type"`
	URLCitation *struct {
		URL     string `json:"url"`
		Title   string `json:"title"`
		Content string `json:"content"`
	} `json:"url_citation,omitempty"`
}

// parseChunk unmarshals one data frame.
func parseChunk(data string) (*StreamChunk, error) {
	var chunk StreamChunk
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		return nil, &ParseError{Data: data, Err: err}
	}
	return &chunk, nil
}

// decodeChoice classifies a choice. The checks run in a fixed order so that
// a frame carrying several optional fields cannot match more than one kind:
// finish_reason first, then refusal, otherwise text.
func decodeChoice(c *ChunkChoice) *Delta {
	d := &Delta{
		Content:     deref(c.Delta.Content),
		Reasoning:   deref(c.Delta.Reasoning),
		Annotations: convertAnnotations(c.Delta.Annotations),
	}

	finish := deref(c.FinishReason)
	if finish == "" {
		finish = deref(c.Delta.FinishReason)
	}

	switch {
	case finish != "":
		d.Kind = DeltaFinished
		d.FinishReason = finish
	case c.Delta.Refusal != nil:
		d.Kind = DeltaRefusal
		d.Refusal = *c.Delta.Refusal
	default:
		d.Kind = DeltaText
	}
	return d
}

func convertAnnotations(in []ChunkAnnotation) []domain.Annotation {
	var out []domain.Annotation
	for _, a := range in {
		if a.URLCitation == nil {
			continue
		}
		out = append(out, domain.Annotation{
			Title:   a.URLCitation.Title,
			URL:     a.URLCitation.URL,
			Content: a.URLCitation.Content,
		})
	}
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
