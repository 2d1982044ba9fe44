// anthropic.go -- Anthropic messages API adapter.
package provider

import (
	"context"
	"errors"
	"strings"
)

const anthropicVersion = "2023-06-01"

// Anthropic classifies through POST /v1/messages.
type Anthropic struct {
	client
}

// NewAnthropic returns an Anthropic adapter.
func NewAnthropic(opts Options) *Anthropic {
	return &Anthropic{client: newClient("anthropic", opts)}
}

// Classify sends the instruction as the system prompt and the content as the single user turn.
func (p *Anthropic) Classify(ctx context.Context, req Request) (*Verdict, error) {
	model := p.model(req.Mode)
	payload := map[string]any{
		"model":      model,
		"max_tokens": 1024,
		"system":     req.Instruction,
		"messages": []map[string]string{
			{"role": "user", "content": req.Content},
		},
	}
	doc, err := p.postJSON(ctx, "/v1/messages", map[string]string{
		"x-api-key":         p.apiKey,
		"anthropic-version": anthropicVersion,
	}, payload)
	if err != nil {
		return nil, err
	}

	text, err := anthropicText(doc)
	if err != nil {
		return nil, &ParseError{Provider: p.name, Reason: "unexpected response shape", Err: err}
	}
	v, err := ParseVerdict(p.name, text)
	if err != nil {
		return nil, err
	}
	v.Model = model
	return v, nil
}

// anthropicText concatenates every text block in content; tool or other block types are skipped.
func anthropicText(doc map[string]any) (string, error) {
	blocks, ok := doc["content"].([]any)
	if !ok {
		return "", errors.New("content is not a list")
	}
	var sb strings.Builder
	for i := range blocks {
		if kind, _ := textAt(blocks, i, "type"); kind != "text" {
			continue
		}
		text, err := textAt(blocks, i, "text")
		if err != nil {
			return "", err
		}
		sb.WriteString(text)
	}
	if sb.Len() == 0 {
		return "", errors.New("no text blocks in content")
	}
	return sb.String(), nil
}
