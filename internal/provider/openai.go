// openai.go -- OpenAI chat completions adapter.
package provider

import "context"

// OpenAI classifies through POST /v1/chat/completions.
type OpenAI struct {
	client
}

// NewOpenAI returns an OpenAI adapter.
func NewOpenAI(opts Options) *OpenAI {
	return &OpenAI{client: newClient("openai", opts)}
}

// Classify sends the instruction as the system message and the content as the user message.
func (p *OpenAI) Classify(ctx context.Context, req Request) (*Verdict, error) {
	model := p.model(req.Mode)
	payload := map[string]any{
		"model": model,
		"messages": []map[string]string{
			{"role": "system", "content": req.Instruction},
			{"role": "user", "content": req.Content},
		},
		"temperature": 0.2,
	}
	doc, err := p.postJSON(ctx, "/v1/chat/completions", map[string]string{
		"Authorization": "Bearer " + p.apiKey,
	}, payload)
	if err != nil {
		return nil, err
	}

	text, err := textAt(doc, "choices", 0, "message", "content")
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
