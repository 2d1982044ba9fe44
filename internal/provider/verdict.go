// verdict.go -- locating and validating the verdict object in free text.
package provider

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Closed sets a verdict must fall in.
var (
	classifications  = []string{"ai-generated", "human-written"}
	confidenceLevels = []string{"high", "medium", "low"}
)

// ParseVerdict finds the first balanced {...} span in text that decodes as a
// JSON object and validates it. Models often wrap the object in prose or a code
// fence, sometimes with stray braces before it; anything outside the object is
// ignored. Errors are *ParseError with Provider set to name.
func ParseVerdict(name, text string) (*Verdict, error) {
	doc, err := firstJSONObject(text)
	if errors.Is(err, errNoObject) {
		return nil, &ParseError{Provider: name, Reason: "no JSON object in response text"}
	}
	if err != nil {
		return nil, &ParseError{Provider: name, Reason: "invalid JSON object", Err: err}
	}

	v := &Verdict{}
	if v.Classification, err = oneOf(doc, "classification", classifications); err != nil {
		return nil, &ParseError{Provider: name, Reason: "bad classification", Err: err}
	}
	if v.ConfidenceLevel, err = oneOf(doc, "confidenceLevel", confidenceLevels); err != nil {
		return nil, &ParseError{Provider: name, Reason: "bad confidenceLevel", Err: err}
	}

	score, ok := doc["confidenceScore"].(float64)
	if !ok || score < 0 || score > 1 {
		return nil, &ParseError{Provider: name, Reason: fmt.Sprintf("confidenceScore %v not a number in [0,1]", doc["confidenceScore"])}
	}
	v.ConfidenceScore = score

	v.KeyIndicators = []string{}
	if raw, present := doc["keyIndicators"]; present && raw != nil {
		items, ok := raw.([]any)
		if !ok {
			return nil, &ParseError{Provider: name, Reason: "keyIndicators is not a list"}
		}
		for _, it := range items {
			s, ok := it.(string)
			if !ok {
				return nil, &ParseError{Provider: name, Reason: "keyIndicators contains a non-string"}
			}
			v.KeyIndicators = append(v.KeyIndicators, s)
		}
	}

	reasoning, ok := doc["reasoning"].(string)
	if !ok {
		return nil, &ParseError{Provider: name, Reason: "reasoning is missing or not a string"}
	}
	v.Reasoning = reasoning
	return v, nil
}

func oneOf(doc map[string]any, field string, allowed []string) (string, error) {
	s, ok := doc[field].(string)
	if !ok {
		return "", fmt.Errorf("%s is missing or not a string", field)
	}
	s = strings.ToLower(strings.TrimSpace(s))
	for _, a := range allowed {
		if s == a {
			return s, nil
		}
	}
	return "", fmt.Errorf("%s %q not in %v", field, s, allowed)
}

var errNoObject = errors.New("no balanced object")

// firstJSONObject decodes the first {...} span in text whose braces balance
// and which is valid JSON, skipping braces inside JSON strings. If spans
// balance but none decodes, the last decode error is returned.
// Decoding is untyped so a wrong field type is a readable error, not a zero value.
func firstJSONObject(text string) (map[string]any, error) {
	lastErr := errNoObject
	for start := strings.IndexByte(text, '{'); start >= 0; {
		if end, ok := matchBrace(text, start); ok {
			var doc map[string]any
			err := json.Unmarshal([]byte(text[start:end+1]), &doc)
			if err == nil {
				return doc, nil
			}
			lastErr = err
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return nil, lastErr
}

// matchBrace returns the index of the brace closing the one at start.
func matchBrace(text string, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

// textAt walks doc along path (map keys and slice indexes) and returns the string at the end.
func textAt(doc any, path ...any) (string, error) {
	cur := doc
	for _, step := range path {
		switch key := step.(type) {
		case string:
			m, ok := cur.(map[string]any)
			if !ok {
				return "", fmt.Errorf("expected object before %q", key)
			}
			cur, ok = m[key]
			if !ok {
				return "", fmt.Errorf("missing field %q", key)
			}
		case int:
			s, ok := cur.([]any)
			if !ok || key >= len(s) {
				return "", fmt.Errorf("missing index %d", key)
			}
			cur = s[key]
		}
	}
	text, ok := cur.(string)
	if !ok {
		return "", errors.New("response text is not a string")
	}
	return text, nil
}
