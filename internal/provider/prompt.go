package provider

import "fmt"

// Instruction returns the system instruction for mode.
func Instruction(mode string) string {
	depth := "Give a fast judgement from the most obvious signals."
	if mode == ModeDeep {
		depth = "Examine style and structure in detail before deciding."
	}
	return fmt.Sprintf(`You judge whether a piece of web content was written by a human or generated by an AI model.
%s
Respond with a single JSON object and nothing else, using exactly these fields:
{"classification": "ai-generated" | "human-written",
 "confidenceLevel": "high" | "medium" | "low",
 "confidenceScore": number between 0 and 1,
 "keyIndicators": [short strings],
 "reasoning": "one paragraph"}`, depth)
}
