package provider

import (
	"encoding/json"
	"fmt"
	"strings"
)

// SystemPrompt is sent with every LLM-backed request.
const SystemPrompt = `You are a document extraction assistant. You read documents and return structured data.

Respond with ONLY valid JSON. No explanations.

Rules:
1. Required fields: use null if not found
2. Optional fields: omit if not found
3. Dates: ISO 8601 (YYYY-MM-DD)
4. Numbers: numeric value only (no currency symbols or thousands separators)
5. Never invent values that do not appear in the document`

// BuildPrompt renders the user prompt for req. previousErr, when set, is
// fed back so the model can correct its last answer.
func BuildPrompt(content string, req *Request, previousErr error, maxContentSize int) string {
	var sb strings.Builder

	sb.WriteString("## Task\n")
	if req.Instruction != "" {
		sb.WriteString(req.Instruction)
	} else {
		sb.WriteString("Extract structured data from the document.")
	}
	sb.WriteString("\n")

	if req.Shape != nil {
		sb.WriteString("\n## Output Shape\n")
		sb.WriteString(req.Shape.PromptDescription())
	}

	if len(req.Candidates) > 0 {
		sb.WriteString("\n## Candidate Results\n")
		for i, c := range req.Candidates {
			fmt.Fprintf(&sb, "Candidate %d:\n%s\n", i+1, compactJSON(c.Data()))
		}
	}

	if req.Previous != nil {
		sb.WriteString("\n## Result Under Review\n")
		sb.WriteString(compactJSON(req.Previous.Data()))
		sb.WriteString("\n")
	}

	if previousErr != nil {
		sb.WriteString("\n## Previous Attempt Errors\n")
		sb.WriteString("The previous answer had these problems that need to be fixed:\n")
		sb.WriteString(previousErr.Error())
		sb.WriteString("\n")
	}

	if content != "" {
		sb.WriteString("\n## Document\n```\n")
		sb.WriteString(TruncateContent(content, maxContentSize))
		sb.WriteString("\n```\n")
	}
	return sb.String()
}

// TruncateContent limits content size. maxLen of 0 means no limit.
func TruncateContent(content string, maxLen int) string {
	if maxLen <= 0 || len(content) <= maxLen {
		return content
	}
	return content[:maxLen] + "\n\n[Content truncated due to length...]"
}

// StripCodeFence removes a markdown code block wrapper around JSON.
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	switch {
	case strings.HasPrefix(s, "```json"):
		s = strings.TrimPrefix(s, "```json")
	case strings.HasPrefix(s, "```"):
		s = strings.TrimPrefix(s, "```")
	default:
		return s
	}
	return strings.TrimSpace(strings.TrimSuffix(s, "```"))
}

// ParseResult decodes a model reply. A JSON object becomes the result;
// any other JSON value or bare text is returned under "answer".
func ParseResult(content string) (Result, error) {
	s := StripCodeFence(content)
	if s == "" {
		return nil, ErrEmptyResult
	}

	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		if strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[") {
			return nil, fmt.Errorf("failed to parse JSON response: %w (response: %s)", err, truncateForError(s))
		}
		return Result{"answer": s}, nil
	}
	if m, ok := v.(map[string]any); ok {
		return Result(m), nil
	}
	return Result{"answer": v}, nil
}

func compactJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

func truncateForError(s string) string {
	const maxLen = 500
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
