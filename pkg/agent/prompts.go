package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jmylchreest/docsmith/pkg/shape"
)

const planPrompt = `You are planning how to complete a document extraction task step by step.

## Task
%s

## Tools
%s- finish: stop and produce the final result. No args.

## History
%s
## Instructions
This is step %d of at most %d. Choose exactly one tool.
Respond with JSON: {"thought": "why", "tool": "<tool name>", "args": {...}}.
If a search found nothing relevant, rephrase it rather than repeating it.
Choose "finish" as soon as you have enough to complete the task.`

const searchPrompt = `Answer this question using only the document: %s
If the document does not contain the answer, say so.`

const relevancePrompt = `Question: %s
Proposed answer: %s

Does the proposed answer actually address the question using information from the document? Respond with {"relevant": true|false, "reason": "..."}.`

const rewritePrompt = `The search query %q found nothing relevant in the document.
Suggest up to three alternative queries that use different wording the document might contain. Respond with {"queries": [...]}.`

const auditGroundingPrompt = `Check every value of the result under review against the document.
Respond with {"supported": true|false, "hallucinations": ["field: reason", ...]} listing values the document does not support.`

const synthesisPrompt = `Complete this task using the research notes and the document.

## Task
%s
%s`

const correctionPrompt = `The result under review does not match the required output shape:
%s

Return a corrected result for the original task: %s`

var decisionShape = shape.New("agent_decision",
	shape.Field{Name: "thought", Type: shape.TypeString, Required: true},
	shape.Field{Name: "tool", Type: shape.TypeString, Required: true},
	shape.Field{Name: "args", Type: shape.TypeObject})

func renderTools(tools []Tool) string {
	var sb strings.Builder
	for _, t := range tools {
		fmt.Fprintf(&sb, "- %s: %s\n", t.Name(), t.Description())
	}
	return sb.String()
}

func renderHistory(turns []Turn) string {
	var sb strings.Builder
	for _, t := range turns {
		if t.Tool == "" {
			fmt.Fprintf(&sb, "[%d] %s\n", t.Iteration, t.Observation)
			continue
		}
		args, _ := json.Marshal(t.Args)
		fmt.Fprintf(&sb, "[%d] thought: %s\n    tool: %s %s\n", t.Iteration, t.Thought, t.Tool, args)
		if t.Failed {
			fmt.Fprintf(&sb, "    error: %s\n", t.Observation)
		} else {
			fmt.Fprintf(&sb, "    observation: %s\n", t.Observation)
		}
	}
	return sb.String()
}

func renderNotes(st *State) string {
	var sb strings.Builder
	if len(st.Findings) > 0 {
		sb.WriteString("\n## Research Notes\n")
		for _, f := range st.Findings {
			fmt.Fprintf(&sb, "- %s: %s\n", f.Query, f.Answer)
		}
	}
	if st.Candidate != nil {
		b, _ := json.Marshal(st.Candidate.Data())
		fmt.Fprintf(&sb, "\n## Verified Draft\n%s\n", b)
	}
	return sb.String()
}
