package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jmylchreest/docsmith/pkg/document"
	"github.com/jmylchreest/docsmith/pkg/provider"
	"github.com/jmylchreest/docsmith/pkg/shape"
	"github.com/jmylchreest/docsmith/pkg/strategy"
)

// Built-in tool names.
const (
	ToolSemanticSearch  = "semantic_search"
	ToolRewriteQuery    = "rewrite_query"
	ToolVerifyGrounding = "verify_grounding"
	ToolGetMetadata     = "get_metadata"
	ToolFinish          = "finish"
)

// Tool is an action the planner can choose. The returned observation is
// shown to the planner on the next iteration; an error is shown too and
// never ends the run.
type Tool interface {
	Name() string
	Description() string
	Run(ctx context.Context, env *Env, args map[string]any) (string, error)
}

// ToolFunc adapts a function to Tool.
type ToolFunc struct {
	ToolName string
	Desc     string
	Fn       func(ctx context.Context, env *Env, args map[string]any) (string, error)
}

func (t ToolFunc) Name() string        { return t.ToolName }
func (t ToolFunc) Description() string { return t.Desc }

func (t ToolFunc) Run(ctx context.Context, env *Env, args map[string]any) (string, error) {
	return t.Fn(ctx, env, args)
}

// Env is what a tool can see and use during one run.
type Env struct {
	Request  *provider.Request
	Document *document.Document
	State    *State

	ask func(ctx context.Context, req *provider.Request) (provider.Result, error)
}

// Ask sends instruction about the document to the controller's provider.
func (e *Env) Ask(ctx context.Context, instruction string, s *shape.Shape) (provider.Result, error) {
	req := e.Request.Clone()
	req.SetContent(e.Document.Text)
	req.Instruction = instruction
	req.Shape = s
	req.Previous = nil
	req.Candidates = nil
	return e.ask(ctx, req)
}

func stringArg(args map[string]any, key string) (string, error) {
	v, ok := args[key].(string)
	if !ok || strings.TrimSpace(v) == "" {
		return "", fmt.Errorf("missing string argument %q", key)
	}
	return v, nil
}

func builtinTools() []Tool {
	return []Tool{
		ToolFunc{
			ToolName: ToolSemanticSearch,
			Desc:     `Answer a focused question from the document. Args: {"query": string}.`,
			Fn:       semanticSearch,
		},
		ToolFunc{
			ToolName: ToolRewriteQuery,
			Desc:     `Suggest alternative phrasings for a query that found nothing. Args: {"query": string}.`,
			Fn:       rewriteQuery,
		},
		ToolFunc{
			ToolName: ToolVerifyGrounding,
			Desc:     `Check that every value of a draft extraction is supported by the document. Args: {"extraction": object}.`,
			Fn:       verifyGrounding,
		},
		ToolFunc{
			ToolName: ToolGetMetadata,
			Desc:     `Return document metadata (type, size, pages). No args.`,
			Fn:       getMetadata,
		},
	}
}

var (
	searchShape = shape.New("search_answer",
		shape.Field{Name: "answer", Type: shape.TypeString, Required: true})
	relevanceShape = shape.New("relevance",
		shape.Field{Name: "relevant", Type: shape.TypeBoolean, Required: true},
		shape.Field{Name: "reason", Type: shape.TypeString})
	rewriteShape = shape.New("rewrites",
		shape.Field{Name: "queries", Type: shape.TypeArray, Required: true, Items: &shape.Field{Type: shape.TypeString}})
	auditShape = shape.New("grounding_audit",
		shape.Field{Name: "supported", Type: shape.TypeBoolean, Required: true},
		shape.Field{Name: "hallucinations", Type: shape.TypeArray, Items: &shape.Field{Type: shape.TypeString}})
)

func semanticSearch(ctx context.Context, env *Env, args map[string]any) (string, error) {
	query, err := stringArg(args, "query")
	if err != nil {
		return "", err
	}
	res, err := env.Ask(ctx, fmt.Sprintf(searchPrompt, query), searchShape)
	if err != nil {
		return "", err
	}
	answer := answerText(res)

	check, err := env.Ask(ctx, fmt.Sprintf(relevancePrompt, query, answer), relevanceShape)
	if err != nil {
		return "", fmt.Errorf("relevance check: %w", err)
	}
	if !isRelevant(check) {
		return fmt.Sprintf("search for %q returned nothing relevant (answer was %q). "+
			"The document may phrase this differently; consider %s.", query, answer, ToolRewriteQuery), nil
	}

	env.State.Findings = append(env.State.Findings, Finding{Query: query, Answer: answer})
	return fmt.Sprintf("found for %q: %s", query, answer), nil
}

func rewriteQuery(ctx context.Context, env *Env, args map[string]any) (string, error) {
	query, err := stringArg(args, "query")
	if err != nil {
		return "", err
	}
	res, err := env.Ask(ctx, fmt.Sprintf(rewritePrompt, query), rewriteShape)
	if err != nil {
		return "", err
	}
	var queries []string
	if list, ok := res["queries"].([]any); ok {
		for _, q := range list {
			if s, ok := q.(string); ok && strings.TrimSpace(s) != "" {
				queries = append(queries, s)
			}
		}
	}
	if len(queries) == 0 {
		return "", errors.New("no alternative queries returned")
	}
	return "alternative queries: " + strings.Join(queries, "; "), nil
}

func verifyGrounding(ctx context.Context, env *Env, args map[string]any) (string, error) {
	extraction, ok := args["extraction"].(map[string]any)
	if !ok || len(extraction) == 0 {
		return "", errors.New(`missing object argument "extraction"`)
	}
	draft := provider.Result(extraction)

	local := strategy.CheckGrounding(draft, env.Document.Text)

	req := env.Request.Clone()
	req.SetContent(env.Document.Text)
	req.Instruction = auditGroundingPrompt
	req.Shape = auditShape
	req.Previous = draft
	req.Candidates = nil
	audit, err := env.ask(ctx, req)
	if err != nil {
		return "", err
	}
	supported, _ := audit["supported"].(bool)

	var problems []string
	for _, u := range local {
		problems = append(problems, fmt.Sprintf("%s=%q not found in document", u.Path, u.Value))
	}
	if list, ok := audit["hallucinations"].([]any); ok {
		for _, h := range list {
			problems = append(problems, fmt.Sprint(h))
		}
	}

	if supported && len(local) == 0 {
		env.State.Candidate = draft.Clone()
		return "extraction is grounded in the document", nil
	}
	if len(problems) == 0 {
		problems = append(problems, "auditor could not confirm the extraction")
	}
	return "extraction is not grounded: " + strings.Join(problems, "; "), nil
}

func getMetadata(_ context.Context, env *Env, _ map[string]any) (string, error) {
	meta := map[string]any{
		"ref":        env.Document.Ref,
		"mime_type":  env.Document.MIMEType,
		"size":       env.Document.Size,
		"pages":      len(env.Document.Pages),
		"characters": len(env.Document.Text),
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// answerText flattens a search result to text.
func answerText(res provider.Result) string {
	if s, ok := res["answer"].(string); ok {
		return strings.TrimSpace(s)
	}
	b, _ := json.Marshal(res.Data())
	return string(b)
}

func isRelevant(res provider.Result) bool {
	if v, ok := res["relevant"].(bool); ok {
		return v
	}
	if s, ok := res["answer"].(string); ok {
		return strings.HasPrefix(strings.ToLower(strings.TrimSpace(s)), "yes")
	}
	return false
}
