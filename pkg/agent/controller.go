// Package agent runs a bounded plan-act loop over a document: a provider
// plans the next tool call, the controller executes it, and the run ends
// with a synthesis call against the requested shape.
package agent

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/jmylchreest/docsmith/internal/logger"
	"github.com/jmylchreest/docsmith/internal/telemetry"
	"github.com/jmylchreest/docsmith/pkg/document"
	"github.com/jmylchreest/docsmith/pkg/hooks"
	"github.com/jmylchreest/docsmith/pkg/provider"
	"github.com/jmylchreest/docsmith/pkg/ratelimit"
	"github.com/jmylchreest/docsmith/pkg/retry"
	"github.com/jmylchreest/docsmith/pkg/strategy"
)

// Metadata keys set on every result.
const (
	MetaPhase        = "_agent_phase"
	MetaIterations   = "_agent_iterations"
	MetaLoopDetected = "_agent_loop_detected"
)

// Defaults for NewController.
const (
	DefaultMaxIterations = 10
	DefaultMaxHistory    = 20

	// loopThreshold is the sighting of an identical tool call that counts
	// as a loop. That sighting is not executed.
	loopThreshold = 3
)

const name = "agent"

// Option configures a Controller.
type Option func(*Controller)

// WithMaxIterations bounds the number of planning steps.
func WithMaxIterations(n int) Option { return func(c *Controller) { c.maxIterations = n } }

// WithMaxHistory bounds the number of turns shown to the planner.
func WithMaxHistory(n int) Option { return func(c *Controller) { c.maxHistory = n } }

// WithTool adds a tool, replacing any built-in of the same name.
func WithTool(t Tool) Option { return func(c *Controller) { c.tools[t.Name()] = t } }

// WithRetry sets the retry policy for every provider call.
func WithRetry(cfg retry.Config) Option { return func(c *Controller) { c.invoker.Retry = cfg } }

// WithRateLimiter spaces provider calls.
func WithRateLimiter(l *ratelimit.Limiter) Option { return func(c *Controller) { c.invoker.Limiter = l } }

// WithTimeout bounds each provider call.
func WithTimeout(d time.Duration) Option { return func(c *Controller) { c.invoker.Timeout = d } }

// WithLoader sets the document loader.
func WithLoader(l document.Loader) Option { return func(c *Controller) { c.loader = l } }

// WithHooks attaches pre, post and error hooks around each run.
func WithHooks(s *hooks.Set) Option { return func(c *Controller) { c.hookSet = s } }

// WithDispatcher runs the hooks of a shared dispatcher around each run. Any
// WithHooks set is registered on it until Close.
func WithDispatcher(d *hooks.Dispatcher) Option { return func(c *Controller) { c.dispatcher = d } }

// Stats are cumulative over every run of a controller.
type Stats struct {
	Runs          int
	Aborted       int
	LoopsDetected int
	Iterations    int
	ToolCalls     map[string]int
}

// Controller drives the agent loop. One Controller may serve concurrent
// Process calls; each call owns its State.
type Controller struct {
	provider      provider.Provider
	invoker       strategy.Invoker
	loader        document.Loader
	tools         map[string]Tool
	order         []string
	maxIterations int
	maxHistory    int

	hookSet    *hooks.Set
	dispatcher *hooks.Dispatcher
	hooks      hooks.Runner
	reg        *hooks.Registration

	mu    sync.Mutex
	stats Stats
}

// NewController returns a Controller that plans and acts through p.
func NewController(p provider.Provider, opts ...Option) *Controller {
	c := &Controller{
		provider:      p,
		invoker:       strategy.Invoker{Retry: retry.Default},
		loader:        document.FileLoader{},
		tools:         map[string]Tool{},
		maxIterations: DefaultMaxIterations,
		maxHistory:    DefaultMaxHistory,
		stats:         Stats{ToolCalls: map[string]int{}},
	}
	for _, t := range builtinTools() {
		c.tools[t.Name()] = t
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.maxIterations <= 0 {
		c.maxIterations = DefaultMaxIterations
	}
	if c.maxHistory < 2 {
		c.maxHistory = DefaultMaxHistory
	}
	c.hooks, c.reg = hooks.Attach(c.hookSet, c.dispatcher)
	for _, t := range builtinTools() {
		c.order = append(c.order, t.Name())
	}
	for _, n := range slices.Sorted(maps.Keys(c.tools)) {
		if !isBuiltin(n) {
			c.order = append(c.order, n)
		}
	}
	return c
}

func isBuiltin(n string) bool {
	switch n {
	case ToolSemanticSearch, ToolRewriteQuery, ToolVerifyGrounding, ToolGetMetadata:
		return true
	}
	return false
}

// Name implements provider.Provider.
func (c *Controller) Name() string { return name }

// Close unregisters the controller's hooks from a shared dispatcher.
func (c *Controller) Close() error { return c.reg.Close() }

// MaxIterations returns the iteration budget.
func (c *Controller) MaxIterations() int { return c.maxIterations }

// Stats returns a snapshot of the controller's counters.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.ToolCalls = maps.Clone(c.stats.ToolCalls)
	return s
}

// The stats helpers take the lock themselves and call nothing that could
// take it again; sync.Mutex is not reentrant.
func (c *Controller) countTool(tool string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.ToolCalls[tool]++
}

func (c *Controller) countRun(st *State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.Runs++
	c.stats.Iterations += st.Iteration
	if st.Phase == PhaseAborted {
		c.stats.Aborted++
	}
	if st.LoopDetected {
		c.stats.LoopsDetected++
	}
}

// ProcessAsync implements strategy.Strategy.
func (c *Controller) ProcessAsync(ctx context.Context, req *provider.Request) <-chan provider.Outcome {
	ch := make(chan provider.Outcome, 1)
	go func() {
		res, err := c.Process(ctx, req)
		ch <- provider.Outcome{Result: res, Err: err}
	}()
	return ch
}

// Process runs the loop until the planner finishes, a loop is detected
// or the iteration budget runs out. Hooks wrap the whole run.
func (c *Controller) Process(ctx context.Context, req *provider.Request) (res provider.Result, err error) {
	start := time.Now()
	ctx, span := telemetry.StartSpan(ctx, "agent.process", attribute.String("document", req.DocumentRef))
	defer func() {
		telemetry.StrategyRequests.WithLabelValues(name, telemetry.Status(err)).Inc()
		telemetry.StrategyDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		telemetry.EndSpan(span, err)
	}()

	hc := hooks.NewContext(name, req)
	if instr := c.hooks.RunPre(ctx, hc, req.Instruction); instr != req.Instruction {
		req = req.Clone()
		req.Instruction = instr
	}

	res, err = c.run(ctx, req, start)
	if err != nil {
		if fb := c.hooks.RunError(ctx, hc, err); fb != nil {
			logger.Debug("error hook supplied fallback result", "strategy", name, "request_id", hc.ID, "error", err)
			res, err = fb, nil
		}
	}
	if err == nil {
		res = c.hooks.RunPost(ctx, hc, res)
	}
	return res, err
}

func (c *Controller) run(ctx context.Context, req *provider.Request, start time.Time) (provider.Result, error) {
	doc, err := c.load(ctx, req)
	if err != nil {
		return nil, err
	}

	st := newState(req.Instruction, c.maxHistory)
	env := &Env{Request: req, Document: doc, State: st, ask: c.ask}

	for !st.Phase.IsTerminal() {
		if st.Iteration >= c.maxIterations {
			st.Phase = PhaseAborted
			break
		}
		st.Iteration++
		st.Phase = PhasePlanning

		dec, err := c.plan(ctx, env)
		if err != nil {
			c.countRun(st)
			return nil, err
		}
		if dec.Tool == "" || dec.Tool == ToolFinish {
			logger.Debug("agent finishing", "iteration", st.Iteration, "thought", dec.Thought)
			st.Phase = PhaseFinalizing
			break
		}

		if st.sighting(dec.Tool, dec.Args) >= loopThreshold {
			logger.Debug("agent loop detected", "iteration", st.Iteration, "tool", dec.Tool)
			telemetry.AgentLoops.Inc()
			st.LoopDetected = true
			st.record(Turn{
				Thought:     dec.Thought,
				Tool:        dec.Tool,
				Args:        dec.Args,
				Observation: strategy.ErrLoopDetected.Error(),
				Failed:      true,
			})
			st.Phase = PhaseFinalizing
			break
		}

		st.Phase = PhaseActing
		st.record(c.act(ctx, env, dec))
	}
	telemetry.AgentIterations.Observe(float64(st.Iteration))

	res, err := c.finish(ctx, env)
	c.countRun(st)
	if err != nil {
		return nil, err
	}
	res.SetMeta(MetaPhase, string(st.Phase))
	res.SetMeta(MetaIterations, st.Iteration)
	res.SetMeta(MetaLoopDetected, st.LoopDetected)

	logger.Debug("agent finished",
		"document", req.DocumentRef,
		"phase", st.Phase,
		"iterations", st.Iteration,
		"loop_detected", st.LoopDetected,
		"duration", time.Since(start))
	return res, nil
}

func (c *Controller) load(ctx context.Context, req *provider.Request) (*document.Document, error) {
	if req.HasContent() {
		doc := document.FromText(req.DocumentRef, req.Content)
		if req.MIMEType != "" {
			doc.MIMEType = req.MIMEType
		}
		return doc, nil
	}
	doc, err := c.loader.Load(ctx, req.DocumentRef)
	if err != nil {
		return nil, &strategy.Error{Strategy: name, Err: err}
	}
	return doc, nil
}

func (c *Controller) ask(ctx context.Context, req *provider.Request) (provider.Result, error) {
	return c.invoker.Call(ctx, name, c.provider, req)
}

type decision struct {
	Thought string
	Tool    string
	Args    map[string]any
}

func (c *Controller) plan(ctx context.Context, env *Env) (decision, error) {
	tools := make([]Tool, 0, len(c.order))
	for _, n := range c.order {
		tools = append(tools, c.tools[n])
	}
	instr := fmt.Sprintf(planPrompt,
		env.State.Instruction,
		renderTools(tools),
		renderHistory(env.State.History),
		env.State.Iteration, c.maxIterations)

	res, err := env.Ask(ctx, instr, decisionShape)
	if err != nil {
		return decision{}, err
	}
	d := decision{}
	d.Thought, _ = res["thought"].(string)
	d.Tool, _ = res["tool"].(string)
	d.Tool = strings.TrimSpace(d.Tool)
	d.Args, _ = res["args"].(map[string]any)
	return d, nil
}

func (c *Controller) act(ctx context.Context, env *Env, d decision) Turn {
	turn := Turn{Thought: d.Thought, Tool: d.Tool, Args: d.Args}
	c.countTool(d.Tool)

	tool, ok := c.tools[d.Tool]
	if !ok {
		turn.Observation = fmt.Sprintf("unknown tool %q", d.Tool)
		turn.Failed = true
		return turn
	}

	obs, err := runTool(ctx, tool, env, d.Args)
	if err != nil {
		logger.Debug("agent tool failed", "tool", d.Tool, "error", err)
		turn.Observation = err.Error()
		turn.Failed = true
		return turn
	}
	turn.Observation = obs
	return turn
}

// runTool turns a tool panic into an error so it becomes an observation.
func runTool(ctx context.Context, t Tool, env *Env, args map[string]any) (obs string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool %s panicked: %v", t.Name(), r)
		}
	}()
	return t.Run(ctx, env, args)
}

func (c *Controller) finish(ctx context.Context, env *Env) (provider.Result, error) {
	st := env.State
	if st.Phase == PhaseFinalizing {
		return c.synthesize(ctx, env)
	}

	logger.Debug("agent iteration budget exhausted",
		"iterations", st.Iteration,
		"findings", len(st.Findings),
		"has_candidate", st.Candidate != nil)
	if len(st.Findings) > 0 {
		res, err := c.synthesize(ctx, env)
		if err == nil {
			return res, nil
		}
		if st.Candidate == nil {
			return nil, err
		}
		logger.Debug("synthesis after abort failed, using grounded draft", "error", err)
	}
	if st.Candidate != nil {
		return st.Candidate.Clone(), nil
	}
	return nil, &strategy.Error{
		Strategy: name,
		Err:      fmt.Errorf("%w: %d iterations without a result", strategy.ErrIterationBudgetExceeded, st.Iteration),
	}
}

// synthesize makes the final call against the requested shape, followed by
// at most one corrective call when the answer does not conform.
func (c *Controller) synthesize(ctx context.Context, env *Env) (provider.Result, error) {
	req := env.Request
	res, err := env.Ask(ctx, fmt.Sprintf(synthesisPrompt, env.State.Instruction, renderNotes(env.State)), req.Shape)
	if err != nil {
		return nil, err
	}
	if req.Shape == nil {
		return res.Clone(), nil
	}

	violations, err := req.Shape.Check(res.Data())
	if err != nil {
		return nil, &strategy.Error{Strategy: name, Err: err}
	}
	if len(violations) == 0 {
		return res.Clone(), nil
	}

	msgs := make([]string, len(violations))
	for i, v := range violations {
		msgs[i] = "- " + v.Error()
	}
	logger.Debug("agent synthesis violates shape, correcting", "violations", len(violations))

	creq := req.Clone()
	creq.SetContent(env.Document.Text)
	creq.Instruction = fmt.Sprintf(correctionPrompt, strings.Join(msgs, "\n"), env.State.Instruction)
	creq.Previous = res
	corrected, err := c.ask(ctx, creq)
	if err != nil {
		return nil, errors.Join(err, fmt.Errorf("correcting %d shape violations", len(violations)))
	}
	return corrected.Clone(), nil
}
