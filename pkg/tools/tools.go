// Package tools implements the Tool Executor:
// concurrent, schema-validated invocation of agent-declared functions
// against a stream of FunctionCalls.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/sync/semaphore"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/chatctx"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/task"
)

// RunContext is passed to every tool invocation.
type RunContext struct {
	Session      any
	SpeechHandle any
	FunctionCall chatctx.Item
}

// Result is what a tool's execute function may return alongside its raw
// output.
type Result struct {
	Output        any
	AgentTask     any
	ReplyRequired bool
}

// Execute is the signature every declared tool implements.
type Execute func(ctx context.Context, parsedArgs map[string]any, rc RunContext) (Result, error)

// Tool is one agent-declared function.
type Tool struct {
	Name        string
	Description string
	Parameters  json.RawMessage // JSON Schema
	Run         Execute

	compiled *jsonschema.Schema
}

// Registry resolves tool names to declarations.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register compiles the tool's parameter schema (if any) and adds it to the
// registry. Compilation failure is a programming error, reported eagerly.
func (r *Registry) Register(t *Tool) error {
	if len(t.Parameters) > 0 {
		var doc any
		if err := json.Unmarshal(t.Parameters, &doc); err != nil {
			return fmt.Errorf("tools: unmarshal schema for %q: %w", t.Name, err)
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(t.Name+".json", doc); err != nil {
			return fmt.Errorf("tools: add schema resource for %q: %w", t.Name, err)
		}
		schema, err := c.Compile(t.Name + ".json")
		if err != nil {
			return fmt.Errorf("tools: compile schema for %q: %w", t.Name, err)
		}
		t.compiled = schema
	}
	r.mu.Lock()
	r.tools[t.Name] = t
	r.mu.Unlock()
	return nil
}

func (r *Registry) Lookup(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns every registered tool declaration, for passing to an LLM
// node as its tool-use context.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, *t)
	}
	return out
}

// Outcome is one entry of the per-reply accumulator: the original call, its
// (possibly error) output, and anything the tool returned out-of-band.
type Outcome struct {
	Call          chatctx.Item
	Output        string
	IsError       bool
	AgentTask     any
	ReplyRequired bool
}

// Executor runs a lazy sequence of FunctionCalls concurrently, bounded by
// maxConcurrent, validating arguments against each tool's declared schema
// before invocation.
type Executor struct {
	registry       *Registry
	sem            *semaphore.Weighted
	firstStarted   *task.Future[struct{}]
	firstStartOnce sync.Once
}

// NewExecutor returns an executor bounded to maxConcurrent in-flight tool
// calls (0 or negative means unbounded).
func NewExecutor(registry *Registry, maxConcurrent int) *Executor {
	var sem *semaphore.Weighted
	if maxConcurrent > 0 {
		sem = semaphore.NewWeighted(int64(maxConcurrent))
	}
	return &Executor{
		registry:     registry,
		sem:          sem,
		firstStarted: task.NewFuture[struct{}](),
	}
}

// FirstToolStarted resolves the first time any call's execute body begins,
// that is, after its tool was found and its arguments validated.
func (e *Executor) FirstToolStarted() <-chan struct{} {
	return e.firstStarted.Done()
}

// Run launches one goroutine per call and returns once every call has
// returned. It has no join timeout: a tool that ignores ctx cancellation
// keeps Run waiting. session and speechHandle are threaded into every
// call's RunContext verbatim.
func (e *Executor) Run(ctx context.Context, calls []chatctx.Item, session any, speechHandle any) []Outcome {
	outcomes := make([]Outcome, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call chatctx.Item) {
			defer wg.Done()
			outcomes[i] = e.runOne(ctx, call, session, speechHandle)
		}(i, call)
	}
	wg.Wait()
	return outcomes
}

// RunOne executes a single call immediately, applying the same concurrency
// bound, schema validation, and firstToolStarted signaling as Run. Exposed
// so callers that discover calls incrementally (e.g. the reply pipeline
// assembling FunctionCalls off a streaming LLM) can launch each as soon as
// it completes rather than batching until the stream ends. session and
// speechHandle are threaded into the call's RunContext verbatim.
func (e *Executor) RunOne(ctx context.Context, call chatctx.Item, session any, speechHandle any) Outcome {
	return e.runOne(ctx, call, session, speechHandle)
}

func (e *Executor) runOne(ctx context.Context, call chatctx.Item, session any, speechHandle any) Outcome {
	if e.sem != nil {
		if err := e.sem.Acquire(ctx, 1); err != nil {
			return Outcome{Call: call, IsError: true, Output: errMsg(fmt.Errorf("tool %q not scheduled: %w", call.Name, err))}
		}
		defer e.sem.Release(1)
	}

	t, ok := e.registry.Lookup(call.Name)
	if !ok {
		return Outcome{Call: call, IsError: true, Output: errMsg(fmt.Errorf("unknown tool %q", call.Name))}
	}

	var parsed map[string]any
	if err := json.Unmarshal([]byte(call.Args), &parsed); err != nil {
		return Outcome{Call: call, IsError: true, Output: errMsg(fmt.Errorf("parse arguments: %w", err))}
	}

	if t.compiled != nil {
		if err := t.compiled.Validate(toValidateDoc(parsed)); err != nil {
			return Outcome{Call: call, IsError: true, Output: errMsg(err)}
		}
	}

	e.firstStartOnce.Do(func() { e.firstStarted.Resolve(struct{}{}) })

	rc := RunContext{Session: session, SpeechHandle: speechHandle, FunctionCall: call}
	result, err := t.Run(ctx, parsed, rc)
	if err != nil {
		return Outcome{Call: call, IsError: true, Output: errMsg(err)}
	}

	return Outcome{
		Call:          call,
		Output:        serializeOutput(result.Output),
		AgentTask:     result.AgentTask,
		ReplyRequired: result.ReplyRequired,
	}
}

func errMsg(err error) string { return err.Error() }

// serializeOutput renders a tool's raw output as the FunctionCallOutput
// string; string outputs are double-quoted like any other JSON string.
func serializeOutput(v any) string {
	if s, ok := v.(string); ok {
		b, _ := json.Marshal(s)
		return string(b)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

// toValidateDoc round-trips through JSON so map[string]any keys/values match
// what jsonschema.Validate expects (plain Go maps, not custom types).
func toValidateDoc(parsed map[string]any) any {
	b, err := json.Marshal(parsed)
	if err != nil {
		return parsed
	}
	var doc any
	if err := json.Unmarshal(b, &doc); err != nil {
		return parsed
	}
	return doc
}
