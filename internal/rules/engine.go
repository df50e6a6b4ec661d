package rules

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"text/template"
)

const (
	eventQueueSize     = 256
	maxCachedTemplates = 512
)

// Logger defines the logging interface used by the engine.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Commander executes rule actions. Scope is the scope the rule was bound
// under, so actions without an explicit target apply to their own scene.
type Commander interface {
	Execute(ctx context.Context, scope, command string, args []string) error
}

// event carries the rules that matched when it was fired, so a rebind
// between firing and dispatch does not change what runs.
type event struct {
	scope string
	name  string
	value any
	rules []Rule
}

// Engine binds rule lists per scope, evaluates expressions and runs actions
// for fired events on its own goroutine.
//
// FireEvent never blocks: it is called with the show state lock held.
type Engine struct {
	mu        sync.RWMutex
	bindings  map[string][]Rule
	vars      map[string]any
	lastGood  map[string]any
	templates map[string]*template.Template

	events    chan event
	commander Commander
	logger    Logger
}

// NewEngine creates an engine. The commander may be set later with
// SetCommander when it depends on the engine itself.
func NewEngine(commander Commander, logger Logger) *Engine {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Engine{
		bindings:  make(map[string][]Rule),
		vars:      make(map[string]any),
		lastGood:  make(map[string]any),
		templates: make(map[string]*template.Template),
		events:    make(chan event, eventQueueSize),
		commander: commander,
		logger:    logger,
	}
}

// SetCommander sets the action target. Call before Run.
func (e *Engine) SetCommander(c Commander) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.commander = c
}

// BindRules replaces the rules bound under scope. A nil list unbinds.
func (e *Engine) BindRules(scope string, rs []Rule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(rs) == 0 {
		delete(e.bindings, scope)
		return
	}
	e.bindings[scope] = Clone(rs)
}

// Bound returns a copy of the rules bound under scope.
func (e *Engine) Bound(scope string) []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Clone(e.bindings[scope])
}

// SetVariable stores a scripting variable.
func (e *Engine) SetVariable(name string, value any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vars[name] = value
}

// Variables returns a copy of the scripting variables.
func (e *Engine) Variables() map[string]any {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return maps.Clone(e.vars)
}

// FireEvent queues an event for the worker together with the rules bound
// under scope that match it. Events without matching rules are not queued.
// Events are dropped, with an error log, when the queue is full.
func (e *Engine) FireEvent(scope, name string, value any) {
	e.mu.RLock()
	var matched []Rule
	for _, r := range e.bindings[scope] {
		if r.Matches(name) {
			matched = append(matched, r)
		}
	}
	e.mu.RUnlock()
	if len(matched) == 0 {
		return
	}

	select {
	case e.events <- event{scope: scope, name: name, value: value, rules: matched}:
	default:
		e.logger.Error("rule event dropped", "scope", scope, "event", name, "error", ErrQueueFull)
	}
}

// Run processes fired events until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-e.events:
			e.dispatch(ctx, ev)
		}
	}
}

func (e *Engine) dispatch(ctx context.Context, ev event) {
	e.mu.RLock()
	commander := e.commander
	e.mu.RUnlock()

	vars := map[string]any{"event": ev.name, "value": ev.value, "scope": ev.scope}
	for _, r := range ev.rules {
		for _, a := range r.Actions {
			if err := e.runAction(ctx, commander, ev.scope, a, vars); err != nil {
				e.logger.Warn("rule action failed",
					"scope", ev.scope,
					"event", ev.name,
					"command", a.Command,
					"error", err,
				)
			}
		}
	}
}

func (e *Engine) runAction(ctx context.Context, commander Commander, scope string, a Action, vars map[string]any) error {
	args := make([]string, len(a.Args))
	for i, raw := range a.Args {
		v, err := e.Evaluate(raw, vars)
		if err != nil && v == nil {
			return err
		}
		args[i] = FormatValue(v)
	}

	if a.Command == "set" {
		if len(args) != 2 {
			return fmt.Errorf("set: want 2 arguments, got %d", len(args))
		}
		e.SetVariable(args[0], coerce(args[1]))
		return nil
	}

	if commander == nil {
		return errors.New("rules: no commander configured")
	}
	return commander.Execute(ctx, scope, a.Command, args)
}
