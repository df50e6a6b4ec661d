package rules

import (
	"bytes"
	"fmt"
	"maps"
	"strconv"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig"
)

// Evaluate renders text as a template against the engine variables merged
// with vars, and returns a float64 when the result parses as a number and a
// string otherwise. Text without "{{" is taken literally.
//
// On failure the last good value for the same text is returned together
// with an error wrapping ErrExpression, so callers can log and carry on.
func (e *Engine) Evaluate(text string, vars map[string]any) (any, error) {
	if !strings.Contains(text, "{{") {
		return coerce(text), nil
	}

	tmpl, err := e.compile(text)
	if err != nil {
		return e.fallback(text, err)
	}

	e.mu.RLock()
	data := make(map[string]any, len(e.vars)+len(vars))
	maps.Copy(data, e.vars)
	e.mu.RUnlock()
	maps.Copy(data, vars)

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return e.fallback(text, err)
	}

	v := coerce(buf.String())
	e.mu.Lock()
	e.lastGood[text] = v
	e.mu.Unlock()
	return v, nil
}

func (e *Engine) compile(text string) (*template.Template, error) {
	e.mu.RLock()
	tmpl, ok := e.templates[text]
	e.mu.RUnlock()
	if ok {
		return tmpl, nil
	}

	tmpl, err := template.New("expr").
		Option("missingkey=error").
		Funcs(sprig.TxtFuncMap()).
		Parse(text)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if len(e.templates) >= maxCachedTemplates {
		clear(e.templates)
	}
	e.templates[text] = tmpl
	e.mu.Unlock()
	return tmpl, nil
}

func (e *Engine) fallback(text string, cause error) (any, error) {
	e.mu.RLock()
	last := e.lastGood[text]
	e.mu.RUnlock()
	return last, fmt.Errorf("%w: %q: %w", ErrExpression, text, cause)
}

func coerce(s string) any {
	s = strings.TrimSpace(s)
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

// FormatValue renders an evaluated value as a command argument.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}
