package trigger

import (
	"context"
	"errors"
	"time"
)

// ErrBadMessage is returned for input that cannot be mapped to an operation.
var ErrBadMessage = errors.New("trigger: bad message")

// defaultLogInterval rate limits repeated trigger failures.
const defaultLogInterval = 5 * time.Second

// Target is the part of the show board driven by triggers.
type Target interface {
	ShortcutCode(code string) int
	Execute(ctx context.Context, scope, command string, args []string) error
}

// Logger defines the logging interface used by trigger inputs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

// sceneCommand runs command on the named scene.
func sceneCommand(ctx context.Context, t Target, scene, command string, args ...string) error {
	return t.Execute(ctx, "", command, append([]string{"scene=" + scene}, args...))
}
