package rules

import "errors"

var (
	// ErrExpression is returned when an expression fails to parse or evaluate.
	ErrExpression = errors.New("rules: expression error")

	// ErrUnknownCommand is returned by a Commander for commands it does not handle.
	ErrUnknownCommand = errors.New("rules: unknown command")

	// ErrQueueFull is returned when an event is dropped because the worker is behind.
	ErrQueueFull = errors.New("rules: event queue full")
)
