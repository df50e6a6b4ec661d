// Package rules is the rule and expression engine behind cue rules and cue
// variables.
//
// Expressions are text/template strings with the sprig function library:
//
//	{{ add .intensity 10 }}
//	{{ if eq .event "cue.enter" }}1{{ else }}0{{ end }}
//
// Rules bind event names ("cue.enter", "cue.exit", "scene.go", "scene.stop",
// "sound.end", "error") to actions. Actions run on the engine goroutine and
// reach the show through a Commander, never under the show state lock.
package rules
