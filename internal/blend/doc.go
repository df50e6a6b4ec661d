// Package blend holds the compositing functions scenes are layered with and
// the fade canvas that interpolates a scene between cues.
//
// Built-in modes are normal, HTP, inhibit, gel (alias multiply) and monitor.
// Custom modes are registered by name with Register and receive the scene's
// blend arguments when built.
package blend
