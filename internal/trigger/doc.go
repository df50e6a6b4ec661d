// Package trigger turns MIDI and OSC input into show operations.
//
// MIDI (gomidi, any registered driver):
//   - note-on with velocity > 0 fires shortcut code "<note>"
//   - control change on a mapped controller sets that scene's alpha to value/127
//
// OSC over UDP:
//
//	/shortcut <code>
//	/scene/<name>/go | stop | next | tap
//	/scene/<name>/goto <cue>
//	/scene/<name>/alpha <0..1>
//	/scene/<name>/bpm <bpm>
//
// Bundles are unpacked and their messages handled in order; timetags are
// ignored. Handlers run on the input goroutine and call straight into the
// board, which serializes against the render tick.
package trigger
