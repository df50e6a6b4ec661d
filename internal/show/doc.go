// Package show provides the cue sequencer and compositor for Gray Logic Show.
//
// A Board owns a set of Scenes. Each scene steps through an ordered list
// of Cues; active scenes are stacked by (priority, activation time) and
// blended onto universe buffers once per render tick.
//
// Architecture:
//
//	┌───────────────────────────────────────────────────────┐
//	│                    Board (board.go)                    │
//	│  Scene registry, active stack, shortcuts, claims       │
//	│  ┌──────────────┐    ┌──────────────┐                 │
//	│  │    Scene     │───▶│     Cue      │                 │
//	│  │  (scene.go)  │    │   (cue.go)   │                 │
//	│  └──────────────┘    └──────────────┘                 │
//	│        │ goto / next / tap (sequence.go, tempo.go)     │
//	│        ▼                                              │
//	│  ┌──────────────────────────────────────────────┐     │
//	│  │  Render tick (compositor.go)                  │     │
//	│  │  1. Auto-advance expired cues, paint canvases │     │
//	│  │  2. Reset dirty universes (descending)        │     │
//	│  │  3. Blend scenes onto universes (ascending)   │     │
//	│  │  4. Hand changed frames to output sinks       │     │
//	│  └──────────────────────────────────────────────┘     │
//	└───────────────────────────────────────────────────────┘
//
// # Locking
//
// All scene, cue and universe state is guarded by one board mutex. Exported
// methods take it; helpers named ...Locked expect it held. Observer pushes
// go through a second, timeout-bounded lock that is only ever taken after
// the state lock. Rule actions and sound playback run on their own
// goroutines and come back in through exported methods, so nothing needs a
// reentrant lock. A per-scene entry counter lets late sound results for a
// superseded cue be discarded.
//
// # Persistence
//
// Scenes serialise to SceneData, stored as YAML files (LoadSceneDir,
// WriteSceneFile) or as documents in SQLite (SQLiteRepository).
package show
