// Package tagbus connects the show to the MQTT tag bus.
//
// Tags are named values retained on the broker under graylogic/show/tag/.
// The bus keeps the latest value of every tag in memory and gives them
// meaning for the show:
//
//   - fixture/<name> = "<universe>:<start>" patches a virtual fixture, used
//     by the universe patch through ResolveFixtureIndirection
//   - a scene's cue_tag names a tag whose value claims the scene's cue
//   - every tag is mirrored into the rule engine as variable "tag/<name>"
//
// The bus also syncs cue entries between show nodes on
// graylogic/show/scene/<scene>/cue and publishes frames of tag-backed
// universes on graylogic/show/universe/<name>.
//
// Handlers run on MQTT client goroutines. The bus never holds its own lock
// while calling into the show, so the show may call ResolveFixtureIndirection
// with its state lock held.
package tagbus
