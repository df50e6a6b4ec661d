// Package output provides the universe sinks behind the compositor.
//
// Three sinks exist, selected per universe by config output.type:
//   - artnet: ArtDMX packets over UDP to a node or broadcast address
//   - tag: JSON frames published on the tag bus for virtual targets
//   - none: frames are dropped
//
// Sinks are called from the compositor goroutine after the show state lock
// is released. None of them wait on a network round trip.
package output
