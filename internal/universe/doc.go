// Package universe models output channel buffers and the fixtures patched
// onto them.
//
// A Universe is a fixed-length float32 buffer with the caching fields the
// compositor uses: TopLayer, PrerenderedLayer plus a cached snapshot,
// SaveBeforeLayer, AllStatic and FullRerender. A Fixture is a named channel
// range with typed roles; a Patch holds one consistent set of universes and
// fixtures and resolves cue value keys ("stage"/"5", "@par1"/"red") to
// absolute channels.
//
// Nothing here locks. The show board owns the state lock and swaps whole
// patches on configuration reload.
package universe
