// Package sound plays cue sounds for the show board.
//
// Files are decoded with faiface/beep (WAV and MP3), resampled to the
// player's rate and held in an in-memory buffer cache so that preloaded
// sounds start without disk access. Each playing sound is identified by a
// handle (the board uses scene ids), so starting a new sound on a handle
// replaces the old one.
//
// # Usage
//
//	player, err := sound.NewSpeakerPlayer(cfg.Sound)
//	if err != nil {
//	    return err
//	}
//	player.SetOnEnd(board.SoundEnded)
//
// # Thread Safety
//
// All methods are safe for concurrent use. The end callback runs on its
// own goroutine, never on the audio goroutine, so it may take other locks.
package sound
