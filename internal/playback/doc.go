// Package playback is the broadcast engine: it owns the playlist cursor,
// turns the current track into a paced sequence of WAV chunks and fans every
// chunk out to the connected clients.
//
// The pieces fit together as follows:
//
//	Controller ──owns──▶ Cursor
//	    │
//	    └─starts─▶ Session ──pulls──▶ Producer ──decodes──▶ audio.Decoder
//	                  │
//	                  └─pushes─▶ Hub ──sends──▶ Client...
//
// Exactly one [Session] makes progress at any time. The [Controller] is the
// only goroutine that mutates the cursor or replaces the session; next,
// previous, reload and auto-advance requests are serialised through its
// command channel. A superseded session is cancelled through its context and
// the controller waits for it to exit before the next one starts.
package playback
