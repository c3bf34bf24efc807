// Package session keeps per-user conversation history in process memory.
//
// Invariants:
// - Turns are appended only; stored turns are never edited.
// - RecentWindow returns at most n turns, oldest first.
// - Appends beyond MaxTurns drop the oldest turns, so a session holds a bounded slice.
// - The persona prompt is never stored here; it is injected at assembly time.
//
// Usage:
//
//	store := session.NewMemoryStore(session.Options{MaxTurns: 12})
//	_ = store.Append("tg:42", session.RoleUser, "привет")
//	window, _ := store.RecentWindow("tg:42", 6)
//	_ = window
package session
