// Package tutor handles student events: /start resets a session, text goes through
// the completion service, and every path ends with a reply.
//
// Invariants:
// - A successful message grows history by exactly two turns, user then assistant.
// - A failed completion leaves only the user turn and sends the apology text.
// - Events of one session run one at a time, in dispatch order.
package tutor
