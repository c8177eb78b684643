// Package sweeper periodically scans for conversations whose response
// deadline passed and either reminds the responder or escalates, depending on
// how many timeouts the conversation already absorbed.
//
// Each overdue conversation is handled independently; one failure never
// aborts the rest of the sweep. Sweeps themselves never overlap.
package sweeper
