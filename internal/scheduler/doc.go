// Package scheduler drives the polling loop that keeps the conversation
// cache fresh: a repeating tick while started, plus an immediate firing when
// the host application returns to the foreground. Firings are not
// re-entrant; a target whose previous refresh is still in flight is skipped
// for that firing rather than queued.
package scheduler
