// Package coordinator applies the two user-initiated mutations: sending a
// message and marking a conversation read. Sends are confirmed-only (no
// optimistic insert; the message appears after reconciliation), while
// mark-read zeroes the unread count optimistically and reconciles with
// server truth afterwards.
package coordinator
