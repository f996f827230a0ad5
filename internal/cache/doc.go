// Package cache holds the in-memory conversation state the engine keeps in
// sync with the message service: the conversation list, per-conversation
// message pages, the derived aggregate unread count, and a read-through
// product summary cache.
//
// The cache is the single shared mutable resource in the engine. It never
// issues network calls; refresh logic lives in the engine, which writes
// fetched state here. Reads are pure and return copies, so callers cannot
// mutate cached state through a returned value.
package cache
