// Package engine is the conversation synchronization engine's public
// surface. It wires the cache, scheduler, resolver, and coordinator behind
// one object with an explicit lifecycle: Start begins polling with a
// credential, Stop tears down the loop, and Clear discards all cached state
// on logout.
//
// The engine is an explicit, dependency-injected object rather than an
// ambient singleton so tests can run independent instances side by side.
package engine
