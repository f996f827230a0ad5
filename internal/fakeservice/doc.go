// Package fakeservice is an in-process implementation of the message
// service's HTTP contract, backed by marketstore. It exists for local
// development (cmd/fake-market) and for end-to-end tests that exercise the
// engine against real HTTP and real SQLite instead of mocks.
package fakeservice
