// Package marketstore is the SQLite persistence layer behind the fake
// message service used for local development and end-to-end tests. It stores
// users, products, conversations, participants, and messages, and computes
// per-user unread counts from each participant's last-read watermark.
package marketstore
