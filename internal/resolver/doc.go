// Package resolver implements find-or-create for the (product,
// counterparty) pairs that arrive via navigation, e.g. a "contact seller"
// action. A creation-in-flight guard ensures at most one create call reaches
// the service per pair within a session, no matter how many times resolution
// is re-triggered before the first call completes.
package resolver
