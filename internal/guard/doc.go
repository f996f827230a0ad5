// Package guard provides a set of in-flight operation tokens used to keep
// identical operations from overlapping: refresh firings for one target and
// sends for one conversation are each keyed here while outstanding.
package guard
