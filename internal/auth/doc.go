// Package auth holds the bearer credential the engine presents to the
// message service, including a local expiry pre-check for JWT-shaped tokens.
package auth
