// Package api implements the HTTP client for the Trovato message service.
//
// The remote service is pull-only: the client lists conversations, fetches a
// conversation's messages, posts messages, marks conversations read, and
// creates conversations. There is no push or streaming surface. All requests
// carry a bearer credential; requests without a usable credential fail
// locally with an AuthError before any network traffic is issued.
package api
