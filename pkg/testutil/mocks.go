// Package testutil provides common testing utilities and mock implementations.
package testutil

import (
	"bytes"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
)

// Identity is a test implementation of the applicant identity capability.
type Identity struct {
	ID            string
	Relationships []string
	// Token stands in for the raw credential; code under test must never log it.
	Token string
}

// NewIdentity creates an identity with the given relationship strings.
func NewIdentity(userID string, relationships ...string) *Identity {
	return &Identity{ID: userID, Relationships: relationships}
}

// UserID returns the applicant ID.
func (i *Identity) UserID() string { return i.ID }

// BusinessRelationships returns the relationship strings.
func (i *Identity) BusinessRelationships() []string { return i.Relationships }

// RecordedRequest is a captured inbound HTTP request.
type RecordedRequest struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte
}

// RequestLog captures requests hitting a test server.
type RequestLog struct {
	mu       sync.RWMutex
	requests []RecordedRequest
}

// NewRequestLog creates an empty request log.
func NewRequestLog() *RequestLog {
	return &RequestLog{}
}

// Record captures r, restoring its body so handlers can still read it.
func (l *RequestLog) Record(r *http.Request) {
	var body []byte
	if r.Body != nil {
		body, _ = io.ReadAll(r.Body)
		r.Body = io.NopCloser(bytes.NewReader(body))
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.requests = append(l.requests, RecordedRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.Query(),
		Header: r.Header.Clone(),
		Body:   body,
	})
}

// Middleware records every request before passing it on.
func (l *RequestLog) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		l.Record(r)
		next.ServeHTTP(w, r)
	})
}

// Count returns the number of requests with method whose path starts with prefix.
func (l *RequestLog) Count(method, prefix string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	for _, r := range l.requests {
		if r.Method == method && strings.HasPrefix(r.Path, prefix) {
			n++
		}
	}
	return n
}

// All returns a copy of every recorded request.
func (l *RequestLog) All() []RecordedRequest {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]RecordedRequest, len(l.requests))
	copy(out, l.requests)
	return out
}

// Last returns the most recent request, or false when none were recorded.
func (l *RequestLog) Last() (RecordedRequest, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.requests) == 0 {
		return RecordedRequest{}, false
	}
	return l.requests[len(l.requests)-1], true
}
