// Package problem writes RFC 7807 error documents. Details are shown to API
// callers, so they must never carry node errors or key material.
package problem

import (
	"encoding/json"
	"net/http"
	"strings"
)

const (
	ContentType = "application/problem+json"
	TraceHeader = "X-Trace-ID"

	baseTypeURL = "https://errors.stablecoin-gateway.dev/"
)

// Details represents RFC 7807 Problem Details.
type Details struct {
	Type      string `json:"type"`
	Title     string `json:"title"`
	Status    int    `json:"status"`
	Detail    string `json:"detail"`
	Instance  string `json:"instance"`
	RequestID string `json:"request_id,omitempty"`
}

// Type expands a slug such as "withdrawal/not-pending" into a type URI.
func Type(slug string) string {
	switch {
	case slug == "":
		return "about:blank"
	case strings.HasPrefix(slug, "http"), slug == "about:blank":
		return slug
	}
	return baseTypeURL + slug
}

// Write sends a problem document with the given status.
func Write(w http.ResponseWriter, r *http.Request, status int, slug, detail string) {
	d := Details{
		Type:      Type(slug),
		Title:     http.StatusText(status),
		Status:    status,
		Detail:    detail,
		RequestID: w.Header().Get(TraceHeader),
	}
	if r != nil {
		d.Instance = r.URL.Path
		if d.RequestID == "" {
			d.RequestID = r.Header.Get(TraceHeader)
		}
	}

	w.Header().Set("Content-Type", ContentType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(d)
}
