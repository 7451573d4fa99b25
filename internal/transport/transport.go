// Package transport declares the network primitives the calendar engine depends on.
package transport

import (
	"context"
	"net/url"
)

// FetchRequest describes a conditional JSON GET relative to the planner base URL.
type FetchRequest struct {
	Path        string
	Query       url.Values
	IfNoneMatch string
}

// FetchResponse carries the payload and the conditional-fetch token returned by the server.
// NotModified is set when the server confirmed IfNoneMatch; Body is empty in that case.
type FetchResponse struct {
	Status      int
	Body        []byte
	ETag        string
	NotModified bool
}

// Fetcher retrieves JSON documents.
type Fetcher interface {
	FetchJSON(ctx context.Context, req FetchRequest) (FetchResponse, error)
}

// Poster submits JSON documents and reports the HTTP status.
type Poster interface {
	PostJSON(ctx context.Context, path string, body any) (int, error)
}

// URL renders the request path with its encoded query, used for cache fingerprints.
func (r FetchRequest) URL() string {
	if len(r.Query) == 0 {
		return r.Path
	}
	return r.Path + "?" + r.Query.Encode()
}
