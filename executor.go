package posoffline

//go:generate mockgen -source=executor.go -destination=mock_executor_test.go -package=posoffline

import (
	"context"
	"encoding/json"
	"net/url"
)

// Request is a single call to the POS API.
type Request struct {
	Method         string
	Endpoint       string
	Query          url.Values
	Body           json.RawMessage
	IdempotencyKey string
}

// Response is a completed 2xx call.
type Response struct {
	StatusCode int
	Body       json.RawMessage
}

// Executor performs requests against the POS API. Failures must be a
// *ConnectivityError (transient) or a *RejectedError (permanent) so callers
// can tell retrying from giving up; anything else is treated as transient.
type Executor interface {
	Execute(ctx context.Context, req *Request) (*Response, error)
}

// Fetcher loads one read-only resource listing.
type Fetcher interface {
	Fetch(ctx context.Context, resource string, query url.Values) (json.RawMessage, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, req *Request) (*Response, error)

func (f ExecutorFunc) Execute(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, resource string, query url.Values) (json.RawMessage, error)

func (f FetcherFunc) Fetch(ctx context.Context, resource string, query url.Values) (json.RawMessage, error) {
	return f(ctx, resource, query)
}

// ExecutorFetcher turns any Executor into a Fetcher issuing GET /<resource>.
func ExecutorFetcher(exec Executor) Fetcher {
	return FetcherFunc(func(ctx context.Context, resource string, query url.Values) (json.RawMessage, error) {
		resp, err := exec.Execute(ctx, &Request{Method: "GET", Endpoint: "/" + normalizeResource(resource), Query: query})
		if err != nil {
			return nil, err
		}
		return unwrapData(resp.Body), nil
	})
}

// unwrapData returns the "data" member of a {"ok":..,"data":..} envelope, or
// the body itself when the server answers with a bare payload.
func unwrapData(body json.RawMessage) json.RawMessage {
	var env struct {
		OK   *bool           `json:"ok"`
		Data json.RawMessage `json:"data"`
	}
	if len(body) > 0 && body[0] == '{' && json.Unmarshal(body, &env) == nil && env.OK != nil && env.Data != nil {
		return env.Data
	}
	return body
}
