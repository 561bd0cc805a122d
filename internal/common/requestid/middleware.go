package requestid

import (
	"context"
	"net/http"

	"github.com/renstrom/shortuuid"
)

// Request ids are embedded in HTTP headers using this key.
// This is the standard key used for request ids. For example, opentelemetry uses the same one.
const HeaderKey = "x-request-id"

type contextKey int

const requestIdKey contextKey = 0

// FromContext returns the request id stored in a context, if one is available.
// The second return value is true if the operation was successful.
func FromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(requestIdKey).(string)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// FromContextOrMissing returns the request id stored in a context, if one is
// available. If none is available, the string "missing" is returned.
func FromContextOrMissing(ctx context.Context) string {
	if id, ok := FromContext(ctx); ok {
		return id
	}
	return "missing"
}

// AddToIncomingRequest annotates an incoming HTTP request with an id, which is
// stored in both the request context and the x-request-id header. Ids are generated
// using github.com/renstrom/shortuuid. If replace is false, requests that already
// carry an id keep it.
func AddToIncomingRequest(r *http.Request, replace bool) *http.Request {
	id := r.Header.Get(HeaderKey)
	if id == "" || replace {
		id = shortuuid.New()
		r.Header.Set(HeaderKey, id)
	}
	return r.WithContext(context.WithValue(r.Context(), requestIdKey, id))
}

// Middleware wraps an HTTP handler such that every request it serves carries a
// request id, which is also echoed back to the client.
func Middleware(next http.Handler, replace bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r = AddToIncomingRequest(r, replace)
		id, _ := FromContext(r.Context())
		w.Header().Set(HeaderKey, id)
		next.ServeHTTP(w, r)
	})
}
