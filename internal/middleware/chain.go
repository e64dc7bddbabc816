package middleware

import "net/http"

// Chain composes middleware into a single wrapper: Chain(A, B, C)(h)
// executes as A(B(C(h))), so the first middleware sees the request first.
// The API router builds its chain through chi; this serves the bare
// listeners that have no router.
func Chain(middlewares ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(final http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}
