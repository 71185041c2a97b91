package server

import (
	"context"
	"net/http"
	"time"

	"github.com/havenapp/haven/colors"
	"github.com/havenapp/haven/server/models"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "application/json")

		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: rw, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		statusText := colors.Green(recorder.status)
		if recorder.status >= http.StatusInternalServerError {
			statusText = colors.Red(recorder.status)
		} else if recorder.status >= http.StatusBadRequest {
			statusText = colors.Yellow(recorder.status)
		}

		logg.Infof("%v %v %v %v", r.Method, r.RequestURI, statusText, time.Since(start))
	})
}

// initialContextMiddleware decodes the auth header(if present) & stashes
// the result in the request context for route middlewares downstream.
func initialContextMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		decodedJWT := decodeAndVerifyAuthHeader(r.Header.Get("Authorization"))

		ctx := context.WithValue(r.Context(), RequestContextKey("decodedJWT"), decodedJWT)
		next.ServeHTTP(rw, r.WithContext(ctx))
	})
}

// authRequiredMiddleware lets any request with a valid token through.
func authRequiredMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		decodedJWT := r.Context().Value(RequestContextKey("decodedJWT")).(DecodedJWT)
		if decodedJWT.ErrorMsg != "" {
			writeResponse(rw, ResponsePayload{Errors: []string{decodedJWT.ErrorMsg}}, http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(rw, r)
	})
}

// protectedRouteMiddleware guards user-scoped resources: a valid token
// is required, and the 'uid' route var must belong to the caller unless
// the caller is an admin on an allowed method.
func protectedRouteMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		decodedJWT := r.Context().Value(RequestContextKey("decodedJWT")).(DecodedJWT)
		if decodedJWT.ErrorMsg != "" {
			writeResponse(rw, ResponsePayload{Errors: []string{decodedJWT.ErrorMsg}}, http.StatusUnauthorized)
			return
		}

		if !canAccessUserResource(r, decodedJWT.Claims) {
			writeResponse(rw, ResponsePayload{Errors: []string{"action is not permitted"}}, http.StatusForbidden)
			return
		}

		next.ServeHTTP(rw, r)
	})
}

// adminRouteMiddleware restricts a route to admins. The one exception is
// account creation on an empty install, so the very first admin can be
// bootstrapped without a token.
func adminRouteMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		atLeastOneUserExists, err := models.AtLeastOneUserExists()
		if err != nil {
			writeResponse(rw, ResponsePayload{Errors: []string{err.Error()}}, http.StatusInternalServerError)
			return
		}

		if !atLeastOneUserExists && r.Method == "POST" {
			next.ServeHTTP(rw, r)
			return
		}

		decodedJWT := r.Context().Value(RequestContextKey("decodedJWT")).(DecodedJWT)
		if decodedJWT.ErrorMsg != "" {
			writeResponse(rw, ResponsePayload{Errors: []string{decodedJWT.ErrorMsg}}, http.StatusUnauthorized)
			return
		}

		if !decodedJWT.Claims.IsAdmin {
			writeResponse(rw, ResponsePayload{Errors: []string{"action is not permitted"}}, http.StatusForbidden)
			return
		}

		next.ServeHTTP(rw, r)
	})
}
