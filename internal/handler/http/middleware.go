package http

import (
	"mime"
	"net/http"

	"github.com/libdx/flask-microservices/pkg/httputil"
)

// ContentTypeJSON rejects POST, PUT and PATCH requests that declare a body
// type other than application/json. An absent Content-Type passes.
func ContentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch:
			if ct := r.Header.Get("Content-Type"); ct != "" {
				mediaType, _, err := mime.ParseMediaType(ct)
				if err != nil || mediaType != "application/json" {
					httputil.WriteJSON(w, http.StatusUnsupportedMediaType, httputil.ErrorResponse{
						Status:  httputil.StatusFailed,
						Message: "Content-Type must be application/json",
						Code:    "UNSUPPORTED_MEDIA_TYPE",
					})
					return
				}
			}
		}
		next.ServeHTTP(w, r)
	})
}
