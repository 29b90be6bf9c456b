package http

import (
	"net/http"

	"github.com/libdx/flask-microservices/pkg/httputil"
)

// Ping handles GET /ping
func Ping(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteMessage(w, http.StatusOK, "pong!")
}
