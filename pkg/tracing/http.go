package tracing

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// untracedPaths are polled by orchestrators and scrapers and would drown the
// API spans.
var untracedPaths = map[string]struct{}{
	"/health":  {},
	"/metrics": {},
}

// GinMiddleware traces every API request except health and metrics polls.
func GinMiddleware(serviceName string) gin.HandlerFunc {
	return otelgin.Middleware(serviceName, otelgin.WithFilter(shouldTrace))
}

func shouldTrace(r *http.Request) bool {
	_, skip := untracedPaths[r.URL.Path]
	return !skip
}
