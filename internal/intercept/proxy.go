package intercept

import (
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/bft-labs/offsync/internal/ports"
)

// NewProxy returns a reverse proxy to target whose upstream round-trips go
// through t, so proxied GETs get the same interception policy as clients
// using the Transport directly.
func NewProxy(target *url.URL, t *Transport, logger ports.Logger) http.Handler {
	return &httputil.ReverseProxy{
		Rewrite: func(r *httputil.ProxyRequest) {
			r.SetURL(target)
			r.Out.Host = target.Host
			r.SetXForwarded()
		},
		Transport: t,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Warn("upstream unavailable",
				ports.String("path", r.URL.Path),
				ports.Err(err),
			)
			http.Error(w, "upstream unavailable", http.StatusBadGateway)
		},
	}
}
