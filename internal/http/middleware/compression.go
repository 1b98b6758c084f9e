package middleware

import (
	"net/http"
	"strings"
)

// SkipCompressionForUpgrades wraps a compression middleware so WebSocket
// upgrade requests bypass it. The compression writer would otherwise get
// between the upgrader and the hijacked connection.
func SkipCompressionForUpgrades(compressionHandler func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		compressedHandler := compressionHandler(next)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, r)
				return
			}
			compressedHandler.ServeHTTP(w, r)
		})
	}
}
