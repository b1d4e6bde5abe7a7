package service

import (
	"net/http"
	"strings"
)

// hopByHop are connection-level headers a proxy must not forward (RFC 9110 §7.6.1).
var hopByHop = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// CopyHeaders copies src into dst without hop-by-hop headers, the headers
// named in src's Connection header, and any extra names in skip.
// Content-Length is never copied: bodies are rewritten in between.
func CopyHeaders(dst, src http.Header, skip ...string) {
	drop := make(map[string]bool, len(hopByHop)+len(skip)+1)
	for _, k := range hopByHop {
		drop[k] = true
	}
	for _, k := range skip {
		drop[http.CanonicalHeaderKey(k)] = true
	}
	drop["Content-Length"] = true
	for _, v := range src.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				drop[http.CanonicalHeaderKey(name)] = true
			}
		}
	}

	for k, vs := range src {
		if drop[http.CanonicalHeaderKey(k)] {
			continue
		}
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
}
