package interceptor

import (
	"net/http"
	"path"
	"strings"
)

// Class selects the caching strategy for a request.
type Class int

const (
	ClassStatic Class = iota
	ClassAPI
	ClassImage
)

// String returns the class name used in logs and metrics.
func (c Class) String() string {
	switch c {
	case ClassAPI:
		return "api"
	case ClassImage:
		return "image"
	default:
		return "static"
	}
}

var imageExts = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".webp": true,
	".gif":  true,
}

// Classify assigns r to a class. First match wins: image, then API, then static.
func Classify(r *http.Request) Class {
	host := strings.ToLower(r.URL.Hostname())
	p := r.URL.Path
	if strings.HasPrefix(host, "images.") || imageExts[strings.ToLower(path.Ext(p))] {
		return ClassImage
	}
	if strings.HasPrefix(p, "/api/") || strings.HasPrefix(p, "/v2/") || strings.Contains(host, "api.") {
		return ClassAPI
	}
	return ClassStatic
}

// wantsRevalidation reports whether the caller asked to bypass the cached copy.
func wantsRevalidation(r *http.Request) bool {
	for _, v := range r.Header.Values("Cache-Control") {
		if strings.Contains(strings.ToLower(v), "no-cache") {
			return true
		}
	}
	return false
}

// isNavigation reports whether r is a document navigation.
func isNavigation(r *http.Request) bool {
	if r.Header.Get("Sec-Fetch-Mode") == "navigate" {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}
