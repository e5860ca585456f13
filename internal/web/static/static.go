package static

import (
	"embed"
	"net/http"
)

//go:embed css/*
var staticFS embed.FS

// Handler serves the embedded stylesheets. Mount it under /static/.
func Handler() http.Handler {
	return http.FileServer(http.FS(staticFS))
}
