// Package webui serves the built-in control page as an embedded asset.
//
// The page is a single static HTML file embedded into the binary with
// go:embed, so the bridge has a usable manual control surface with no
// runtime file dependency. It talks to the same REST endpoints any
// other frontend would.
package webui

import (
	"embed"
	"fmt"
	"io/fs"
	"net/http"
)

//go:embed static/*
var content embed.FS

// Handler returns an http.Handler serving the embedded control page.
// Panics if the embedded assets cannot be loaded (build error).
func Handler() http.Handler {
	staticFS, err := fs.Sub(content, "static")
	if err != nil {
		panic(fmt.Sprintf("webui: failed to load embedded assets: %v", err))
	}

	fileServer := http.FileServer(http.FS(staticFS))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The page is tiny and changes with the binary; never cache it.
		w.Header().Set("Cache-Control", "no-cache, must-revalidate")
		fileServer.ServeHTTP(w, r)
	})
}
