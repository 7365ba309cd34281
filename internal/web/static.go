package web

import (
	"embed"
	"io/fs"
	"net/http"
)

//go:embed static
var embeddedFiles embed.FS

// assets is the static directory with its prefix stripped.
var assets = func() fs.FS {
	sub, err := fs.Sub(embeddedFiles, "static")
	if err != nil {
		panic(err)
	}
	return sub
}()

func staticHandler() http.Handler {
	return http.StripPrefix("/static/", http.FileServerFS(assets))
}

func staticContent(name string) ([]byte, error) {
	return fs.ReadFile(assets, name)
}
