package http

import (
	"embed"
	"io/fs"
	"net/http"
	"os"
	"path"
	"strings"
)

//go:embed web
var webFS embed.FS

// staticHandler serves the web UI from StaticDir, or the embedded copy.
// Unknown paths fall through to the JSON 404.
func (s *Server) staticHandler() http.Handler {
	var fsys fs.FS
	if s.opts.StaticDir != "" {
		fsys = os.DirFS(s.opts.StaticDir)
	} else {
		sub, err := fs.Sub(webFS, "web")
		if err != nil {
			panic(err)
		}
		fsys = sub
	}
	files := http.FileServerFS(fsys)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(path.Clean(r.URL.Path), "/")
		if name == "" {
			name = "index.html"
		}
		if info, err := fs.Stat(fsys, name); err != nil || info.IsDir() {
			s.handleNotFound(w, r)
			return
		}
		files.ServeHTTP(w, r)
	})
}
