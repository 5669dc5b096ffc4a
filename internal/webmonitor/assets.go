package webmonitor

import (
	"embed"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
)

//go:embed web
var embeddedAssets embed.FS

// assetHandler serves page assets from the override directory first and the
// embedded copies otherwise.
type assetHandler struct {
	assetsDir string
	builtin   http.Handler
}

func newAssetHandler(assetsDir string) *assetHandler {
	sub, err := fs.Sub(embeddedAssets, "web")
	if err != nil {
		panic(err)
	}
	return &assetHandler{
		assetsDir: assetsDir,
		builtin:   http.FileServer(http.FS(sub)),
	}
}

func (h *assetHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	filename := filepath.Base(r.URL.Path)
	if filename == "." || filename == "/" {
		http.NotFound(w, r)
		return
	}
	if h.assetsDir != "" {
		overridePath := filepath.Join(h.assetsDir, filename)
		if fileExists(overridePath) {
			http.ServeFile(w, r, overridePath)
			return
		}
	}

	r2 := r.Clone(r.Context())
	r2.URL.Path = "/" + filename
	h.builtin.ServeHTTP(w, r2)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
