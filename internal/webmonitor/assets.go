package webmonitor

import (
	"net/http"
	"os"
	"path"
	"path/filepath"
)

// assetHandler serves frontend files from assetsDir. Paths are cleaned
// against the root so requests cannot leave the directory.
type assetHandler struct {
	assetsDir string
}

func newAssetHandler(assetsDir string) *assetHandler {
	return &assetHandler{assetsDir: assetsDir}
}

func (h *assetHandler) resolve(urlPath string) string {
	clean := path.Clean("/" + urlPath)
	return filepath.Join(h.assetsDir, filepath.FromSlash(clean))
}

func (h *assetHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	assetPath := h.resolve(r.URL.Path)
	if !fileExists(assetPath) {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, assetPath)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
