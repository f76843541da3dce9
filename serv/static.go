package serv

import (
	"errors"
	"io/fs"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/go-http-utils/headers"
	"github.com/spf13/afero"
)

const indexFile = "/index.html"

// contentType returns the content type for a web client file
func contentType(name string) string {
	switch ext := strings.ToLower(path.Ext(name)); ext {
	case ".html", ".htm":
		return "text/html; charset=utf-8"
	case ".css":
		return "text/css; charset=utf-8"
	case ".js", ".mjs":
		return "application/javascript"
	default:
		if ct := mime.TypeByExtension(ext); ct != "" {
			return ct
		}
		return "application/octet-stream"
	}
}

// staticHandler serves the console web client from the web root
// GET /*
func (s *Service) staticHandler(w http.ResponseWriter, r *http.Request) {
	name := path.Clean("/" + r.URL.Path)
	if name == "/" {
		name = indexFile
	}

	f, err := s.fs.Open(name)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.log.Warnf("static: open %s: %s", name, err)
		}
		notFoundHandler(w, r)
		return
	}
	defer f.Close() //nolint:errcheck

	fi, err := f.Stat()
	if err != nil || fi.IsDir() {
		notFoundHandler(w, r)
		return
	}

	w.Header().Set(headers.ContentType, contentType(name))
	w.Header().Set(headers.CacheControl, "no-cache")
	http.ServeContent(w, r, fi.Name(), fi.ModTime(), f)
}

// webFS returns the filesystem rooted at the web client directory
func webFS(root string) afero.Fs {
	return afero.NewReadOnlyFs(afero.NewBasePathFs(afero.NewOsFs(), root))
}
