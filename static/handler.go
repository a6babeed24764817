// Package static answers requests from a directory of files.
//
//	/               landing page listing the configured index files
//	/static/<path>  file contents, or an HTML listing for a directory
//
// Everything else is a 404.
package static

import (
	"fmt"
	"html"
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/nczempin/httpd-go-uring/endpoint"
	"github.com/nczempin/httpd-go-uring/protocol"
)

const staticPrefix = "/static"

// Handler serves files below Root
type Handler struct {
	Root    string
	Indices []string
	Logger  logrus.FieldLogger
}

// ServeRequest builds the response for one request
func (h *Handler) ServeRequest(req *protocol.HttpRequest, remote, local endpoint.Identity) *protocol.HttpResponse {
	// The reader HTML-escapes the header block before decoding it
	target := html.UnescapeString(req.URI)
	target, _, _ = strings.Cut(target, "?")

	p, err := url.PathUnescape(target)
	if err != nil {
		return ErrorResponse(400, "Bad Request", "The request path could not be decoded.")
	}

	switch {
	case p == "/":
		return h.landingPage(remote, local)
	case p == staticPrefix || strings.HasPrefix(p, staticPrefix+"/"):
		return h.serveStatic(strings.TrimPrefix(p, staticPrefix))
	default:
		return ErrorResponse(404, "Not Found", fmt.Sprintf("No resource at %s.", p))
	}
}

func (h *Handler) landingPage(remote, local endpoint.Identity) *protocol.HttpResponse {
	var b strings.Builder
	b.WriteString("<html><head><title>http333d</title></head><body>\n")
	b.WriteString("<h1>http333d</h1>\n")
	fmt.Fprintf(&b, "<p>Hello %s, this is %s.</p>\n",
		html.EscapeString(remote.DNSName), html.EscapeString(local.DNSName))
	fmt.Fprintf(&b, "<p><a href=\"%s/\">Browse static files</a></p>\n", staticPrefix)

	if len(h.Indices) > 0 {
		b.WriteString("<h2>Indices</h2>\n<ul>\n")
		for _, idx := range h.Indices {
			fmt.Fprintf(&b, "<li>%s</li>\n", html.EscapeString(filepath.Base(idx)))
		}
		b.WriteString("</ul>\n")
	}
	b.WriteString("</body></html>\n")

	return htmlResponse(200, "OK", b.String())
}

func (h *Handler) serveStatic(rel string) *protocol.HttpResponse {
	clean := path.Clean("/" + rel)

	full, err := h.resolve(clean)
	if err != nil {
		h.logger().WithError(err).WithField("path", clean).Warn("Rejected static path")
		return ErrorResponse(403, "Forbidden", "Access to that path is not allowed.")
	}

	info, err := os.Stat(full)
	switch {
	case os.IsNotExist(err):
		return ErrorResponse(404, "Not Found", fmt.Sprintf("No file at %s.", clean))
	case os.IsPermission(err):
		return ErrorResponse(403, "Forbidden", "Access to that path is not allowed.")
	case err != nil:
		h.logger().WithError(err).WithField("path", full).Error("Stat failed")
		return ErrorResponse(500, "Internal Server Error", "The file could not be read.")
	}

	if info.IsDir() {
		return h.listDirectory(full, clean)
	}
	if !info.Mode().IsRegular() {
		return ErrorResponse(403, "Forbidden", "Access to that path is not allowed.")
	}

	body, err := os.ReadFile(full)
	if err != nil {
		if os.IsPermission(err) {
			return ErrorResponse(403, "Forbidden", "Access to that path is not allowed.")
		}
		h.logger().WithError(err).WithField("path", full).Error("Read failed")
		return ErrorResponse(500, "Internal Server Error", "The file could not be read.")
	}

	resp := protocol.NewHttpResponse(200, "OK")
	resp.SetHeader("Content-Type", contentType(full))
	resp.Body = body
	return resp
}

// resolve maps a cleaned URL path onto the file system, refusing anything
// that ends up outside Root once symlinks are followed.
func (h *Handler) resolve(clean string) (string, error) {
	root, err := filepath.Abs(h.Root)
	if err != nil {
		return "", err
	}
	if r, err := filepath.EvalSymlinks(root); err == nil {
		root = r
	}

	full := filepath.Join(root, filepath.FromSlash(clean))
	resolved, err := filepath.EvalSymlinks(full)
	if err != nil {
		if os.IsNotExist(err) {
			return full, nil
		}
		return "", err
	}
	if resolved != root && !strings.HasPrefix(resolved, root+string(filepath.Separator)) {
		return "", fmt.Errorf("%s escapes %s", resolved, root)
	}
	return full, nil
}

func (h *Handler) listDirectory(dir, clean string) *protocol.HttpResponse {
	entries, err := os.ReadDir(dir)
	if err != nil {
		h.logger().WithError(err).WithField("path", dir).Error("ReadDir failed")
		return ErrorResponse(500, "Internal Server Error", "The directory could not be listed.")
	}

	base := strings.TrimSuffix(staticPrefix+clean, "/")

	var b strings.Builder
	title := html.EscapeString(clean)
	fmt.Fprintf(&b, "<html><head><title>Index of %s</title></head><body>\n", title)
	fmt.Fprintf(&b, "<h1>Index of %s</h1>\n<ul>\n", title)
	if clean != "/" {
		fmt.Fprintf(&b, "<li><a href=\"%s/\">..</a></li>\n", escapeHref(path.Dir(base)))
	}
	for _, e := range entries {
		name := e.Name()
		suffix := ""
		if e.IsDir() {
			suffix = "/"
		}
		fmt.Fprintf(&b, "<li><a href=\"%s/%s%s\">%s%s</a></li>\n",
			escapeHref(base), url.PathEscape(name), suffix, html.EscapeString(name), suffix)
	}
	b.WriteString("</ul>\n</body></html>\n")

	return htmlResponse(200, "OK", b.String())
}

func (h *Handler) logger() logrus.FieldLogger {
	if h.Logger == nil {
		return logrus.StandardLogger()
	}
	return h.Logger
}

func escapeHref(p string) string {
	segs := strings.Split(p, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}

func contentType(name string) string {
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func htmlResponse(code int, message, body string) *protocol.HttpResponse {
	resp := protocol.NewHttpResponse(code, message)
	resp.SetHeader("Content-Type", "text/html; charset=utf-8")
	resp.Body = []byte(body)
	return resp
}

// ErrorResponse renders a small HTML page for an error status
func ErrorResponse(code int, message, detail string) *protocol.HttpResponse {
	body := fmt.Sprintf("<html><head><title>%d %s</title></head><body>\n<h1>%d %s</h1>\n<p>%s</p>\n</body></html>\n",
		code, message, code, message, html.EscapeString(detail))
	return htmlResponse(code, message, body)
}
