package static

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nczempin/httpd-go-uring/endpoint"
	"github.com/nczempin/httpd-go-uring/logging"
	"github.com/nczempin/httpd-go-uring/protocol"
)

var (
	testRemote = endpoint.Identity{Family: endpoint.FamilyV4, Addr: "127.0.0.1", Port: 40000, DNSName: "localhost"}
	testLocal  = endpoint.Identity{Family: endpoint.FamilyV4, Addr: "127.0.0.1", DNSName: "localhost"}
)

func setupRoot(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "hello.txt"), []byte("hello world"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(root, "sub dir"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub dir", "page.html"), []byte("<p>hi</p>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "blob"), []byte{0, 1, 2}, 0o644))
	return root
}

func serve(t *testing.T, h *Handler, uri string) *protocol.HttpResponse {
	t.Helper()
	req := protocol.NewHttpRequest()
	req.URI = uri
	resp := h.ServeRequest(req, testRemote, testLocal)
	require.NotNil(t, resp)
	return resp
}

func newHandler(root string) *Handler {
	return &Handler{Root: root, Indices: []string{"/data/<idx>.idx", "b.idx"}, Logger: logging.Discard()}
}

func TestServeRequest_LandingPage(t *testing.T) {
	resp := serve(t, newHandler(setupRoot(t)), "/")

	assert.Equal(t, 200, resp.StatusCode)
	body := string(resp.Body)
	assert.Contains(t, body, "&lt;idx&gt;.idx")
	assert.Contains(t, body, "b.idx")
	assert.Contains(t, body, "Hello localhost")
	ct, _ := resp.Header("Content-Type")
	assert.Equal(t, "text/html; charset=utf-8", ct)
}

func TestServeRequest_File(t *testing.T) {
	resp := serve(t, newHandler(setupRoot(t)), "/static/hello.txt")

	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "hello world", string(resp.Body))
	ct, _ := resp.Header("Content-Type")
	assert.Equal(t, "text/plain; charset=utf-8", ct)
}

func TestServeRequest_FileWithEscapedPath(t *testing.T) {
	resp := serve(t, newHandler(setupRoot(t)), "/static/sub%20dir/page.html?x=1&amp;y=2")

	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "<p>hi</p>", string(resp.Body))
}

func TestServeRequest_UnknownExtension(t *testing.T) {
	resp := serve(t, newHandler(setupRoot(t)), "/static/blob")

	assert.Equal(t, 200, resp.StatusCode)
	ct, _ := resp.Header("Content-Type")
	assert.Equal(t, "application/octet-stream", ct)
}

func TestServeRequest_DirectoryListing(t *testing.T) {
	resp := serve(t, newHandler(setupRoot(t)), "/static/")

	assert.Equal(t, 200, resp.StatusCode)
	body := string(resp.Body)
	assert.Contains(t, body, `<a href="/static/hello.txt">hello.txt</a>`)
	assert.Contains(t, body, `<a href="/static/sub%20dir/">sub dir/</a>`)
	assert.NotContains(t, body, ">..<")

	resp = serve(t, newHandler(setupRoot(t)), "/static/sub%20dir")
	assert.Equal(t, 200, resp.StatusCode)
	body = string(resp.Body)
	assert.Contains(t, body, `<a href="/static/sub%20dir/page.html">page.html</a>`)
	assert.Contains(t, body, `<a href="/static/">..</a>`)
}

func TestServeRequest_NotFound(t *testing.T) {
	h := newHandler(setupRoot(t))

	assert.Equal(t, 404, serve(t, h, "/static/missing.txt").StatusCode)
	assert.Equal(t, 404, serve(t, h, "/static/nope/deeper.txt").StatusCode)
	assert.Equal(t, 404, serve(t, h, "/elsewhere").StatusCode)
	assert.Equal(t, 404, serve(t, h, "/staticfoo").StatusCode)
}

func TestServeRequest_TraversalStaysInRoot(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, "www")
	require.NoError(t, os.Mkdir(root, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(parent, "secret.txt"), []byte("secret"), 0o644))

	resp := serve(t, newHandler(root), "/static/../secret.txt")
	assert.Equal(t, 404, resp.StatusCode)
	assert.NotContains(t, string(resp.Body), "secret\n")

	resp = serve(t, newHandler(root), "/static/%2e%2e/secret.txt")
	assert.Equal(t, 404, resp.StatusCode)
}

func TestServeRequest_SymlinkEscapeForbidden(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, "www")
	require.NoError(t, os.Mkdir(root, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(parent, "secret.txt"), []byte("secret"), 0o644))
	require.NoError(t, os.Symlink(filepath.Join(parent, "secret.txt"), filepath.Join(root, "link.txt")))

	resp := serve(t, newHandler(root), "/static/link.txt")
	assert.Equal(t, 403, resp.StatusCode)
}

func TestServeRequest_BadEscape(t *testing.T) {
	resp := serve(t, newHandler(setupRoot(t)), "/static/%zz")
	assert.Equal(t, 400, resp.StatusCode)
}

func TestErrorResponse_EscapesDetail(t *testing.T) {
	resp := ErrorResponse(404, "Not Found", "No resource at /<b>.")
	assert.Equal(t, 404, resp.StatusCode)
	assert.Contains(t, string(resp.Body), "/&lt;b&gt;")
}
