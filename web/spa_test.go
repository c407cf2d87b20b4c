package web

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"testing/fstest"
)

func TestSPAHandler(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"index.html":    {Data: []byte("<html>mirror</html>")},
		"assets/app.js": {Data: []byte("console.log('mirror')")},
	}
	h := SPAHandler(fsys)

	cases := map[string]string{
		"/":              "<html>mirror</html>",
		"/assets/app.js": "console.log('mirror')",
		"/sessions/abc":  "<html>mirror</html>",
		"/assets":        "<html>mirror</html>",
	}
	for path, want := range cases {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		body, _ := io.ReadAll(w.Result().Body)
		if w.Code != http.StatusOK || string(body) != want {
			t.Errorf("GET %s: got %d %q, want %q", path, w.Code, body, want)
		}
	}
}
