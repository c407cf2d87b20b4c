// Package identity provides anonymous per-device viewer identity.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"
)

const (
	ViewerCookieName   = "mirror_viewer_id"
	TabHeaderName      = "X-Mirror-Tab-ID"
	DefaultTabID       = "default"
	viewerCookieMaxAge = 30 * 24 * time.Hour
)

type contextKey int

const (
	viewerIDKey contextKey = iota
	tabIDKey
)

var (
	viewerIDPattern = regexp.MustCompile(`^viewer_[a-f0-9]{32}$`)
	tabIDPattern    = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)
)

// ViewerIDFromContext extracts the viewer ID from the request context.
func ViewerIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(viewerIDKey).(string); ok {
		return v
	}
	return ""
}

// TabIDFromContext extracts the browser tab ID from the request context.
func TabIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(tabIDKey).(string); ok {
		return v
	}
	return DefaultTabID
}

// WithViewer returns ctx carrying the given identity.
func WithViewer(ctx context.Context, viewerID, tabID string) context.Context {
	ctx = context.WithValue(ctx, viewerIDKey, viewerID)
	return context.WithValue(ctx, tabIDKey, sanitizeTabID(tabID))
}

func generateViewerID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate viewer id: %w", err)
	}
	return "viewer_" + hex.EncodeToString(buf), nil
}

func sanitizeTabID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || !tabIDPattern.MatchString(id) {
		return DefaultTabID
	}
	return id
}

func setViewerCookie(w http.ResponseWriter, id string, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     ViewerCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(viewerCookieMaxAge.Seconds()),
		Expires:  time.Now().Add(viewerCookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   secure,
	})
}

func getOrCreateViewerID(w http.ResponseWriter, r *http.Request, secure bool) (string, error) {
	if c, err := r.Cookie(ViewerCookieName); err == nil && viewerIDPattern.MatchString(c.Value) {
		setViewerCookie(w, c.Value, secure)
		return c.Value, nil
	}

	id, err := generateViewerID()
	if err != nil {
		return "", err
	}
	setViewerCookie(w, id, secure)
	return id, nil
}

func tabIDFromRequest(r *http.Request) string {
	tab := r.Header.Get(TabHeaderName)
	if tab == "" {
		tab = r.URL.Query().Get("tab_id")
	}
	return sanitizeTabID(tab)
}

// Middleware injects the per-device viewer id and the per-request tab id.
func Middleware(secure bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			viewerID, err := getOrCreateViewerID(w, r, secure)
			if err != nil {
				http.Error(w, `{"error":"failed to establish viewer identity"}`, http.StatusInternalServerError)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithViewer(r.Context(), viewerID, tabIDFromRequest(r))))
		})
	}
}

// IPFromRequest returns a normalized remote IP for request logging.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
