package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/defeatedperson/ykc/internal/middleware"
	"github.com/defeatedperson/ykc/internal/services"
	"github.com/defeatedperson/ykc/pkg/response"
	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type memBans struct {
	mu     sync.Mutex
	banned map[string]bool
}

func (b *memBans) Ban(ip, reason string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.banned[ip] = true
	return nil
}

func (b *memBans) IsBanned(ip string) (services.BanStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return services.BanStatus{Banned: b.banned[ip]}, nil
}

func performJSON(r *gin.Engine, method, path string, body interface{}, remoteIP string) *httptest.ResponseRecorder {
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	if remoteIP != "" {
		req.RemoteAddr = remoteIP + ":5000"
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) response.Response {
	t.Helper()
	var resp response.Response
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response body %q: %v", w.Body.String(), err)
	}
	return resp
}

func newTempTokenRouter(t *testing.T, limit int) (*gin.Engine, *memBans) {
	t.Helper()
	bans := &memBans{banned: map[string]bool{}}
	ledger := services.NewIPLedger(filepath.Join(t.TempDir(), "temp-jwt.json"), 10*time.Minute, limit, bans)
	h := NewTempTokenHandler(services.NewTempTokenService(ledger, bans, "handler-test"))

	r := gin.New()
	r.POST("/temp-token", func(c *gin.Context) {
		// stands in for OptionalAuth
		if c.GetHeader("Authorization") == "Bearer alice" {
			c.Set(middleware.ContextUserID, uint(2))
			c.Set(middleware.ContextUsername, "alice")
		}
		c.Next()
	}, h.Issue)
	r.POST("/temp-token/validate", h.Validate)
	return r, bans
}

func TestTempTokenHandler_IssueAndValidate(t *testing.T) {
	r, _ := newTempTokenRouter(t, 20)

	w := performJSON(r, http.MethodPost, "/temp-token", gin.H{"scene": "robots"}, "192.0.2.10")
	if w.Code != http.StatusOK {
		t.Fatalf("issue status = %d, body %s", w.Code, w.Body.String())
	}
	var issued struct {
		Data struct {
			Token     string `json:"token"`
			Scene     string `json:"scene"`
			ExpiresIn int    `json:"expires_in"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &issued); err != nil {
		t.Fatal(err)
	}
	if issued.Data.Scene != "robots" || issued.Data.ExpiresIn != 300 {
		t.Errorf("unexpected issue payload %+v", issued.Data)
	}

	w = performJSON(r, http.MethodPost, "/temp-token/validate", gin.H{"token": issued.Data.Token}, "192.0.2.10")
	if w.Code != http.StatusOK {
		t.Fatalf("validate status = %d, body %s", w.Code, w.Body.String())
	}
	if !bytes.Contains(w.Body.Bytes(), []byte(`"scene":"robots"`)) {
		t.Errorf("validate body lacks scene: %s", w.Body.String())
	}
}

func TestTempTokenHandler_AccountSceneNeedsSession(t *testing.T) {
	r, _ := newTempTokenRouter(t, 20)

	w := performJSON(r, http.MethodPost, "/temp-token", gin.H{"scene": "account"}, "192.0.2.11")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	if reason := decodeResponse(t, w).Reason; reason != "unauthorized" {
		t.Errorf("reason = %q, want unauthorized", reason)
	}

	req := httptest.NewRequest(http.MethodPost, "/temp-token", bytes.NewBufferString(`{"scene":"account"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer alice")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("session issue status = %d, body %s", w.Code, w.Body.String())
	}
}

func TestTempTokenHandler_RejectionsLookAlike(t *testing.T) {
	r, bans := newTempTokenRouter(t, 20)
	bans.Ban("192.0.2.99", "test")

	var bodies []string
	cases := []struct {
		path string
		body gin.H
		ip   string
	}{
		{"/temp-token/validate", gin.H{"token": "not-a-jwt"}, "192.0.2.12"},
		{"/temp-token/validate", gin.H{"token": "e30.e30.c2ln"}, "192.0.2.12"},
		{"/temp-token", gin.H{"scene": "unknown"}, "192.0.2.12"},
		{"/temp-token", gin.H{"scene": "robots"}, "192.0.2.99"},
	}
	for _, tc := range cases {
		w := performJSON(r, http.MethodPost, tc.path, tc.body, tc.ip)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s %v: status = %d, want 401", tc.path, tc.body, w.Code)
		}
		bodies = append(bodies, w.Body.String())
	}
	for i := 1; i < len(bodies); i++ {
		if bodies[i] != bodies[0] {
			t.Errorf("rejection %d differs: %s vs %s", i, bodies[i], bodies[0])
		}
	}
}

func TestTempTokenHandler_LimitBansCaller(t *testing.T) {
	r, bans := newTempTokenRouter(t, 3)

	for i := 0; i < 3; i++ {
		w := performJSON(r, http.MethodPost, "/temp-token", gin.H{"scene": "robots"}, "192.0.2.13")
		if w.Code != http.StatusOK {
			t.Fatalf("attempt %d: status = %d", i+1, w.Code)
		}
	}
	w := performJSON(r, http.MethodPost, "/temp-token", gin.H{"scene": "robots"}, "192.0.2.13")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("over limit status = %d, want 401", w.Code)
	}
	if status, _ := bans.IsBanned("192.0.2.13"); !status.Banned {
		t.Error("caller over the limit should be banned")
	}
}

func TestForceDownload(t *testing.T) {
	tests := []struct {
		query string
		def   bool
		want  bool
	}{
		{"", true, true},
		{"", false, false},
		{"?force_download=false", true, false},
		{"?force_download=0", true, false},
		{"?force_download=1", false, true},
		{"?force_download=maybe", true, true},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/x"+tt.query, nil)
		if got := forceDownload(c, tt.def); got != tt.want {
			t.Errorf("forceDownload(%q, %v) = %v, want %v", tt.query, tt.def, got, tt.want)
		}
	}
}

func TestPathID(t *testing.T) {
	r := gin.New()
	r.GET("/items/:id", func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": id})
	})

	for _, raw := range []string{"0", "-1", "abc", "1.5"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/items/"+raw, nil))
		if w.Code != http.StatusBadRequest {
			t.Errorf("id %q: status = %d, want 400", raw, w.Code)
		}
		if reason := decodeResponse(t, w).Reason; reason != "invalid_parameters" {
			t.Errorf("id %q: reason = %q", raw, reason)
		}
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/items/42", nil))
	if w.Code != http.StatusOK || !bytes.Contains(w.Body.Bytes(), []byte(`"id":42`)) {
		t.Errorf("valid id: status = %d, body %s", w.Code, w.Body.String())
	}
}

func TestDownloadHandler_OwnFileRequiresPath(t *testing.T) {
	h := NewDownloadHandler(nil, nil)
	r := gin.New()
	r.GET("/files/download", h.OwnFile)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/files/download", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestDownloadHandler_ServeErrorDropsFileHeaders(t *testing.T) {
	h := NewDownloadHandler(nil, nil)
	r := gin.New()
	r.GET("/x", func(c *gin.Context) {
		// left over from an earlier attempt on the same response
		c.Writer.Header().Set("Content-Disposition", `attachment; filename="a.txt"`)
		c.Writer.Header().Set("Accept-Ranges", "bytes")
		c.Writer.Header().Set("Cache-Control", "no-cache, must-revalidate")
		h.serve(c, filepath.Join(t.TempDir(), "missing.txt"), "missing.txt", true)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	for _, key := range []string{"Content-Disposition", "Accept-Ranges", "Cache-Control"} {
		if got := w.Header().Get(key); got != "" {
			t.Errorf("%s = %q on an error response", key, got)
		}
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Errorf("Content-Type = %q", ct)
	}
	if reason := decodeResponse(t, w).Reason; reason != "file_error" {
		t.Errorf("reason = %q, want file_error", reason)
	}
}
