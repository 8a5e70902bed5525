package objectstore

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/vietddude/noteably/internal/core/apperr"
)

func TestObjectKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"lecture.mp3", "lecture.mp3"},
		{"../../etc/passwd", "passwd"},
		{`C:\Users\me\talk.wav`, "talk.wav"},
		{"", "upload"},
	}

	for _, tt := range tests {
		key := ObjectKey(tt.in)
		prefix, name, ok := strings.Cut(key, "/")
		if !ok || len(prefix) != 36 {
			t.Errorf("ObjectKey(%q) = %q, want <uuid>/name", tt.in, key)
			continue
		}
		if name != tt.want {
			t.Errorf("ObjectKey(%q) name = %q, want %q", tt.in, name, tt.want)
		}
	}

	if ObjectKey("a.mp3") == ObjectKey("a.mp3") {
		t.Error("expected unique keys")
	}
}

type fakeS3 struct {
	mu     sync.Mutex
	method string
	path   string
	ctype  string
	status int
}

func (f *fakeS3) handler(w http.ResponseWriter, r *http.Request) {
	_, _ = io.Copy(io.Discard, r.Body)
	f.mu.Lock()
	f.method = r.Method
	f.path = r.URL.Path
	f.ctype = r.Header.Get("Content-Type")
	status := f.status
	f.mu.Unlock()

	if status != 0 {
		w.WriteHeader(status)
		return
	}
	if r.Method == http.MethodDelete {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
	w.WriteHeader(http.StatusOK)
}

func newTestStore(t *testing.T, f *fakeS3, publicURL string) *Store {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(f.handler))
	t.Cleanup(server.Close)

	s, err := New(Config{
		Endpoint:  strings.TrimPrefix(server.URL, "http://"),
		AccessKey: "access",
		SecretKey: "secret",
		Bucket:    "media",
		Region:    "us-east-1",
		PublicURL: publicURL,
	})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func TestUpload_PublicURL(t *testing.T) {
	f := &fakeS3{}
	s := newTestStore(t, f, "https://cdn.example.com/")

	key, u, err := s.Upload(context.Background(), "lecture.mp3", "audio/mpeg", strings.NewReader("audio"), 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.method != http.MethodPut {
		t.Errorf("expected PUT, got %s", f.method)
	}
	if !strings.HasPrefix(f.path, "/media/") || !strings.HasSuffix(f.path, "/lecture.mp3") {
		t.Errorf("unexpected object path %s", f.path)
	}
	if f.ctype != "audio/mpeg" {
		t.Errorf("unexpected content-type %q", f.ctype)
	}
	if f.path != "/media/"+key {
		t.Errorf("object path %s does not match key %s", f.path, key)
	}
	if u != "https://cdn.example.com/"+key {
		t.Errorf("unexpected url %s", u)
	}
}

func TestUpload_Failure(t *testing.T) {
	f := &fakeS3{status: http.StatusForbidden}
	s := newTestStore(t, f, "https://cdn.example.com")

	_, _, err := s.Upload(context.Background(), "a.mp3", "audio/mpeg", strings.NewReader("x"), 1)
	if !apperr.IsKind(err, apperr.KindUpload) {
		t.Errorf("expected upload error, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	f := &fakeS3{}
	s := newTestStore(t, f, "")

	if err := s.Delete(context.Background(), "abc/lecture.mp3"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.method != http.MethodDelete || f.path != "/media/abc/lecture.mp3" {
		t.Errorf("unexpected request %s %s", f.method, f.path)
	}
}

func TestDelete_Failure(t *testing.T) {
	s := newTestStore(t, &fakeS3{status: http.StatusForbidden}, "")

	if err := s.Delete(context.Background(), "abc/lecture.mp3"); !apperr.IsKind(err, apperr.KindUpload) {
		t.Errorf("expected upload error, got %v", err)
	}
}

func TestURL_Presigned(t *testing.T) {
	s := newTestStore(t, &fakeS3{}, "")

	u, err := s.URL(context.Background(), "abc/lecture.mp3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(u, "/media/abc/lecture.mp3") || !strings.Contains(u, "X-Amz-Signature=") {
		t.Errorf("unexpected presigned url %s", u)
	}
}

func TestNew_RequiresBucket(t *testing.T) {
	if _, err := New(Config{Endpoint: "localhost:9000"}); err == nil {
		t.Error("expected error without bucket")
	}
}
