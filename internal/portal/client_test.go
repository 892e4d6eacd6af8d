package portal

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

type portalStub struct {
	sessions atomic.Int32
	details  atomic.Int32
	cookie   atomic.Value
}

func newPortalServer(t *testing.T, stub *portalStub, detail http.HandlerFunc) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/home", func(w http.ResponseWriter, r *http.Request) {
		stub.sessions.Add(1)
		http.SetCookie(w, &http.Cookie{Name: "JSESSIONID", Value: "session-1", MaxAge: 1800})
		w.Write([]byte("<html></html>"))
	})
	mux.HandleFunc("/projectDetails", func(w http.ResponseWriter, r *http.Request) {
		stub.details.Add(1)
		if ck, err := r.Cookie("JSESSIONID"); err == nil {
			stub.cookie.Store(ck.Value)
		}
		detail(w, r)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(baseURL string) *Client {
	retry := DefaultRetryPolicy()
	retry.Sleep = func(context.Context, time.Duration) error { return nil }
	return NewClient(&ClientConfig{
		BaseURL:   baseURL,
		UserAgent: "rerasync-test",
		Timeout:   5 * time.Second,
		Retry:     retry,
	}, nil)
}

// truncateChunked starts a chunked body and drops the connection mid-stream.
func truncateChunked(w http.ResponseWriter, _ *http.Request) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		panic("response writer does not support hijacking")
	}
	conn, buf, err := hj.Hijack()
	if err != nil {
		panic(err)
	}
	buf.WriteString("HTTP/1.1 200 OK\r\nContent-Type: text/html\r\nTransfer-Encoding: chunked\r\n\r\n")
	buf.WriteString("40\r\n<html><body>partial")
	buf.Flush()
	conn.Close()
}

// truncateFixedLength promises more bytes than it sends on a plain body.
func truncateFixedLength(w http.ResponseWriter, _ *http.Request) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		panic("response writer does not support hijacking")
	}
	conn, buf, err := hj.Hijack()
	if err != nil {
		panic(err)
	}
	buf.WriteString("HTTP/1.1 200 OK\r\nContent-Type: text/html\r\nContent-Length: 500\r\n\r\n")
	buf.WriteString("<html><body>partial")
	buf.Flush()
	conn.Close()
}

func TestClient_PostAttachesSession(t *testing.T) {
	stub := &portalStub{}
	srv := newPortalServer(t, stub, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil || r.PostForm.Get("action") != "17" {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		w.Write([]byte("<html>ok</html>"))
	})

	c := newTestClient(srv.URL)
	body, err := c.Post(context.Background(), "projectDetails", map[string]string{"action": "17"})
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	if body != "<html>ok</html>" {
		t.Errorf("body = %q", body)
	}
	if got, _ := stub.cookie.Load().(string); got != "session-1" {
		t.Errorf("session cookie = %q, want session-1", got)
	}

	// A second call reuses the held session.
	if _, err := c.Post(context.Background(), "projectDetails", map[string]string{"action": "17"}); err != nil {
		t.Fatalf("Post: %v", err)
	}
	if n := stub.sessions.Load(); n != 1 {
		t.Errorf("session renewals = %d, want 1", n)
	}
}

func TestClient_TruncatedBodyIsNonExistent(t *testing.T) {
	stub := &portalStub{}
	srv := newPortalServer(t, stub, truncateChunked)

	c := newTestClient(srv.URL)
	_, err := c.Post(context.Background(), "projectDetails", map[string]string{"action": "99999"})
	if !IsNonExistent(err) {
		t.Fatalf("err = %v, want truncated transport error", err)
	}
	if n := stub.details.Load(); n != 3 {
		t.Errorf("detail requests = %d, want 3", n)
	}
}

func TestClient_StatusErrorNotRetried(t *testing.T) {
	stub := &portalStub{}
	srv := newPortalServer(t, stub, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	c := newTestClient(srv.URL)
	_, err := c.Post(context.Background(), "projectDetails", map[string]string{"action": "1"})

	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusInternalServerError {
		t.Fatalf("err = %v, want StatusError 500", err)
	}
	if IsNonExistent(err) {
		t.Error("status error must not be classified as non-existent")
	}
	if n := stub.details.Load(); n != 1 {
		t.Errorf("detail requests = %d, want 1", n)
	}
}

func TestClient_ShortFixedLengthBodyIsNotNonExistent(t *testing.T) {
	stub := &portalStub{}
	srv := newPortalServer(t, stub, truncateFixedLength)

	c := newTestClient(srv.URL)
	_, err := c.Post(context.Background(), "projectDetails", map[string]string{"action": "12"})
	if err == nil {
		t.Fatal("expected an error for a short body")
	}
	if IsNonExistent(err) {
		t.Fatalf("err = %v, short fixed-length body must stay a failure", err)
	}
	if !IsTransient(err) {
		t.Errorf("err = %v, want a retried transport error", err)
	}
	if n := stub.details.Load(); n != 3 {
		t.Errorf("detail requests = %d, want 3", n)
	}
}
