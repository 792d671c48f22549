package httpclient_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/figuro/voice/internal/contextapi"
	"github.com/figuro/voice/internal/contextstore"
	"github.com/figuro/voice/internal/contextstore/httpclient"
	"github.com/figuro/voice/internal/contextstore/memstore"
	"github.com/figuro/voice/internal/contextstore/storetest"
)

func TestClient_AgainstAPI(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	contextapi.New(memstore.New(), contextapi.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c, err := httpclient.New(srv.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	storetest.Run(t, func(*testing.T) contextstore.Store { return c })
}

func TestClient_ServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"success":false,"message":"Lỗi khi lấy thông tin voice insights"}`))
	}))
	t.Cleanup(srv.Close)

	c, _ := httpclient.New(srv.URL)
	_, err := c.Insights(context.Background(), "u")
	if err == nil || !strings.Contains(err.Error(), "status 500") || !strings.Contains(err.Error(), "voice insights") {
		t.Fatalf("err = %v", err)
	}
	if errors.Is(err, contextstore.ErrNotFound) {
		t.Error("500 must not map to ErrNotFound")
	}
}

func TestNew_EmptyBaseURL(t *testing.T) {
	t.Parallel()
	if _, err := httpclient.New(""); err == nil {
		t.Fatal("expected error")
	}
}
