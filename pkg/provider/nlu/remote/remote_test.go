package remote_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/figuro/voice/pkg/provider/nlu"
	"github.com/figuro/voice/pkg/provider/nlu/remote"
	"github.com/figuro/voice/pkg/types"
)

func TestProcess(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/voice/process-text" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer k" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"transcript": "xin chào",
			"intent": "greeting",
			"entities": [{"type":"product","value":"Naruto","confidence":0.7}],
			"confidence": 0.93,
			"response_text": "Chào bạn",
			"audio_url": "/static/a.mp3",
			"processing_time_ms": 42
		}`))
	}))
	t.Cleanup(srv.Close)

	p, err := remote.New(srv.URL+"/api/", remote.WithAPIKey("k"))
	if err != nil {
		t.Fatal(err)
	}
	res, err := p.Process(context.Background(), nlu.Request{Text: "xin chào", EnableTTS: true})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	if got["text"] != "xin chào" || got["language"] != "vi-VN" || got["enable_tts"] != true {
		t.Errorf("request body = %v", got)
	}
	if res.Intent != types.IntentGreeting || res.Confidence != 0.93 || res.AudioURL != "/static/a.mp3" {
		t.Errorf("result = %+v", res)
	}
	if len(res.Entities) != 1 || res.Entities[0].Value != "Naruto" {
		t.Errorf("entities = %+v", res.Entities)
	}
	if res.Tier != types.TierRemote {
		t.Errorf("tier = %q, want remote", res.Tier)
	}
}

func TestProcess_AnySuccessStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		status   int
		body     string
		wantRecs []string
	}{
		{
			name:     "created with product objects",
			status:   http.StatusCreated,
			body:     `{"intent":"get_product_info","confidence":0.8,"response_text":"Có","product_recommendations":[{"name":"Luffy","price":1}]}`,
			wantRecs: []string{"Luffy"},
		},
		{name: "no content", status: http.StatusNoContent},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			t.Cleanup(srv.Close)

			p, err := remote.New(srv.URL)
			if err != nil {
				t.Fatal(err)
			}
			res, err := p.Process(context.Background(), nlu.Request{Text: "Luffy"})
			if err != nil {
				t.Fatalf("Process: %v", err)
			}
			if len(res.ProductRecommendations) != len(tc.wantRecs) {
				t.Fatalf("recommendations = %q, want %q", res.ProductRecommendations, tc.wantRecs)
			}
			for i, want := range tc.wantRecs {
				if res.ProductRecommendations[i] != want {
					t.Errorf("recommendations[%d] = %q, want %q", i, res.ProductRecommendations[i], want)
				}
			}
		})
	}
}

func TestProcess_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"status", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusBadGateway) }},
		{"bad json", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("{not json")) }},
		{"slow", func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-time.After(2 * time.Second):
			case <-r.Context().Done():
			}
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(tc.handler)
			t.Cleanup(srv.Close)

			p, _ := remote.New(srv.URL, remote.WithTimeout(200*time.Millisecond))
			if _, err := p.Process(context.Background(), nlu.Request{Text: "x"}); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestSupportedLanguages(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"languages":[{"code":"en-US","name":"English"}]}`))
	}))
	t.Cleanup(srv.Close)

	p, _ := remote.New(srv.URL)
	langs := p.SupportedLanguages(context.Background())
	if len(langs) != 1 || langs[0].Code != types.LangEnglish {
		t.Errorf("SupportedLanguages = %+v", langs)
	}

	down, _ := remote.New("http://127.0.0.1:1")
	if got := down.SupportedLanguages(context.Background()); len(got) != len(types.DefaultLanguages) {
		t.Errorf("fallback languages = %+v, want defaults", got)
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/voice/health" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	}))
	t.Cleanup(srv.Close)

	p, _ := remote.New(srv.URL)
	h, err := p.Health(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if h.Status != "healthy" || h.Version != "1.0.0" {
		t.Errorf("Health = %+v", h)
	}
}

func TestNew_RequiresBaseURL(t *testing.T) {
	t.Parallel()
	if _, err := remote.New(""); err == nil {
		t.Error("expected error for empty base URL")
	}
}
