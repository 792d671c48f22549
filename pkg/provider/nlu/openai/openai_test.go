package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/figuro/voice/pkg/provider/nlu"
	"github.com/figuro/voice/pkg/types"
)

func TestParseClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		content      string
		wantIntent   string
		wantEntities int
		wantErr      bool
	}{
		{
			name:         "plain",
			content:      `{"intent":"greeting","entities":[],"confidence":0.9,"response_text":"Chào"}`,
			wantIntent:   "greeting",
			wantEntities: 0,
		},
		{
			name:         "fenced",
			content:      "```json\n{\"intent\":\"create_order\",\"entities\":[{\"type\":\"product\",\"value\":\"Goku\",\"confidence\":2}]}\n```",
			wantIntent:   "create_order",
			wantEntities: 1,
		},
		{
			name: "drops unknown and empty entities",
			content: `{"intent":"get_product_info","entities":[
				{"type":"brand","value":"Bandai"},
				{"type":"product","value":"  "},
				{"type":"product","value":"Luffy"},
				{"type":"color","value":"đỏ"}]}`,
			wantIntent:   "get_product_info",
			wantEntities: 2,
		},
		{
			name:    "not json",
			content: "I think it's a greeting",
			wantErr: true,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			c, err := parseClassification(tc.content)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if c.Intent != tc.wantIntent || len(c.Entities) != tc.wantEntities {
				t.Errorf("got %+v", c)
			}
			for _, e := range c.Entities {
				if e.Confidence < 0 || e.Confidence > 1 {
					t.Errorf("entity confidence %v out of range", e.Confidence)
				}
			}
		})
	}
}

func TestSystemPrompt_ListsIntents(t *testing.T) {
	t.Parallel()

	p := systemPrompt(types.LangEnglish)
	for _, in := range types.Intents() {
		if !strings.Contains(p, string(in)) {
			t.Errorf("prompt does not mention %q", in)
		}
	}
	if !strings.Contains(p, "en-US") {
		t.Error("prompt does not mention the reply language")
	}
}

func TestProcess(t *testing.T) {
	t.Parallel()

	var reqBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&reqBody)
		content := `{"intent":"dance","entities":[],"confidence":0.95,"response_text":"?"}`
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"id":"c1","object":"chat.completion","created":1,"model":"gpt-4o-mini",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":%q}}]}`, content)
	}))
	t.Cleanup(srv.Close)

	p, err := New("sk-test", "", WithBaseURL(srv.URL+"/"), WithMaxRetries(0))
	if err != nil {
		t.Fatal(err)
	}
	res, err := p.Process(context.Background(), nlu.Request{Text: "nhảy đi"})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Intent != types.IntentUnknown {
		t.Errorf("intent = %q, want unknown for an out-of-set answer", res.Intent)
	}
	if res.Transcript != "nhảy đi" || res.Tier != types.TierRemote {
		t.Errorf("result = %+v", res)
	}
	rf, _ := reqBody["response_format"].(map[string]any)
	if rf["type"] != "json_object" {
		t.Errorf("response_format = %v, want json_object", reqBody["response_format"])
	}
	if reqBody["model"] != DefaultModel {
		t.Errorf("model = %v, want %s", reqBody["model"], DefaultModel)
	}
}

func TestNew_MissingAPIKey(t *testing.T) {
	t.Parallel()
	if _, err := New("", ""); err == nil {
		t.Fatal("expected error for empty API key")
	}
}
