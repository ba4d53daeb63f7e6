package translate_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"stay_chat/internal/adapters/translate"
)

func TestClient_Translate_Success(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/translate" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var in struct {
			Text       string `json:"text"`
			SourceLang string `json:"sourceLang"`
			TargetLang string `json:"targetLang"`
		}
		_ = json.NewDecoder(r.Body).Decode(&in)
		if in.SourceLang != "es-ES" || in.TargetLang != "en-US" {
			t.Errorf("unexpected langs: %+v", in)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"translated":   "Hello",
			"provider":     "acme",
			"confidence":   0.97,
			"detectedLang": "es-ES",
		})
	}))
	defer ts.Close()

	cl, err := translate.New(ts.URL, "test-key", 100)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	got, err := cl.Translate(context.Background(), "Hola", "es-ES", "en-US")
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if got.Translated != "Hello" || got.Provider != "acme" || got.DetectedLang != "es-ES" {
		t.Fatalf("unexpected translation: %+v", got)
	}
}

func TestClient_Translate_SingleRetryThenSuccess(t *testing.T) {
	var hits int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(503)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"translated": "ok", "provider": "acme"})
	}))
	defer ts.Close()

	cl, _ := translate.New(ts.URL, "test-key", 100)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got, err := cl.Translate(ctx, "hola", "es-ES", "en-US")
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if got.Translated != "ok" {
		t.Fatalf("unexpected translation: %+v", got)
	}
	if n := atomic.LoadInt32(&hits); n != 2 {
		t.Fatalf("expected exactly 2 calls, got %d", n)
	}
}

func TestClient_Translate_ExhaustsAfterOneRetry(t *testing.T) {
	var hits int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(500)
	}))
	defer ts.Close()

	cl, _ := translate.New(ts.URL, "test-key", 100)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := cl.Translate(ctx, "hola", "es-ES", "en-US"); err == nil {
		t.Fatalf("expected error after retry exhaustion")
	}
	if n := atomic.LoadInt32(&hits); n != 2 {
		t.Fatalf("expected exactly 2 calls (one retry), got %d", n)
	}
}

func TestClient_Translate_NonSuccessIsError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(400)
		_, _ = w.Write([]byte(`{"error":"unsupported language pair"}`))
	}))
	defer ts.Close()

	cl, _ := translate.New(ts.URL, "test-key", 100)
	if _, err := cl.Translate(context.Background(), "hola", "es-ES", "xx-XX"); err == nil {
		t.Fatalf("expected error for 400")
	}
}

func TestNew_RequiresBaseURL(t *testing.T) {
	if _, err := translate.New("", "key", 5); err == nil {
		t.Fatalf("expected error for empty base URL")
	}
}
