package domwatch

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hazyhaar/vitrine/domwatch/mutation"
)

func apiServer(t *testing.T, cfg HTTPConfig) *httptest.Server {
	t.Helper()
	srv := shopServer(t)
	w, _ := startWatcher(t, staticConfig(srv.URL))
	api := httptest.NewServer(Handler(w, cfg))
	t.Cleanup(api.Close)
	return api
}

func do(t *testing.T, method, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out map[string]any
	json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestAPI_Health(t *testing.T) {
	api := apiServer(t, HTTPConfig{})
	resp, body := do(t, http.MethodGet, api.URL+"/healthz", "")
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("healthz: %d %v", resp.StatusCode, body)
	}
	if resp.Header.Get("X-Trace-ID") == "" {
		t.Error("missing X-Trace-ID")
	}
	if resp.Header.Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing security headers")
	}
}

func TestAPI_Pages(t *testing.T) {
	api := apiServer(t, HTTPConfig{})
	resp, err := http.Get(api.URL + "/pages")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var pages []PageInfo
	if err := json.NewDecoder(resp.Body).Decode(&pages); err != nil {
		t.Fatal(err)
	}
	if len(pages) != 1 || pages[0].ID != "shop" || pages[0].Mode != "static" {
		t.Errorf("pages: %+v", pages)
	}
}

func TestAPI_RuleLifecycle(t *testing.T) {
	api := apiServer(t, HTTPConfig{})
	rules := api.URL + "/pages/shop/rules"

	tests := []struct {
		name   string
		method string
		url    string
		body   string
		want   int
	}{
		{"add", http.MethodPost, rules, `{"name":"note","kind":"exists","selector":"p.note"}`, http.StatusCreated},
		{"duplicate", http.MethodPost, rules, `{"name":"note","kind":"exists","selector":"p"}`, http.StatusConflict},
		{"bad selector", http.MethodPost, rules, `{"name":"x","kind":"exists","selector":"p[["}`, http.StatusBadRequest},
		{"bad json", http.MethodPost, rules, `{"name":`, http.StatusBadRequest},
		{"unknown page", http.MethodPost, api.URL + "/pages/nope/rules", `{"name":"x","kind":"exists","selector":"p"}`, http.StatusNotFound},
		{"delete", http.MethodDelete, rules + "/note", "", http.StatusNoContent},
		{"delete again", http.MethodDelete, rules + "/note", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := do(t, tt.method, tt.url, tt.body)
			if resp.StatusCode != tt.want {
				t.Errorf("status: got %d, want %d (%v)", resp.StatusCode, tt.want, body)
			}
		})
	}

	resp, err := http.Get(rules)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var got []Rule
	json.NewDecoder(resp.Body).Decode(&got)
	if len(got) != 1 || got[0].Name != "items" {
		t.Errorf("rules after lifecycle: %+v", got)
	}
}

func TestAPI_BodyLimit(t *testing.T) {
	api := apiServer(t, HTTPConfig{MaxBody: 32})
	body := `{"name":"note","kind":"exists","selector":"` + strings.Repeat("p", 64) + `"}`
	resp, _ := do(t, http.MethodPost, api.URL+"/pages/shop/rules", body)
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Errorf("status: got %d, want 413", resp.StatusCode)
	}
}

func TestAPI_Query(t *testing.T) {
	api := apiServer(t, HTTPConfig{})
	resp, body := do(t, http.MethodGet, api.URL+"/pages/shop/query?selector=li.item", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %v", resp.StatusCode, body)
	}
	if body["count"] != float64(2) {
		t.Errorf("count: %v", body["count"])
	}

	resp, _ = do(t, http.MethodGet, api.URL+"/pages/shop/query?selector=", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty selector: %d", resp.StatusCode)
	}
}

func TestAPI_Batches(t *testing.T) {
	api := apiServer(t, HTTPConfig{})
	resp, _ := do(t, http.MethodGet, api.URL+"/pages/shop/batches", "")
	if resp.StatusCode != http.StatusNotImplemented {
		t.Errorf("no history: %d", resp.StatusCode)
	}
	resp, _ = do(t, http.MethodGet, api.URL+"/pages/shop/batches?limit=zero", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad limit: %d", resp.StatusCode)
	}
}

func TestAPI_RateLimit(t *testing.T) {
	api := apiServer(t, HTTPConfig{RateLimit: 2})
	url := api.URL + "/pages/shop/rules/none"
	for i, want := range []int{http.StatusNotFound, http.StatusNotFound, http.StatusTooManyRequests} {
		resp, _ := do(t, http.MethodDelete, url, "")
		if resp.StatusCode != want {
			t.Errorf("request %d: got %d, want %d", i, resp.StatusCode, want)
		}
	}
	resp, _ := do(t, http.MethodGet, api.URL+"/healthz", "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("reads must not be limited: %d", resp.StatusCode)
	}
}

func TestAPI_Stream(t *testing.T) {
	srv := shopServer(t)
	w, mem := startWatcher(t, staticConfig(srv.URL))
	waitBatches(t, mem, 1)
	api := httptest.NewServer(Handler(w, HTTPConfig{}))
	t.Cleanup(api.Close)

	wsURL := "ws" + strings.TrimPrefix(api.URL, "http") + "/pages/shop/stream"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v (%v)", err, resp)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for w.hub.Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no subscriber")
		}
		time.Sleep(10 * time.Millisecond)
	}
	w.router.Send(t.Context(), mutation.Batch{ID: "b-other", PageID: "other", Seq: 1})
	w.router.Send(t.Context(), mutation.Batch{ID: "b-shop", PageID: "shop", Seq: 7})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg struct {
		Type string         `json:"type"`
		Data mutation.Batch `json:"data"`
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatal(err)
	}
	if msg.Type != "batch" || msg.Data.ID != "b-shop" || msg.Data.Seq != 7 {
		t.Errorf("message: %+v", msg)
	}
}

func TestAPI_StreamUnknownPage(t *testing.T) {
	api := apiServer(t, HTTPConfig{})
	resp, _ := do(t, http.MethodGet, api.URL+"/pages/nope/stream", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status %d", resp.StatusCode)
	}
}
