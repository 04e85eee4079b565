package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hazyhaar/vitrine/domwatch/internal/pagewatch"
	"github.com/hazyhaar/vitrine/domwatch/mutation"
)

const listing = `<html><body><ul>
<li class="offer" data-id="1">Lamp</li>
<li class="offer" data-id="2">Desk</li>
<li class="sold">Chair</li>
</ul></body></html>`

func TestFetch_EvaluatesExistsRules(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"v1"`)
		w.Write([]byte(listing))
	}))
	defer srv.Close()

	res, err := New().Fetch(context.Background(), Request{
		PageID: "market",
		URL:    srv.URL,
		Rules: []pagewatch.Rule{
			{Name: "offers", Kind: "exists", Selector: "li.offer"},
			{Name: "sold", Kind: "created", Selector: "li.sold"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.ETag != `"v1"` || res.StatusCode != http.StatusOK {
		t.Errorf("result: etag=%s status=%d", res.ETag, res.StatusCode)
	}
	evs := res.Batch.Events
	if len(evs) != 2 {
		t.Fatalf("events: got %d, want 2", len(evs))
	}
	if evs[0].Kind != mutation.KindExists || evs[0].Rule != "offers" || evs[1].Attrs["data-id"] != "2" {
		t.Errorf("events: %+v", evs)
	}
	if evs[0].XPath != "/html/body/ul/li[1]" {
		t.Errorf("xpath: %s", evs[0].XPath)
	}
	if res.Batch.SnapshotRef != res.Snapshot.ID || res.Snapshot.HTMLHash != mutation.HashHTML([]byte(listing)) {
		t.Error("snapshot not linked to batch")
	}
}

func TestFetch_NotModified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Write([]byte(listing))
	}))
	defer srv.Close()

	res, err := New().Fetch(context.Background(), Request{PageID: "market", URL: srv.URL, ETag: `"v1"`})
	if err != nil {
		t.Fatal(err)
	}
	if !res.NotModified || res.Batch.ID != "" {
		t.Errorf("result: %+v", res)
	}
}

func TestFetch_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	if _, err := New().Fetch(context.Background(), Request{URL: srv.URL}); err == nil {
		t.Fatal("want error for 404")
	}
}

func TestScan_InvalidSelector(t *testing.T) {
	_, err := New().Scan([]byte(listing), []pagewatch.Rule{{Name: "bad", Kind: "exists", Selector: "li[["}})
	if err == nil {
		t.Fatal("want error")
	}
}
