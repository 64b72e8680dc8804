package inventory

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/svdleer/PyPNMGui/common/cache"
)

const appdbBody = `{"status":200,"count":3,"data":[
	{"HostName":"ams-cmts-01","IPAddress":"10.1.0.1","Vendor":"Arris","Type":"E6000","Alias":"Amsterdam Noord"},
	{"HostName":"RTD-CMTS-02","IPAddress":"10.2.0.1","Vendor":"Casa","Type":"C100G","Alias":"Rotterdam"},
	{"HostName":"utr-cmts-03","IPAddress":"10.3.0.1","Vendor":"arris","Type":"","Alias":""}
]}`

func newStore(t *testing.T) *cache.Store {
	t.Helper()
	s, err := cache.Open(cache.InMemoryConfig())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func appdbServer(t *testing.T, body string, hits *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		user, pass, ok := r.BasicAuth()
		if !ok || user != "isw" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Path != "/isw/api/search" || r.URL.Query().Get("type") != "hostname" || r.URL.Query().Get("q") != "*" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchAndCache(t *testing.T) {
	t.Parallel()

	var hits int32
	srv := appdbServer(t, appdbBody, &hits)
	p, err := New(Options{APIURL: srv.URL + "/isw/api/", User: "isw", Password: "secret", Cache: newStore(t)})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	list, err := p.All(ctx, false)
	if err != nil || len(list) != 3 {
		t.Fatalf("All = %d %v", len(list), err)
	}
	if p.Count(ctx) != 3 || atomic.LoadInt32(&hits) != 1 {
		t.Errorf("second read should be cached, hits = %d", hits)
	}
	if _, err := p.All(ctx, true); err != nil || atomic.LoadInt32(&hits) != 2 {
		t.Errorf("force refresh: hits=%d err=%v", hits, err)
	}

	info := p.CacheInfo()
	if !info.Cached || info.CachedCount != 3 || info.CacheTTLSeconds != 300 || info.CacheExpiresIn == nil || info.CacheAgeSeconds == nil {
		t.Errorf("CacheInfo = %+v", info)
	}

	if err := p.ClearCache(); err != nil {
		t.Fatal(err)
	}
	if p.CacheInfo().Cached {
		t.Error("cache should be empty after clear")
	}
}

func TestQueries(t *testing.T) {
	t.Parallel()

	var hits int32
	srv := appdbServer(t, appdbBody, &hits)
	p, _ := New(Options{APIURL: srv.URL + "/isw/api", User: "isw", Password: "secret", Cache: newStore(t)})
	ctx := context.Background()

	if got := p.ByVendor(ctx, "ARRIS"); len(got) != 2 {
		t.Errorf("ByVendor = %v", got)
	}
	if got := p.ByType(ctx, "c100g"); len(got) != 1 || got[0].HostName != "RTD-CMTS-02" {
		t.Errorf("ByType = %v", got)
	}
	if c, ok := p.ByHostname(ctx, "rtd-cmts-02"); !ok || c.IPAddress != "10.2.0.1" {
		t.Errorf("ByHostname = %v %v", c, ok)
	}
	if _, ok := p.ByHostname(ctx, "missing"); ok {
		t.Error("unexpected match")
	}
	if c, ok := p.ByIP(ctx, "10.3.0.1"); !ok || c.HostName != "utr-cmts-03" {
		t.Errorf("ByIP = %v", c)
	}
	if got := p.Search(ctx, "noord"); len(got) != 1 {
		t.Errorf("Search alias = %v", got)
	}
	if got := p.Search(ctx, "10.2."); len(got) != 1 {
		t.Errorf("Search ip = %v", got)
	}
	vs := p.VendorSummary(ctx)
	if vs["Arris"] != 1 || vs["arris"] != 1 || vs["Casa"] != 1 {
		t.Errorf("VendorSummary = %v", vs)
	}
	if ts := p.TypeSummary(ctx); ts["Unknown"] != 1 || ts["E6000"] != 1 {
		t.Errorf("TypeSummary = %v", ts)
	}
	if atomic.LoadInt32(&hits) != 1 {
		t.Errorf("queries should share the cached list, hits = %d", hits)
	}
}

func TestFailuresAreNotCached(t *testing.T) {
	t.Parallel()

	var hits int32
	srv := appdbServer(t, `{"status":500,"count":0,"data":[]}`, &hits)
	p, _ := New(Options{APIURL: srv.URL + "/isw/api", User: "isw", Password: "secret", Cache: newStore(t)})
	ctx := context.Background()

	list, err := p.All(ctx, false)
	if err == nil || len(list) != 0 || list == nil {
		t.Fatalf("All = %v %v", list, err)
	}
	p.All(ctx, false)
	if atomic.LoadInt32(&hits) != 2 {
		t.Errorf("failed responses must not be cached, hits = %d", hits)
	}

	bad, _ := New(Options{APIURL: srv.URL + "/isw/api", User: "isw", Password: "wrong", Cache: newStore(t)})
	if _, err := bad.All(ctx, false); err == nil {
		t.Error("expected auth failure")
	}
}

func TestLabMode(t *testing.T) {
	t.Parallel()

	p, _ := New(Options{LabMode: true, Cache: newStore(t), LabSystems: []LabSystem{
		{Name: "lab-e6000", IP: "172.16.6.1", Vendor: "Arris", Type: "E6000", Location: "Lab rack 2"},
		{Name: "lab-casa", IP: "172.16.6.2"},
	}})
	list, err := p.All(context.Background(), true)
	if err != nil || len(list) != 2 {
		t.Fatalf("All = %v %v", list, err)
	}
	if list[0].Alias != "Lab rack 2" || list[1].Vendor != "Casa" || list[1].Type != "CCAP" || list[1].SNMPCommunity != "oss1nf0" {
		t.Errorf("lab list = %+v", list)
	}
	if !p.LabMode() {
		t.Error("LabMode should be true")
	}
}

func TestNewRequiresCache(t *testing.T) {
	t.Parallel()

	if _, err := New(Options{}); err != ErrNoCache {
		t.Errorf("err = %v", err)
	}
}
