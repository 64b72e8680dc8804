package cache

import (
	"sort"
	"testing"
	"time"
)

func openMem(t *testing.T) *Store {
	t.Helper()
	s, err := Open(InMemoryConfig())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

type modemList struct {
	CMTS   string   `json:"cmts_ip"`
	Modems []string `json:"modems"`
}

func TestSetGetJSON(t *testing.T) {
	t.Parallel()

	s := openMem(t)
	in := modemList{CMTS: "10.1.1.1", Modems: []string{"aa:bb:cc:dd:ee:ff"}}
	if err := s.SetJSON("cmts_modems:10.1.1.1", in, time.Minute); err != nil {
		t.Fatalf("SetJSON: %v", err)
	}

	var out modemList
	found, err := s.GetJSON("cmts_modems:10.1.1.1", &out)
	if err != nil || !found {
		t.Fatalf("GetJSON found=%v err=%v", found, err)
	}
	if out.CMTS != in.CMTS || len(out.Modems) != 1 {
		t.Errorf("got %+v", out)
	}

	found, err = s.GetJSON("cmts_modems:missing", &out)
	if err != nil || found {
		t.Errorf("missing key: found=%v err=%v", found, err)
	}
}

func TestTTLExpiry(t *testing.T) {
	t.Parallel()

	s := openMem(t)
	if err := s.Set("short", []byte("x"), time.Second); err != nil {
		t.Fatal(err)
	}
	if err := s.Set("forever", []byte("y"), 0); err != nil {
		t.Fatal(err)
	}

	remaining, ok, err := s.TTL("short")
	if err != nil || !ok || remaining > 2*time.Second {
		t.Errorf("TTL short = %v ok=%v err=%v", remaining, ok, err)
	}
	if remaining, ok, _ := s.TTL("forever"); !ok || remaining != 0 {
		t.Errorf("TTL forever = %v ok=%v", remaining, ok)
	}

	time.Sleep(2100 * time.Millisecond)

	if _, found, _ := s.Get("short"); found {
		t.Error("short-lived key should have expired")
	}
	if _, found, _ := s.Get("forever"); !found {
		t.Error("key without TTL should remain")
	}
}

func TestDeleteAndPrefix(t *testing.T) {
	t.Parallel()

	s := openMem(t)
	for _, k := range []string{"cmts:a", "cmts:b", "modem:c"} {
		if err := s.Set(k, []byte(k), time.Minute); err != nil {
			t.Fatal(err)
		}
	}

	keys, err := s.Keys("cmts:")
	if err != nil {
		t.Fatal(err)
	}
	sort.Strings(keys)
	if len(keys) != 2 || keys[0] != "cmts:a" {
		t.Errorf("Keys = %v", keys)
	}

	if err := s.Delete("cmts:a"); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete("never-set"); err != nil {
		t.Errorf("deleting a missing key: %v", err)
	}
	if err := s.DeletePrefix("cmts:"); err != nil {
		t.Fatal(err)
	}
	if keys, _ := s.Keys("cmts:"); len(keys) != 0 {
		t.Errorf("expected no cmts keys, got %v", keys)
	}
	if _, found, _ := s.Get("modem:c"); !found {
		t.Error("unrelated prefix must survive")
	}
}

func TestPersistentStoreReopens(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	s, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Set("k", []byte("v"), time.Hour); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s, err = Open(cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	if v, found, _ := s.Get("k"); !found || string(v) != "v" {
		t.Errorf("after reopen got %q found=%v", v, found)
	}
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	if _, err := Open(Config{}); err == nil {
		t.Fatal("expected error without path")
	}
}
