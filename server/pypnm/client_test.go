package pypnm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/svdleer/PyPNMGui/common/docsis"
)

type recorded struct {
	method string
	path   string
	body   map[string]interface{}
}

func newRecordingServer(t *testing.T, status int, reply string) (*httptest.Server, *[]recorded, *sync.Mutex) {
	t.Helper()
	var mu sync.Mutex
	var calls []recorded
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		rec := recorded{method: r.Method, path: r.URL.Path}
		if len(raw) > 0 {
			_ = json.Unmarshal(raw, &rec.body)
		}
		mu.Lock()
		calls = append(calls, rec)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls, &mu
}

func nested(m map[string]interface{}, keys ...string) interface{} {
	var cur interface{} = m
	for _, k := range keys {
		mm, ok := cur.(map[string]interface{})
		if !ok {
			return nil
		}
		cur = mm[k]
	}
	return cur
}

func TestCaptureEnvelope(t *testing.T) {
	t.Parallel()

	srv, calls, mu := newRecordingServer(t, http.StatusOK, `{"status":0,"data":[1,2]}`)
	c := NewClient(Options{BaseURL: srv.URL + "/", TFTPIPv4: "10.0.0.5"})

	res, err := c.RxMER(context.Background(), Modem{MAC: "aa:bb:cc:dd:ee:ff", IP: "10.1.1.2"}, Capture{OutputType: "archive"})
	if err != nil {
		t.Fatalf("RxMER: %v", err)
	}
	if st, ok := res.Status(); !ok || st != 0 {
		t.Errorf("status = %v %v", st, ok)
	}

	mu.Lock()
	defer mu.Unlock()
	got := (*calls)[0]
	if got.method != http.MethodPost || got.path != "/docs/pnm/ds/ofdm/rxMer/getCapture" {
		t.Errorf("request = %s %s", got.method, got.path)
	}
	if v := nested(got.body, "cable_modem", "snmp", "snmpV2C", "community"); v != "private" {
		t.Errorf("community = %v", v)
	}
	if v := nested(got.body, "cable_modem", "pnm_parameters", "tftp", "ipv4"); v != "10.0.0.5" {
		t.Errorf("tftp ipv4 = %v", v)
	}
	if v := nested(got.body, "cable_modem", "pnm_parameters", "output_type"); v != "archive" {
		t.Errorf("output_type = %v", v)
	}
}

func TestStatsRequestHasNoPNMParameters(t *testing.T) {
	t.Parallel()

	srv, calls, mu := newRecordingServer(t, http.StatusOK, `{"status":0,"results":[]}`)
	c := NewClient(Options{BaseURL: srv.URL, TFTPIPv4: "10.0.0.5"})

	if _, err := c.DSSCQAMStats(context.Background(), Modem{MAC: "aa:bb:cc:dd:ee:ff", IP: "10.1.1.2", Community: "pub"}); err != nil {
		t.Fatal(err)
	}
	mu.Lock()
	defer mu.Unlock()
	body := (*calls)[0].body
	if nested(body, "cable_modem", "pnm_parameters") != nil {
		t.Error("stats requests must not carry pnm_parameters")
	}
	if v := nested(body, "cable_modem", "snmp", "snmpV2C", "community"); v != "pub" {
		t.Errorf("community = %v", v)
	}
}

func TestCaptureSettings(t *testing.T) {
	t.Parallel()

	srv, calls, mu := newRecordingServer(t, http.StatusOK, `{"status":0}`)
	c := NewClient(Options{BaseURL: srv.URL, TFTPIPv4: "10.0.0.5"})
	m := Modem{MAC: "aa:bb:cc:dd:ee:ff", IP: "10.1.1.2"}

	c.FECSummary(context.Background(), m, Capture{}, 0)
	c.Histogram(context.Background(), m, Capture{}, 0)

	mu.Lock()
	defer mu.Unlock()
	if v := nested((*calls)[0].body, "capture_settings", "fec_summary_type"); v != float64(2) {
		t.Errorf("fec_summary_type = %v", v)
	}
	if v := nested((*calls)[1].body, "capture_settings", "sample_duration"); v != float64(60) {
		t.Errorf("sample_duration = %v", v)
	}
}

func TestUpstreamSpectrumPayload(t *testing.T) {
	t.Parallel()

	srv, calls, mu := newRecordingServer(t, http.StatusOK, `{"status":0}`)
	c := NewClient(Options{BaseURL: srv.URL, TFTPIPv4: "10.0.0.5"})

	cfg := docsis.DefaultUtscConfig()
	cfg.CmMAC = "aa:bb:cc:dd:ee:ff"
	u := UpstreamCapture{CMTSIP: "10.9.9.1", RFPortIfIndex: 1074339840, Config: cfg}
	if _, err := c.UpstreamSpectrum(context.Background(), u); err != nil {
		t.Fatal(err)
	}

	u.Config.TriggerMode = docsis.TriggerCMMAC
	if _, err := c.UpstreamSpectrum(context.Background(), u); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	free := (*calls)[0].body
	if nested(free, "capture_parameters", "cm_mac") != nil {
		t.Error("cm_mac must only be sent for trigger mode 6")
	}
	if v := nested(free, "cmts", "rf_port_ifindex"); v != float64(1074339840) {
		t.Errorf("rf_port_ifindex = %v", v)
	}
	if v := nested(free, "tftp", "ipv4"); v != "10.0.0.5" {
		t.Errorf("tftp = %v", v)
	}
	if v := nested((*calls)[1].body, "capture_parameters", "cm_mac"); v != "aa:bb:cc:dd:ee:ff" {
		t.Errorf("cm_mac = %v", v)
	}
}

func TestHTTPErrorMapping(t *testing.T) {
	t.Parallel()

	srv, _, _ := newRecordingServer(t, http.StatusUnprocessableEntity, `{"detail":"mac_address invalid"}`)
	c := NewClient(Options{BaseURL: srv.URL})

	_, err := c.SysDescr(context.Background(), Modem{MAC: "x", IP: "y"})
	if !errors.Is(err, ErrHTTP) {
		t.Fatalf("err = %v", err)
	}
	if err.Error() != "PyPNM returned error: 422" {
		t.Errorf("message = %q", err.Error())
	}
	body := ErrorResult(err)
	if body["status"] != "error" || body["detail"] != "mac_address invalid" {
		t.Errorf("ErrorResult = %v", body)
	}
}

func TestUnreachable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	var outcomes []string
	c := NewClient(Options{BaseURL: base, Observer: func(_, outcome string, _ time.Duration) { outcomes = append(outcomes, outcome) }})
	_, err := c.UpTime(context.Background(), Modem{MAC: "x", IP: "y"})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v", err)
	}
	want := "PyPNM server not reachable at " + base + ". Please ensure PyPNM is installed and running."
	if err.Error() != want {
		t.Errorf("message = %q", err.Error())
	}
	if len(outcomes) != 1 || outcomes[0] != "unavailable" {
		t.Errorf("observer outcomes = %v", outcomes)
	}
	if c.Health(context.Background()) {
		t.Error("Health should be false when PyPNM is down")
	}
}

func TestTimeout(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)

	c := NewClient(Options{BaseURL: srv.URL, Timeout: 50 * time.Millisecond})
	_, err := c.EventLog(context.Background(), Modem{MAC: "x", IP: "y"})
	if !errors.Is(err, ErrTimeout) || err.Error() != "Request to PyPNM timed out" {
		t.Fatalf("err = %v", err)
	}
}

func TestMultiRxMERAndHealth(t *testing.T) {
	t.Parallel()

	srv, calls, mu := newRecordingServer(t, http.StatusOK, `{"operation_id":"op-1","state":"running"}`)
	c := NewClient(Options{BaseURL: srv.URL})

	res, err := c.StartMultiRxMER(context.Background(), Modem{MAC: "aa:bb:cc:dd:ee:ff", IP: "10.1.1.2"}, "10.0.0.5", 0, 0)
	if err != nil || res["operation_id"] != "op-1" {
		t.Fatalf("start: %v %v", res, err)
	}
	if _, err := c.MultiRxMERStatus(context.Background(), "op-1"); err != nil {
		t.Fatal(err)
	}
	if !c.Health(context.Background()) {
		t.Error("Health should be true")
	}

	mu.Lock()
	defer mu.Unlock()
	start := (*calls)[0].body
	if start["interval_minutes"] != float64(5) || start["duration_hours"] != float64(24) {
		t.Errorf("start payload = %v", start)
	}
	if (*calls)[1].method != http.MethodGet || !strings.HasSuffix((*calls)[1].path, "/status/op-1") {
		t.Errorf("status request = %+v", (*calls)[1])
	}
	if (*calls)[2].path != "/docs" {
		t.Errorf("health path = %s", (*calls)[2].path)
	}
}

func TestArchiveResponse(t *testing.T) {
	t.Parallel()

	zipBytes := []byte("PK\x03\x04fake")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/zip")
		w.Write(zipBytes)
	}))
	t.Cleanup(srv.Close)

	c := NewClient(Options{BaseURL: srv.URL, TFTPIPv4: "10.0.0.5"})
	res, err := c.RxMER(context.Background(), Modem{MAC: "aa:bb:cc:dd:ee:ff", IP: "10.1.1.1"}, Capture{OutputType: "archive"})
	if err != nil {
		t.Fatal(err)
	}
	if st, ok := res.Status(); !ok || st != 0 {
		t.Errorf("status = %v %v", st, ok)
	}
	data, ok := res.Archive()
	if !ok || string(data) != string(zipBytes) {
		t.Errorf("archive = %q %v", data, ok)
	}

	embedded := Result{"archive_data": "UEsDBA=="}
	if data, ok := embedded.Archive(); !ok || string(data) != "PK\x03\x04" {
		t.Errorf("embedded archive = %q %v", data, ok)
	}
	if _, ok := (Result{}).Archive(); ok {
		t.Error("empty result has no archive")
	}
}
