package mockdata

import "testing"

func TestModemFilters(t *testing.T) {
	t.Parallel()

	if n := len(Modems(Filter{})); n != 6 {
		t.Fatalf("all modems = %d", n)
	}
	if got := Modems(Filter{SearchType: "mac", SearchValue: "AA-BB-CC-DD-EE-03"}); len(got) != 1 || got[0].Name != "CM-Business-01" {
		t.Errorf("mac search = %+v", got)
	}
	if got := Modems(Filter{SearchType: "name", SearchValue: "business"}); len(got) != 2 {
		t.Errorf("name search = %d", len(got))
	}
	if got := Modems(Filter{CMTS: "CMTS-CORE-01", Interface: "Cable1/0/0"}); len(got) != 2 {
		t.Errorf("cmts/interface = %d", len(got))
	}
	if _, ok := ModemByMAC("AA-BB-CC-DD-EE-05"); !ok {
		t.Error("ModemByMAC should normalise dashes")
	}
}

func TestResponses(t *testing.T) {
	t.Parallel()

	if r := SystemInfo("00:00:00:00:00:00"); r["status"] != "error" || r["message"] != "Modem not found" {
		t.Errorf("unknown modem = %v", r)
	}
	info := SystemInfo("aa:bb:cc:dd:ee:01")
	data := info["data"].(map[string]interface{})
	if info["status"] != "success" || data["model"] != "CM8200" {
		t.Errorf("system info = %v", info)
	}

	rx := RxMER("aa:bb:cc:dd:ee:01", []int{159, 160})
	ms := rx["data"].(map[string]interface{})["rxmer_measurements"].([]map[string]interface{})
	if len(ms) != 2 || len(ms[0]["subcarrier_samples"].([]map[string]interface{})) != 38 {
		t.Errorf("rxmer measurements = %d", len(ms))
	}

	sp := Spectrum("aa:bb:cc:dd:ee:02")["data"].(map[string]interface{})
	if len(sp["spectrum_points"].([]map[string]interface{})) != 200 {
		t.Error("spectrum should have 200 points")
	}

	events := EventLog("aa:bb:cc:dd:ee:01")["data"].(map[string]interface{})["events"].([]map[string]interface{})
	if len(events) != 15 || events[0]["timestamp"].(string) < events[14]["timestamp"].(string) {
		t.Error("event log should hold 15 events newest first")
	}

	if st := MultiRxMERStatus("abc12345"); st["state"] != "running" && st["state"] != "completed" {
		t.Errorf("multi status = %v", st)
	}
	if r := CMTSModems("10.0.0.2"); r["count"] != 2 {
		t.Errorf("cmts modems = %v", r["count"])
	}
}
