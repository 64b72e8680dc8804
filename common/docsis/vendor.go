package docsis

import "strings"

var ouiVendors = map[string][]string{
	"ARRIS": {"00:00:ca", "00:01:5c", "00:15:96", "00:15:a2", "00:15:a3", "00:15:a4", "00:15:a5",
		"00:1d:ce", "00:1d:cf", "00:1d:d0", "00:1d:d1", "00:1d:d2", "00:1d:d3", "00:1d:d4", "00:1d:d5",
		"00:23:74", "e8:ed:05", "f8:0b:be", "20:3d:66", "84:a0:6e", "f0:af:85", "fc:51:a4"},
	"CISCO": {"00:1e:5a", "00:1e:bd", "00:22:6b", "00:26:0a", "00:30:f1", "5c:50:15", "c0:c5:20"},
	"Motorola": {"00:11:1a", "00:12:25", "00:14:f8", "00:15:9a", "00:15:d1", "00:17:e2", "00:18:a4",
		"00:19:47", "00:1a:66", "00:1a:77", "00:1c:c1", "00:1c:fb", "00:1d:6b", "00:1e:46", "00:1e:5d",
		"00:1f:6b", "00:23:be", "00:24:95", "00:26:41", "00:26:42"},
	"Technicolor": {"10:86:8c", "18:35:d1", "2c:39:96", "30:d3:2d", "58:23:8c", "70:b1:4e", "7c:03:4c",
		"88:f7:c7", "90:01:3b", "a0:ce:c8", "c8:d1:5e", "d4:35:1d", "f4:ca:e5"},
	"Juniper": {"00:1d:b5", "00:1f:12", "00:21:59", "00:23:9c", "00:26:88"},
	"Ubee":    {"00:14:d1", "00:15:2c", "28:c6:8e", "58:6d:8f", "5c:b0:66", "64:0d:ce", "68:b6:fc", "78:96:84"},
	"Sagemcom": {"08:95:2a", "10:b3:6f", "28:52:e8", "30:7c:b2", "44:e1:37", "70:fc:8f", "7c:8b:ca",
		"a0:1b:29", "a8:4e:3f", "a8:70:5d", "cc:33:bb", "f8:08:4f"},
	"Hitron": {"00:04:bd", "00:26:5b", "00:26:d8", "68:02:b8", "bc:14:85", "c4:27:95", "cc:03:fa"},
}

var ouiIndex = func() map[string]string {
	idx := make(map[string]string)
	for vendor, prefixes := range ouiVendors {
		for _, p := range prefixes {
			idx[p] = vendor
		}
	}
	return idx
}()

// VendorFromMAC maps the OUI of a modem MAC to a vendor name.
func VendorFromMAC(mac string) string {
	m := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(mac), "-", ":"))
	if len(m) < 8 {
		return "Unknown"
	}
	if v, ok := ouiIndex[m[:8]]; ok {
		return v
	}
	return "Unknown"
}
