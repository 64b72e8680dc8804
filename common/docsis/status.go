package docsis

import "fmt"

var cmStatusNames = map[int]string{
	1: "other",
	2: "ranging",
	3: "rangingAborted",
	4: "rangingComplete",
	5: "ipComplete",
	6: "registrationComplete",
	7: "accessDenied",
	8: "operational",
	9: "registeredBPIInitializing",
}

// CMStatus decodes docsIfCmtsCmStatusValue.
func CMStatus(code int) string {
	if s, ok := cmStatusNames[code]; ok {
		return s
	}
	return fmt.Sprintf("unknown(%d)", code)
}

var d3StatusNames = map[int]string{
	1:  "other",
	2:  "initialRanging",
	3:  "rangingAutoAdjComplete",
	4:  "startEae",
	5:  "startDhcpv4",
	6:  "startDhcpv6",
	7:  "dhcpv4Complete",
	8:  "dhcpv6Complete",
	9:  "startCfgFileDownload",
	10: "cfgFileDownloadComplete",
	11: "startRegistration",
	12: "registrationComplete",
	13: "operational",
	14: "bpiInit",
	15: "forwardingDisabled",
	16: "rfMuteAll",
}

// D3Status decodes docsIf3CmtsCmRegStatusValue.
func D3Status(code int) string {
	if s, ok := d3StatusNames[code]; ok {
		return s
	}
	return fmt.Sprintf("unknown(%d)", code)
}

var versionNames = map[int]string{
	1: "ATDMA",
	2: "SCDMA",
	3: "DOCSIS 1.0",
	4: "DOCSIS 1.1",
	5: "DOCSIS 2.0",
	6: "DOCSIS 3.0",
	7: "DOCSIS 3.1",
	8: "DOCSIS 4.0",
}

// DocsisVersion decodes a DOCSIS capability/version enumeration.
func DocsisVersion(code int) string {
	if s, ok := versionNames[code]; ok {
		return s
	}
	return fmt.Sprintf("Unknown(%d)", code)
}

// IsOnline reports whether a decoded status counts as online for sysDescr
// enrichment.
func IsOnline(status string) bool {
	switch status {
	case "operational", "registrationComplete", "ipComplete", "online":
		return true
	}
	return false
}
