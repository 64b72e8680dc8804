package docsis

import (
	"regexp"
	"strings"
)

// DeviceInfo is what can be recovered from a modem sysDescr.
type DeviceInfo struct {
	Vendor   string `json:"vendor,omitempty"`
	Model    string `json:"model,omitempty"`
	Software string `json:"software,omitempty"`
}

var (
	structuredRe = regexp.MustCompile(`<<(.+?)>>`)
	modelRe      = regexp.MustCompile(`(?i)(FAST\d+|F\d{4}[A-Z]*|TG\d+|TC\d+|SB\d+|DPC\d+|EPC\d+|CM\d+|SBG\d+|CGM\d+)`)
	versionRe    = regexp.MustCompile(`(\d+\.\d+\.\d+[\.\d\-a-zA-Z]*)`)
)

var vendorKeywords = []struct {
	keywords []string
	vendor   string
}{
	{[]string{"arris", "touchstone"}, "ARRIS"},
	{[]string{"technicolor"}, "Technicolor"},
	{[]string{"sagemcom"}, "Sagemcom"},
	{[]string{"hitron"}, "Hitron"},
	{[]string{"motorola"}, "Motorola"},
	{[]string{"cisco"}, "Cisco"},
	{[]string{"ubee"}, "Ubee"},
}

// ParseSysDescr extracts vendor, model and software revision. The
// structured "<<KEY: value; ...>>" block wins when it names a model;
// otherwise keyword and pattern matching fill in what they can.
func ParseSysDescr(descr string) DeviceInfo {
	var info DeviceInfo

	if m := structuredRe.FindStringSubmatch(descr); m != nil {
		for _, pair := range strings.Split(m[1], ";") {
			key, value, ok := strings.Cut(pair, ":")
			if !ok {
				continue
			}
			value = strings.TrimSpace(value)
			switch strings.ToUpper(strings.TrimSpace(key)) {
			case "MODEL":
				info.Model = value
			case "VENDOR":
				info.Vendor = value
			case "SW_REV":
				info.Software = value
			}
		}
		if info.Model != "" {
			return info
		}
	}

	lower := strings.ToLower(descr)
match:
	for _, vk := range vendorKeywords {
		for _, kw := range vk.keywords {
			if strings.Contains(lower, kw) {
				info.Vendor = vk.vendor
				break match
			}
		}
	}
	if m := modelRe.FindStringSubmatch(descr); m != nil {
		info.Model = strings.ToUpper(m[1])
	}
	if m := versionRe.FindStringSubmatch(descr); m != nil {
		info.Software = m[1]
	}
	return info
}
