// Package inventory provides the CMTS list from the appdb API or a static
// lab configuration, cached in the shared key/value store.
package inventory

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/svdleer/PyPNMGui/common/cache"
)

const cacheKey = "inventory:cmts"

// DefaultTTL is how long a successful appdb response is reused.
const DefaultTTL = 300 * time.Second

// CMTS is one inventory row in appdb's field naming.
type CMTS struct {
	HostName      string `json:"HostName"`
	IPAddress     string `json:"IPAddress"`
	Vendor        string `json:"Vendor"`
	Type          string `json:"Type"`
	Alias         string `json:"Alias"`
	SNMPCommunity string `json:"snmp_community,omitempty"`
}

// LabSystem is a statically configured CMTS used in lab mode.
type LabSystem struct {
	Name          string `json:"name" toml:"name"`
	IP            string `json:"ip" toml:"ip"`
	Vendor        string `json:"vendor" toml:"vendor"`
	Type          string `json:"type" toml:"type"`
	Location      string `json:"location" toml:"location"`
	SNMPCommunity string `json:"snmp_community" toml:"snmp_community"`
}

func (l LabSystem) toCMTS() CMTS {
	c := CMTS{HostName: l.Name, IPAddress: l.IP, Vendor: l.Vendor, Type: l.Type, Alias: l.Location, SNMPCommunity: l.SNMPCommunity}
	if c.Vendor == "" {
		c.Vendor = "Casa"
	}
	if c.Type == "" {
		c.Type = "CCAP"
	}
	if c.SNMPCommunity == "" {
		c.SNMPCommunity = "oss1nf0"
	}
	return c
}

type Logger interface {
	Debug(msg string, kv ...interface{})
	Info(msg string, kv ...interface{})
	Error(msg string, kv ...interface{})
}

// Options configures a Provider.
type Options struct {
	APIURL   string
	User     string
	Password string
	// VerifyTLS enables certificate checks; appdb normally runs with a
	// self-signed certificate.
	VerifyTLS  bool
	TTL        time.Duration
	LabMode    bool
	LabSystems []LabSystem
	Cache      *cache.Store
	HTTPClient *http.Client
	Logger     Logger
}

// Provider serves CMTS inventory queries.
type Provider struct {
	opts Options
	http *http.Client
}

type cachedInventory struct {
	FetchedAt time.Time `json:"fetched_at"`
	Systems   []CMTS    `json:"systems"`
}

type appdbResponse struct {
	Status int    `json:"status"`
	Count  int    `json:"count"`
	Data   []CMTS `json:"data"`
}

// ErrNoCache is returned when a Provider is built without a store.
var ErrNoCache = errors.New("inventory requires a cache store")

func New(opts Options) (*Provider, error) {
	if opts.Cache == nil {
		return nil, ErrNoCache
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	opts.APIURL = strings.TrimRight(opts.APIURL, "/")
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				Proxy:           http.ProxyFromEnvironment,
				TLSClientConfig: &tls.Config{InsecureSkipVerify: !opts.VerifyTLS}, // #nosec G402 -- appdb uses a self-signed certificate
			},
		}
	}
	return &Provider{opts: opts, http: hc}, nil
}

// LabMode reports whether the static list is served.
func (p *Provider) LabMode() bool { return p.opts.LabMode }

// All returns every CMTS. A failed fetch yields an empty list and the
// error; failures are never cached.
func (p *Provider) All(ctx context.Context, forceRefresh bool) ([]CMTS, error) {
	if p.opts.LabMode {
		out := make([]CMTS, 0, len(p.opts.LabSystems))
		for _, l := range p.opts.LabSystems {
			out = append(out, l.toCMTS())
		}
		return out, nil
	}

	if !forceRefresh {
		var cached cachedInventory
		found, err := p.opts.Cache.GetJSON(cacheKey, &cached)
		if err == nil && found {
			p.logDebug("Returning cached CMTS data", "count", len(cached.Systems))
			return cached.Systems, nil
		}
	}

	p.logInfo("Fetching fresh CMTS data from appdb")
	resp, err := p.fetch(ctx)
	if err != nil {
		p.logError("Failed to fetch CMTS data from appdb", "error", err)
		return []CMTS{}, err
	}
	if resp.Status != 200 {
		err := fmt.Errorf("appdb returned status %d", resp.Status)
		p.logError("Failed to fetch CMTS data from appdb", "error", err)
		return []CMTS{}, err
	}
	if resp.Data == nil {
		resp.Data = []CMTS{}
	}
	if err := p.opts.Cache.SetJSON(cacheKey, cachedInventory{FetchedAt: time.Now(), Systems: resp.Data}, p.opts.TTL); err != nil {
		p.logError("Caching CMTS data failed", "error", err)
	} else {
		p.logInfo("Cached CMTS systems", "count", len(resp.Data))
	}
	return resp.Data, nil
}

func (p *Provider) fetch(ctx context.Context) (*appdbResponse, error) {
	if p.opts.APIURL == "" {
		return nil, errors.New("APPDB_API_URL is not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.opts.APIURL+"/search?type=hostname&q=*", nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(p.opts.User, p.opts.Password)
	req.Header.Set("Accept", "application/json")

	res, err := p.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("appdb HTTP %d", res.StatusCode)
	}
	var out appdbResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode appdb response: %w", err)
	}
	return &out, nil
}

func (p *Provider) Count(ctx context.Context) int {
	list, _ := p.All(ctx, false)
	return len(list)
}

func (p *Provider) filter(ctx context.Context, keep func(CMTS) bool) []CMTS {
	list, _ := p.All(ctx, false)
	out := []CMTS{}
	for _, c := range list {
		if keep(c) {
			out = append(out, c)
		}
	}
	return out
}

// ByVendor matches the vendor name case-insensitively.
func (p *Provider) ByVendor(ctx context.Context, vendor string) []CMTS {
	return p.filter(ctx, func(c CMTS) bool { return strings.EqualFold(c.Vendor, vendor) })
}

// ByType matches the platform type (E6000, C100G, cBR-8) case-insensitively.
func (p *Provider) ByType(ctx context.Context, typ string) []CMTS {
	return p.filter(ctx, func(c CMTS) bool { return strings.EqualFold(c.Type, typ) })
}

func (p *Provider) ByHostname(ctx context.Context, hostname string) (CMTS, bool) {
	list, _ := p.All(ctx, false)
	for _, c := range list {
		if strings.EqualFold(c.HostName, hostname) {
			return c, true
		}
	}
	return CMTS{}, false
}

// ByIP finds a CMTS by management address.
func (p *Provider) ByIP(ctx context.Context, ip string) (CMTS, bool) {
	list, _ := p.All(ctx, false)
	for _, c := range list {
		if c.IPAddress == ip {
			return c, true
		}
	}
	return CMTS{}, false
}

// Search returns systems whose hostname, alias or IP contains query.
func (p *Provider) Search(ctx context.Context, query string) []CMTS {
	q := strings.ToLower(query)
	return p.filter(ctx, func(c CMTS) bool {
		return strings.Contains(strings.ToLower(c.HostName), q) ||
			strings.Contains(strings.ToLower(c.Alias), q) ||
			strings.Contains(strings.ToLower(c.IPAddress), q)
	})
}

func summarize(list []CMTS, field func(CMTS) string) map[string]int {
	out := make(map[string]int)
	for _, c := range list {
		k := field(c)
		if k == "" {
			k = "Unknown"
		}
		out[k]++
	}
	return out
}

func (p *Provider) VendorSummary(ctx context.Context) map[string]int {
	list, _ := p.All(ctx, false)
	return summarize(list, func(c CMTS) string { return c.Vendor })
}

func (p *Provider) TypeSummary(ctx context.Context) map[string]int {
	list, _ := p.All(ctx, false)
	return summarize(list, func(c CMTS) string { return c.Type })
}

// ClearCache drops the cached inventory.
func (p *Provider) ClearCache() error {
	if err := p.opts.Cache.Delete(cacheKey); err != nil {
		return err
	}
	p.logInfo("CMTS cache cleared")
	return nil
}

// CacheInfo describes the cached inventory.
type CacheInfo struct {
	Cached          bool     `json:"cached"`
	CacheAgeSeconds *float64 `json:"cache_age_seconds"`
	CacheTTLSeconds float64  `json:"cache_ttl_seconds"`
	CacheExpiresIn  *float64 `json:"cache_expires_in"`
	CachedCount     int      `json:"cached_count"`
}

func (p *Provider) CacheInfo() CacheInfo {
	info := CacheInfo{CacheTTLSeconds: p.opts.TTL.Seconds()}
	var cached cachedInventory
	found, err := p.opts.Cache.GetJSON(cacheKey, &cached)
	if err != nil || !found {
		return info
	}
	age := time.Since(cached.FetchedAt).Seconds()
	info.Cached = true
	info.CacheAgeSeconds = &age
	info.CachedCount = len(cached.Systems)
	if remaining, ok, err := p.opts.Cache.TTL(cacheKey); err == nil && ok {
		secs := remaining.Seconds()
		info.CacheExpiresIn = &secs
	}
	return info
}

func (p *Provider) logDebug(msg string, kv ...interface{}) {
	if p.opts.Logger != nil {
		p.opts.Logger.Debug(msg, kv...)
	}
}

func (p *Provider) logInfo(msg string, kv ...interface{}) {
	if p.opts.Logger != nil {
		p.opts.Logger.Info(msg, kv...)
	}
}

func (p *Provider) logError(msg string, kv ...interface{}) {
	if p.opts.Logger != nil {
		p.opts.Logger.Error(msg, kv...)
	}
}
