// internal/requestinfo/requestinfo.go
//
// Per-Request Metadata
// --------------------
// User-agent fingerprint, client IP, and GeoIP hints, collected once per
// request and carried in the context.  Webhook audit rows read the IP and
// country from here; admin request logs read the rest.  The structs are
// inert and safe to log or JSON-encode.
package requestinfo

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/avct/uasurfer"
	"github.com/oschwald/geoip2-golang"

	"github.com/campuscare/caresync/internal/cache"
)

// UA holds the parsed user-agent properties.
type UA struct {
	Raw         string // entire User-Agent header
	Browser     string // "Chrome", "Firefox", "Safari", ...
	Version     string // "124.0.6367"
	OS          string // "macOS", "Windows", "Android", ...
	OSVersion   string // "14.5", "11", "10.0"
	Device      string // "Desktop", "Phone", "Tablet", ...
	Platform    string // "Mac", "Windows", "Linux", ...
	IsBot       bool
	PrimaryLang string // first tag from Accept-Language
}

// Geo holds IP-based geolocation hints.  Best effort; empty when the
// database has no match or is not loaded.
type Geo struct {
	IP         net.IP // original client address, not the forwarding chain
	CountryISO string // "US", "CA", "FR", ...
	City       string
}

// RequestInfo is what Enrich stores in the request context.
type RequestInfo struct {
	UA        UA
	Geo       Geo
	Timestamp time.Time
}

// geoReader is a singleton MaxMind handle, safe for concurrent reads.
// Stays nil when no database is configured; lookups then return empty.
var geoReader *geoip2.Reader

// InitGeo opens the GeoLite2 database.  Call once at startup; an empty
// path leaves country enrichment off.
func InitGeo(dbPath string) error {
	if dbPath == "" {
		return nil
	}
	r, err := geoip2.Open(dbPath)
	if err != nil {
		return err
	}
	geoReader = r
	return nil
}

type ctxKey struct{}

// FromContext returns the pointer stored by Enrich, or nil when the
// middleware has not run.
func FromContext(ctx context.Context) *RequestInfo {
	v, _ := ctx.Value(ctxKey{}).(*RequestInfo)
	return v
}

// Audit returns the client address and country for audit rows.  Works with
// or without Enrich in front; the webhook route is mounted outside the
// admin chain and resolves on the spot.
func Audit(r *http.Request) (ip, country string) {
	if info := FromContext(r.Context()); info != nil {
		if info.Geo.IP != nil {
			ip = info.Geo.IP.String()
		}
		return ip, info.Geo.CountryISO
	}
	addr := clientIP(r)
	if addr == nil {
		return "", ""
	}
	return addr.String(), lookupGeo(addr).CountryISO
}

// uaCache memoizes the uasurfer work; webhook bursts repeat the same
// User-Agent header verbatim.  PrimaryLang varies per request and is
// layered onto the returned copy after the cache fetch.
var uaCache = cache.New[string, UA](1024)

// parseUA converts a raw header into our UA struct.
func parseUA(uaHeader, acceptLang string) UA {
	ua, ok := uaCache.Get(uaHeader)
	if !ok {
		ua = fingerprint(uaHeader)
		uaCache.Add(uaHeader, ua)
	}
	ua.PrimaryLang = primaryLang(acceptLang)
	return ua
}

// fingerprint runs the actual uasurfer parse.
func fingerprint(uaHeader string) UA {
	u := uasurfer.Parse(uaHeader)

	osName := strings.TrimPrefix(u.OS.Name.String(), "OS")
	if osName == "MacOSX" {
		osName = "macOS"
	}

	return UA{
		Raw:       uaHeader,
		Browser:   strings.TrimPrefix(u.Browser.Name.String(), "Browser"),
		Version:   trimVersion(u.Browser.Version),
		OS:        osName,
		OSVersion: trimVersion(u.OS.Version),
		Device:    deviceTypeToString(u.DeviceType),
		Platform:  strings.TrimPrefix(u.OS.Platform.String(), "Platform"),
		IsBot:     u.IsBot(),
	}
}

// trimVersion builds "major.minor.patch" and removes trailing ".0" parts.
func trimVersion(v uasurfer.Version) string {
	out := strings.Join([]string{
		strconv.Itoa(v.Major), strconv.Itoa(v.Minor), strconv.Itoa(v.Patch),
	}, ".")
	for strings.HasSuffix(out, ".0") {
		out = strings.TrimSuffix(out, ".0")
	}
	if out == "" {
		return "0"
	}
	return out
}

func deviceTypeToString(dt uasurfer.DeviceType) string {
	switch dt {
	case uasurfer.DeviceComputer:
		return "Desktop"
	case uasurfer.DevicePhone:
		return "Phone"
	case uasurfer.DeviceTablet:
		return "Tablet"
	case uasurfer.DeviceConsole:
		return "Console"
	case uasurfer.DeviceWearable:
		return "Wearable"
	case uasurfer.DeviceTV:
		return "TV"
	case uasurfer.DeviceBot:
		return "Bot"
	default:
		return "Unknown"
	}
}

// primaryLang extracts the first language subtag before any ";q=" rule.
func primaryLang(al string) string {
	if al == "" {
		return ""
	}
	tag := strings.TrimSpace(strings.Split(al, ",")[0])
	if i := strings.Index(tag, ";"); i != -1 {
		tag = tag[:i]
	}
	return strings.ToLower(tag)
}

// lookupGeo returns best-effort Geo data using the global reader.
func lookupGeo(ip net.IP) Geo {
	if geoReader == nil || ip == nil {
		return Geo{IP: ip}
	}
	rec, err := geoReader.City(ip)
	if err != nil {
		return Geo{IP: ip}
	}
	return Geo{
		IP:         ip,
		CountryISO: rec.Country.IsoCode,
		City:       rec.City.Names["en"],
	}
}
