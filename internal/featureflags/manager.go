// Package featureflags evaluates the FEATURE_FLAGS setting.
package featureflags

import (
	"hash/fnv"
	"strconv"
	"strings"
)

// Flags the application checks.
const (
	// FacebookLogin exposes /auth/facebook when Facebook credentials exist.
	FacebookLogin = "facebook_login"
	// WebPCovers stores a WebP copy of each cover image next to the JPEG.
	WebPCovers = "webp_covers"
)

// Known lists every flag the application reads, so reports always carry them.
var Known = []string{FacebookLogin, WebPCovers}

// rule is a parsed flag value: a share of users from 0 to 100. Boolean
// values parse to 0 or 100. Unparseable values are kept off.
type rule struct {
	raw     string
	percent int
}

func parseRule(value string) rule {
	r := rule{raw: value}
	switch value {
	case "on", "true", "1":
		r.percent = 100
		return r
	case "off", "false", "0":
		return r
	}
	if pctRaw, ok := strings.CutSuffix(value, "%"); ok {
		if pct, err := strconv.Atoi(pctRaw); err == nil {
			r.percent = min(max(pct, 0), 100)
		}
	}
	return r
}

// Manager evaluates feature flags defined in a simple key=value list, for
// example "facebook_login=on,webp_covers=25%". A percentage rolls the flag
// out to a stable subset of logged-in users.
type Manager struct {
	rules map[string]rule
}

// NewManager parses a comma-separated flag list. Entries without '=' or with
// an empty side are skipped.
func NewManager(raw string) *Manager {
	rules := make(map[string]rule)
	for _, pair := range strings.Split(raw, ",") {
		key, value, found := strings.Cut(pair, "=")
		key, value = normalize(key), normalize(value)
		if !found || key == "" || value == "" {
			continue
		}
		rules[key] = parseRule(value)
	}
	return &Manager{rules: rules}
}

// Enabled reports whether name is on for userID. Partial rollouts are off
// for anonymous callers (userID 0).
func (m *Manager) Enabled(name string, userID uint) bool {
	if m == nil {
		return false
	}
	r, ok := m.rules[normalize(name)]
	switch {
	case !ok || r.percent == 0:
		return false
	case r.percent == 100:
		return true
	case userID == 0:
		return false
	}
	return bucket(name, userID) < r.percent
}

// Report is the configured and evaluated state of every flag for one user.
type Report struct {
	Raw       map[string]string `json:"raw"`
	Evaluated map[string]bool   `json:"evaluated"`
}

// Report evaluates every configured flag plus every Known flag for userID.
func (m *Manager) Report(userID uint) Report {
	rep := Report{Raw: map[string]string{}, Evaluated: map[string]bool{}}
	for _, name := range Known {
		rep.Evaluated[name] = m.Enabled(name, userID)
	}
	if m == nil {
		return rep
	}
	for name, r := range m.rules {
		rep.Raw[name] = r.raw
		rep.Evaluated[name] = m.Enabled(name, userID)
	}
	return rep
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// bucket maps (flag, user) onto 0..99.
func bucket(name string, userID uint) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(normalize(name) + ":" + strconv.FormatUint(uint64(userID), 10)))
	return int(h.Sum32() % 100)
}
