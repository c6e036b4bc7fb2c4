package platform

import "strings"

// ParseCookies reads a Cookie header or document.cookie string the way
// browsers tolerate it: parts are split on ";" and trimmed, parts without a
// name or "=" are skipped, and values are kept byte for byte apart from one
// pair of surrounding double quotes. A later duplicate name wins.
func ParseCookies(raw string) map[string]string {
	cookies := map[string]string{}
	for part := range strings.SplitSeq(raw, ";") {
		name, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		value = strings.TrimSpace(value)
		if len(value) >= 2 && value[0] == '"' && value[len(value)-1] == '"' {
			value = value[1 : len(value)-1]
		}
		cookies[name] = value
	}
	return cookies
}
