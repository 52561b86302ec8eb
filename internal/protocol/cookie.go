package protocol

import (
	"strings"

	"cdpnetmon/pkg/traffic"
)

// ParseCookie 解析请求 Cookie 头
func ParseCookie(s string) []traffic.Cookie {
	if s == "" {
		return nil
	}
	var out []traffic.Cookie
	for _, p := range strings.Split(s, ";") {
		kv := strings.SplitN(strings.TrimSpace(p), "=", 2)
		if len(kv) == 2 && kv[0] != "" {
			out = append(out, traffic.Cookie{Name: strings.TrimSpace(kv[0]), Value: strings.TrimSpace(kv[1])})
		}
	}
	return out
}

// ParseSetCookie 解析 Set-Cookie 头，可能以换行分隔多条
func ParseSetCookie(s string) []traffic.Cookie {
	var out []traffic.Cookie
	for _, line := range strings.Split(s, "\n") {
		// CookieName=CookieValue; Attr=...
		first := strings.TrimSpace(strings.SplitN(line, ";", 2)[0])
		kv := strings.SplitN(first, "=", 2)
		if len(kv) == 2 && kv[0] != "" {
			out = append(out, traffic.Cookie{Name: kv[0], Value: kv[1]})
		}
	}
	return out
}
