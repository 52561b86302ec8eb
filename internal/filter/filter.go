package filter

import (
	"strings"

	"cdpnetmon/pkg/domain"
)

// TypePing 默认隐藏的资源类型
const TypePing = "Ping"

// Passes 判断记录在给定配置下是否可见。
// 依次检查 URL 关键字、状态码列表、方法、资源类型、状态、发起者，全部通过才可见。
// 结果只取决于参数本身。
func Passes(rec domain.RequestRecord, cfg domain.FilterConfig) bool {
	if !matchTerms(rec.URL, cfg.URLTerms) {
		return false
	}
	if !matchCodes(rec.StatusKey(), cfg.StatusCodes) {
		return false
	}
	if !allowed(cfg.Methods, strings.ToUpper(rec.Method), true) {
		return false
	}
	if !allowed(cfg.ResourceTypes, rec.ResourceType, rec.ResourceType != TypePing) {
		return false
	}
	if !allowed(cfg.Statuses, StatusKey(rec), true) {
		return false
	}
	return allowed(cfg.Initiators, InitiatorKey(rec), true)
}

// Apply 返回通过过滤的记录，保持原有顺序
func Apply(recs []domain.RequestRecord, cfg domain.FilterConfig) []domain.RequestRecord {
	out := make([]domain.RequestRecord, 0, len(recs))
	for i := range recs {
		if Passes(recs[i], cfg) {
			out = append(out, recs[i])
		}
	}
	return out
}

// StatusKey 状态过滤键：有响应时为状态码，否则为生命周期状态
func StatusKey(rec domain.RequestRecord) string {
	if k := rec.StatusKey(); k != "" {
		return k
	}
	return string(rec.State)
}

// InitiatorKey 发起者过滤键，未知发起者为空串
func InitiatorKey(rec domain.RequestRecord) string {
	return rec.Initiator.Type
}

// ParseTerms 解析以 ; 分隔的 URL 关键字
func ParseTerms(s string) []string {
	return split(s, ";")
}

// ParseCodes 解析以 , 分隔的状态码
func ParseCodes(s string) []string {
	return split(s, ",")
}

func split(s, sep string) []string {
	var out []string
	for _, p := range strings.Split(s, sep) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// allowed 映射中未出现的键取默认值
func allowed(m map[string]bool, key string, def bool) bool {
	v, ok := m[key]
	if !ok {
		return def
	}
	return v
}

func matchTerms(url string, terms []string) bool {
	if len(terms) == 0 {
		return true
	}
	u := strings.ToLower(url)
	empty := true
	for _, t := range terms {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		empty = false
		if strings.Contains(u, strings.ToLower(t)) {
			return true
		}
	}
	return empty
}

func matchCodes(key string, codes []string) bool {
	if len(codes) == 0 {
		return true
	}
	empty := true
	for _, c := range codes {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		empty = false
		if c == key {
			return true
		}
	}
	return empty
}
