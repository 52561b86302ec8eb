package export

import (
	"encoding/json"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"cdpnetmon/pkg/domain"
	"cdpnetmon/pkg/traffic"
)

// HARLog HAR 1.2 顶层结构
type HARLog struct {
	Log HARContentLog `json:"log"`
}

type HARContentLog struct {
	Version string     `json:"version"`
	Creator HARCreator `json:"creator"`
	Entries []HAREntry `json:"entries"`
}

type HARCreator struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type HAREntry struct {
	StartedDateTime string      `json:"startedDateTime"`
	Time            float64     `json:"time"`
	Request         HARRequest  `json:"request"`
	Response        HARResponse `json:"response"`
	Cache           struct{}    `json:"cache"`
	Timings         HARTimings  `json:"timings"`
	Comment         string      `json:"comment,omitempty"`
}

type HARRequest struct {
	Method      string       `json:"method"`
	URL         string       `json:"url"`
	HTTPVersion string       `json:"httpVersion"`
	Cookies     []HARPair    `json:"cookies"`
	Headers     []HARPair    `json:"headers"`
	QueryString []HARPair    `json:"queryString"`
	PostData    *HARPostData `json:"postData,omitempty"`
	HeadersSize int          `json:"headersSize"`
	BodySize    int          `json:"bodySize"`
}

type HARResponse struct {
	Status      int        `json:"status"`
	StatusText  string     `json:"statusText"`
	HTTPVersion string     `json:"httpVersion"`
	Cookies     []HARPair  `json:"cookies"`
	Headers     []HARPair  `json:"headers"`
	Content     HARContent `json:"content"`
	RedirectURL string     `json:"redirectURL"`
	HeadersSize int        `json:"headersSize"`
	BodySize    int64      `json:"bodySize"`
	Comment     string     `json:"comment,omitempty"`
}

type HARContent struct {
	Size     int    `json:"size"`
	MimeType string `json:"mimeType"`
	Text     string `json:"text,omitempty"`
	Comment  string `json:"comment,omitempty"`
}

type HARPostData struct {
	MimeType string `json:"mimeType"`
	Text     string `json:"text"`
}

type HARTimings struct {
	Send    float64 `json:"send"`
	Wait    float64 `json:"wait"`
	Receive float64 `json:"receive"`
}

// HARPair 头、Cookie、查询参数共用的键值对
type HARPair struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// HAR 按记录顺序生成 HAR 日志
func HAR(recs []domain.RequestRecord, version string) HARLog {
	entries := make([]HAREntry, 0, len(recs))
	for i := range recs {
		entries = append(entries, harEntry(recs[i]))
	}
	return HARLog{Log: HARContentLog{
		Version: "1.2",
		Creator: HARCreator{Name: "cdpnetmon", Version: version},
		Entries: entries,
	}}
}

// MarshalHAR 序列化 HAR 日志
func MarshalHAR(recs []domain.RequestRecord, version string) ([]byte, error) {
	return json.MarshalIndent(HAR(recs, version), "", "  ")
}

func harEntry(rec domain.RequestRecord) HAREntry {
	var ms float64
	if rec.Duration != nil {
		ms = float64(*rec.Duration) / float64(time.Millisecond)
	}
	entry := HAREntry{
		StartedDateTime: rec.StartedAt.UTC().Format(time.RFC3339Nano),
		Time:            ms,
		Request: HARRequest{
			Method:      rec.Method,
			URL:         rec.URL,
			HTTPVersion: "HTTP/1.1",
			Cookies:     pairsFromCookies(rec.RequestCookies),
			Headers:     pairsFromHeader(rec.RequestHeaders),
			QueryString: queryString(rec.URL),
			HeadersSize: -1,
			BodySize:    -1,
		},
		Response: HARResponse{
			StatusText:  rec.StatusText,
			HTTPVersion: "HTTP/1.1",
			Cookies:     pairsFromCookies(rec.ResponseCookies),
			Headers:     pairsFromHeader(rec.ResponseHeaders),
			Content:     harContent(rec),
			RedirectURL: rec.ResponseHeaders.Get("location"),
			HeadersSize: -1,
			BodySize:    -1,
		},
		Timings: HARTimings{Send: -1, Wait: ms, Receive: -1},
	}
	if rec.RequestBody != nil {
		entry.Request.BodySize = len(*rec.RequestBody)
		entry.Request.PostData = &HARPostData{
			MimeType: rec.RequestHeaders.Get("content-type"),
			Text:     *rec.RequestBody,
		}
	}
	if rec.Status != nil {
		entry.Response.Status = *rec.Status
		if entry.Response.StatusText == "" {
			entry.Response.StatusText = http.StatusText(*rec.Status)
		}
	}
	if rec.Size != nil {
		entry.Response.BodySize = *rec.Size
	}
	if rec.ErrorText != "" {
		entry.Comment = rec.ErrorText
	} else if rec.State != domain.StateFinished {
		entry.Comment = string(rec.State)
	}
	return entry
}

func harContent(rec domain.RequestRecord) HARContent {
	c := HARContent{MimeType: rec.MimeType, Size: rec.ResponseBody.Size}
	switch rec.ResponseBody.Kind {
	case traffic.BodyText:
		c.Text = rec.ResponseBody.Text
		if rec.ResponseBody.Truncated {
			c.Comment = "truncated"
		}
	case traffic.BodyOpaque:
		c.Comment = "binary body omitted"
	case traffic.BodyUnavailable:
		c.Comment = rec.ResponseBody.Reason
	case traffic.BodyPending:
		c.Comment = "pending"
	}
	return c
}

func pairsFromHeader(h traffic.Header) []HARPair {
	out := make([]HARPair, 0, len(h))
	for k, v := range h {
		out = append(out, HARPair{Name: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func pairsFromCookies(cs []traffic.Cookie) []HARPair {
	out := make([]HARPair, 0, len(cs))
	for _, c := range cs {
		out = append(out, HARPair{Name: c.Name, Value: c.Value})
	}
	return out
}

func queryString(raw string) []HARPair {
	u, err := url.Parse(raw)
	if err != nil || u.RawQuery == "" {
		return []HARPair{}
	}
	out := []HARPair{}
	for _, kv := range strings.Split(u.RawQuery, "&") {
		if kv == "" {
			continue
		}
		k, v, _ := strings.Cut(kv, "=")
		if dk, err := url.QueryUnescape(k); err == nil {
			k = dk
		}
		if dv, err := url.QueryUnescape(v); err == nil {
			v = dv
		}
		out = append(out, HARPair{Name: k, Value: v})
	}
	return out
}
