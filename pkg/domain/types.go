package domain

import (
	"strconv"
	"time"

	"cdpnetmon/pkg/traffic"
)

type SessionID string
type TargetID string
type RequestID string

// DebugTarget 可附加的调试目标（标签页/worker）
type DebugTarget struct {
	ID           TargetID `json:"id"`
	Type         string   `json:"type"`
	Title        string   `json:"title"`
	URL          string   `json:"url"`
	WebSocketURL string   `json:"webSocketUrl"`
}

// RecordState 请求生命周期状态
type RecordState string

const (
	StateStarted          RecordState = "started"
	StateResponseReceived RecordState = "response_received"
	StateFinished         RecordState = "finished"
	StateFailed           RecordState = "failed"
	StateAbandoned        RecordState = "abandoned"
)

// Rank 状态序号，状态只能向更大的序号推进
func (s RecordState) Rank() int {
	switch s {
	case StateStarted:
		return 1
	case StateResponseReceived:
		return 2
	case StateFinished, StateFailed, StateAbandoned:
		return 3
	default:
		return 0
	}
}

// Terminal 是否为终态
func (s RecordState) Terminal() bool {
	return s.Rank() == 3
}

// Initiator 请求发起者
type Initiator struct {
	Type string `json:"type"`
	URL  string `json:"url,omitempty"`
}

// Redirect 一次重定向跳转
type Redirect struct {
	URL    string `json:"url"`
	Status int    `json:"status"`
}

// RequestRecord 一次 HTTP 交换的完整记录，未知字段保持为 nil
type RequestRecord struct {
	ID           RequestID `json:"requestId"`
	Seq          uint64    `json:"seq"`
	Method       string    `json:"method"`
	URL          string    `json:"url"`
	ResourceType string    `json:"type"`
	Initiator    Initiator `json:"initiator"`

	RequestHeaders traffic.Header   `json:"requestHeaders,omitempty"`
	RequestCookies []traffic.Cookie `json:"requestCookies,omitempty"`
	RequestBody    *string          `json:"requestBody,omitempty"`

	State           RecordState      `json:"state"`
	Status          *int             `json:"status,omitempty"`
	StatusText      string           `json:"statusText,omitempty"`
	MimeType        string           `json:"mimeType,omitempty"`
	ResponseHeaders traffic.Header   `json:"responseHeaders,omitempty"`
	ResponseCookies []traffic.Cookie `json:"responseCookies,omitempty"`
	ResponseBody    traffic.Body     `json:"responseBody"`

	StartedAt time.Time      `json:"startedAt"`
	Duration  *time.Duration `json:"duration,omitempty"`
	Size      *int64         `json:"size,omitempty"`
	ErrorText string         `json:"errorText,omitempty"`
	Canceled  bool           `json:"canceled,omitempty"`
	Synthetic bool           `json:"synthetic,omitempty"`
	Redirects []Redirect     `json:"redirects,omitempty"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// StatusKey 状态码过滤键，未收到响应时为空串
func (r *RequestRecord) StatusKey() string {
	if r.Status == nil {
		return ""
	}
	return strconv.Itoa(*r.Status)
}

// Clone 深拷贝，交给其他 goroutine 的记录必须是副本
func (r *RequestRecord) Clone() RequestRecord {
	out := *r
	out.RequestHeaders = r.RequestHeaders.Clone()
	out.ResponseHeaders = r.ResponseHeaders.Clone()
	if r.RequestCookies != nil {
		out.RequestCookies = append([]traffic.Cookie(nil), r.RequestCookies...)
	}
	if r.ResponseCookies != nil {
		out.ResponseCookies = append([]traffic.Cookie(nil), r.ResponseCookies...)
	}
	if r.Redirects != nil {
		out.Redirects = append([]Redirect(nil), r.Redirects...)
	}
	if r.RequestBody != nil {
		s := *r.RequestBody
		out.RequestBody = &s
	}
	if r.Status != nil {
		v := *r.Status
		out.Status = &v
	}
	if r.Duration != nil {
		v := *r.Duration
		out.Duration = &v
	}
	if r.Size != nil {
		v := *r.Size
		out.Size = &v
	}
	return out
}

// FilterConfig 过滤配置，映射中未出现的键默认可见（Ping 类型除外）
type FilterConfig struct {
	Methods       map[string]bool `json:"methods,omitempty"`
	Statuses      map[string]bool `json:"statuses,omitempty"`
	ResourceTypes map[string]bool `json:"resourceTypes,omitempty"`
	Initiators    map[string]bool `json:"initiators,omitempty"`
	URLTerms      []string        `json:"urlTerms,omitempty"`
	StatusCodes   []string        `json:"statusCodes,omitempty"`
}

// Selection 导出范围
type Selection string

const (
	SelectPinned  Selection = "pinned"
	SelectVisible Selection = "visible"
	SelectAll     Selection = "all"
)

// Valid 是否为已知导出范围
func (s Selection) Valid() bool {
	switch s {
	case SelectPinned, SelectVisible, SelectAll:
		return true
	}
	return false
}

// StatusEvent 连接状态通知
type StatusEvent struct {
	Session   SessionID `json:"session"`
	Target    TargetID  `json:"target"`
	State     string    `json:"state"`
	Message   string    `json:"message"`
	Error     string    `json:"error,omitempty"`
	Timestamp int64     `json:"timestamp"`
}

// SessionConfig 启动监控会话的参数
type SessionConfig struct {
	DevToolsURL string   `json:"devToolsURL"`
	Target      TargetID `json:"target"`
}

// Stats 会话运行统计
type Stats struct {
	Stored       int    `json:"stored"`
	Pinned       int    `json:"pinned"`
	Pending      int    `json:"pending"`
	InFlight     int    `json:"inFlight"`
	BodyWaits    int    `json:"bodyWaits"`
	Overflow     uint64 `json:"overflow"`
	Evicted      uint64 `json:"evicted"`
	Malformed    uint64 `json:"malformed"`
	Reconnects   int    `json:"reconnects"`
	ConnectionUp bool   `json:"connectionUp"`
}

// ArchiveInfo 一次 SQLite 归档的摘要
type ArchiveInfo struct {
	ID        string    `json:"id"`
	Session   SessionID `json:"session"`
	Selection Selection `json:"selection"`
	Count     int       `json:"count"`
	CreatedAt time.Time `json:"createdAt"`
}
