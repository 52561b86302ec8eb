package ledger

import (
	"cdpnetmon/pkg/domain"
	"cdpnetmon/pkg/traffic"
)

// RequestStarted 请求即将发送
type RequestStarted struct {
	ID           domain.RequestID
	Method       string
	URL          string
	ResourceType string
	Initiator    domain.Initiator
	Headers      traffic.Header
	Cookies      []traffic.Cookie
	Body         *string
	// Redirect 非空表示同一请求 ID 的重定向跳转，记录的是上一跳的响应
	Redirect *domain.Redirect
}

// ResponseReceived 收到响应头
type ResponseReceived struct {
	ID           domain.RequestID
	ResourceType string
	Status       int
	StatusText   string
	MimeType     string
	Headers      traffic.Header
	Cookies      []traffic.Cookie
}

// LoadingFinished 加载完成
type LoadingFinished struct {
	ID   domain.RequestID
	Size int64
}

// LoadingFailed 加载失败
type LoadingFailed struct {
	ID           domain.RequestID
	ResourceType string
	ErrorText    string
	Canceled     bool
}
