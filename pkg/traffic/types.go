package traffic

import (
	"strings"
)

// Header 封装通用的头部操作，键统一为小写
type Header map[string]string

// Get 获取指定 Header 的值（大小写不敏感）
func (h Header) Get(key string) string {
	if h == nil {
		return ""
	}
	return h[strings.ToLower(key)]
}

// Set 设置指定 Header 的值（自动转换为小写）
func (h Header) Set(key, value string) {
	h[strings.ToLower(key)] = value
}

// Del 删除指定 Header
func (h Header) Del(key string) {
	delete(h, strings.ToLower(key))
}

// Clone 深拷贝
func (h Header) Clone() Header {
	if h == nil {
		return nil
	}
	out := make(Header, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

// Cookie 单个 Cookie 键值
type Cookie struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// BodyKind 响应体的承载形式
type BodyKind string

const (
	BodyNone        BodyKind = ""            // 尚未获取或不需要
	BodyPending     BodyKind = "pending"     // 已发起获取，等待回复
	BodyText        BodyKind = "text"        // 文本内联
	BodyOpaque      BodyKind = "opaque"      // 二进制，不解码
	BodyUnavailable BodyKind = "unavailable" // 获取失败或连接已放弃
)

// Body 响应体，二进制与超大内容只保留摘要
type Body struct {
	Kind      BodyKind `json:"kind,omitempty"`
	Text      string   `json:"text,omitempty"`
	Size      int      `json:"size,omitempty"`
	Truncated bool     `json:"truncated,omitempty"`
	Reason    string   `json:"reason,omitempty"`
}

// Settled 响应体是否已有最终结果
func (b Body) Settled() bool {
	return b.Kind != BodyPending
}
