package bodyfetch

import (
	"errors"
	"strings"
	"unicode/utf8"

	"cdpnetmon/internal/protocol"
	"cdpnetmon/pkg/domain"
	"cdpnetmon/pkg/traffic"

	"github.com/mafredri/cdp/protocol/network"
)

// ErrUnknownCorrelation 回复对应的令牌已不在等待集合中
var ErrUnknownCorrelation = errors.New("unknown correlation token")

// Correlator 为每次响应体获取分配唯一令牌，并在回复到达时映射回原始请求
//
// 令牌来自会话级 Sequence，与请求 ID 无关，不会出现两个请求共用令牌。
// 非并发安全，只在事件循环上使用。
type Correlator struct {
	seq     *protocol.Sequence
	waiting map[int64]domain.RequestID
}

// New 创建关联器
func New(seq *protocol.Sequence) *Correlator {
	if seq == nil {
		seq = &protocol.Sequence{}
	}
	return &Correlator{seq: seq, waiting: make(map[int64]domain.RequestID)}
}

// Issue 登记一次获取并返回令牌与待发送的命令帧
func (c *Correlator) Issue(id domain.RequestID) (int64, []byte, error) {
	token := c.seq.Next()
	frame, err := protocol.Encode(token, protocol.MethodGetResponseBody, network.NewGetResponseBodyArgs(network.RequestID(id)))
	if err != nil {
		return 0, nil, err
	}
	c.waiting[token] = id
	return token, frame, nil
}

// Resolve 查找并移除令牌
func (c *Correlator) Resolve(token int64) (domain.RequestID, error) {
	id, ok := c.waiting[token]
	if !ok {
		return "", ErrUnknownCorrelation
	}
	delete(c.waiting, token)
	return id, nil
}

// Owns 令牌是否仍在等待
func (c *Correlator) Owns(token int64) bool {
	_, ok := c.waiting[token]
	return ok
}

// Abandon 清空等待集合，返回被放弃的请求 ID
func (c *Correlator) Abandon() []domain.RequestID {
	if len(c.waiting) == 0 {
		return nil
	}
	ids := make([]domain.RequestID, 0, len(c.waiting))
	for _, id := range c.waiting {
		ids = append(ids, id)
	}
	c.waiting = make(map[int64]domain.RequestID)
	return ids
}

// Pending 等待中的获取数
func (c *Correlator) Pending() int {
	return len(c.waiting)
}

// DecodeBody 将回复转换为响应体：base64 标记为不透明，非 UTF-8 同样不解码，超长文本截断
func DecodeBody(reply network.GetResponseBodyReply, maxSize int) traffic.Body {
	if reply.Base64Encoded {
		return traffic.Body{Kind: traffic.BodyOpaque, Size: decodedLen(reply.Body)}
	}
	if !utf8.ValidString(reply.Body) {
		return traffic.Body{Kind: traffic.BodyOpaque, Size: len(reply.Body)}
	}
	body := traffic.Body{Kind: traffic.BodyText, Text: reply.Body, Size: len(reply.Body)}
	if maxSize > 0 && len(reply.Body) > maxSize {
		cut := maxSize
		for cut > 0 && !utf8.RuneStart(reply.Body[cut]) {
			cut--
		}
		body.Text = reply.Body[:cut]
		body.Truncated = true
	}
	return body
}

// Unavailable 获取失败时的占位
func Unavailable(reason string) traffic.Body {
	return traffic.Body{Kind: traffic.BodyUnavailable, Reason: reason}
}

func decodedLen(s string) int {
	s = strings.TrimRight(s, "=")
	return len(s) * 3 / 4
}
