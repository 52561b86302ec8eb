package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/tidwall/gjson"
)

// ErrMalformedFrame 入站帧无法解析
var ErrMalformedFrame = errors.New("malformed frame")

const (
	MethodNetworkEnable   = "Network.enable"
	MethodGetResponseBody = "Network.getResponseBody"

	EventRequestWillBeSent = "Network.requestWillBeSent"
	EventResponseReceived  = "Network.responseReceived"
	EventLoadingFinished   = "Network.loadingFinished"
	EventLoadingFailed     = "Network.loadingFailed"
)

// Kind 入站帧类型
type Kind int

const (
	KindEvent Kind = iota + 1
	KindReply
)

// RPCError 命令回复中的错误对象
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	if e.Data != "" {
		return fmt.Sprintf("rpc error %d: %s (%s)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Frame 解码后的入站帧：事件 {method, params} 或回复 {id, result|error}
type Frame struct {
	Kind   Kind
	ID     int64
	Method string
	Params []byte
	Result []byte
	Error  *RPCError
}

// Decode 解析一帧；无法识别的内容返回 ErrMalformedFrame
func Decode(b []byte) (Frame, error) {
	if !gjson.ValidBytes(b) {
		return Frame{}, fmt.Errorf("%w: invalid json", ErrMalformedFrame)
	}
	root := gjson.ParseBytes(b)
	if !root.IsObject() {
		return Frame{}, fmt.Errorf("%w: not an object", ErrMalformedFrame)
	}

	id := root.Get("id")
	if id.Exists() {
		if id.Type != gjson.Number {
			return Frame{}, fmt.Errorf("%w: non-numeric id %s", ErrMalformedFrame, id.Raw)
		}
		f := Frame{Kind: KindReply, ID: id.Int()}
		if res := root.Get("result"); res.Exists() {
			f.Result = []byte(res.Raw)
		}
		if e := root.Get("error"); e.Exists() {
			var rpcErr RPCError
			if err := json.Unmarshal([]byte(e.Raw), &rpcErr); err != nil {
				return Frame{}, fmt.Errorf("%w: bad error object: %v", ErrMalformedFrame, err)
			}
			f.Error = &rpcErr
		}
		return f, nil
	}

	method := root.Get("method")
	if method.Type != gjson.String || method.Str == "" {
		return Frame{}, fmt.Errorf("%w: neither reply nor event", ErrMalformedFrame)
	}
	f := Frame{Kind: KindEvent, Method: method.Str}
	if p := root.Get("params"); p.Exists() {
		f.Params = []byte(p.Raw)
	}
	return f, nil
}

// Command 出站命令
type Command struct {
	ID     int64  `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

// Encode 编码出站命令
func Encode(id int64, method string, params any) ([]byte, error) {
	b, err := json.Marshal(Command{ID: id, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", method, err)
	}
	return b, nil
}

// Sequence 会话级单调递增的命令 ID，所有出站命令共用，保证不会重复
type Sequence struct {
	n atomic.Int64
}

// Next 返回下一个 ID（从 1 开始）
func (s *Sequence) Next() int64 {
	return s.n.Add(1)
}
