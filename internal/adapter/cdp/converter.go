package cdp

import (
	"encoding/json"
	"fmt"

	"cdpnetmon/internal/ledger"
	"cdpnetmon/internal/protocol"
	"cdpnetmon/pkg/domain"
	"cdpnetmon/pkg/traffic"

	"github.com/mafredri/cdp/protocol/network"
	"github.com/tidwall/gjson"
)

// ToRequestStarted 将 Network.requestWillBeSent 参数转换为中立事件
func ToRequestStarted(params []byte) (ledger.RequestStarted, error) {
	var ev network.RequestWillBeSentReply
	if err := json.Unmarshal(params, &ev); err != nil {
		return ledger.RequestStarted{}, fmt.Errorf("%w: requestWillBeSent: %v", protocol.ErrMalformedFrame, err)
	}
	if ev.RequestID == "" {
		return ledger.RequestStarted{}, fmt.Errorf("%w: requestWillBeSent without requestId", protocol.ErrMalformedFrame)
	}
	headers := ToHeader(ev.Request.Headers)
	out := ledger.RequestStarted{
		ID:           domain.RequestID(ev.RequestID),
		Method:       ev.Request.Method,
		URL:          ev.Request.URL,
		ResourceType: string(ev.Type),
		Initiator:    domain.Initiator{Type: string(ev.Initiator.Type), URL: gjson.GetBytes(params, "initiator.url").String()},
		Headers:      headers,
		Cookies:      protocol.ParseCookie(headers.Get("cookie")),
		Body:         ev.Request.PostData,
	}
	if out.ResourceType == "" {
		out.ResourceType = "Other"
	}
	if ev.RedirectResponse != nil {
		out.Redirect = &domain.Redirect{URL: ev.RedirectResponse.URL, Status: ev.RedirectResponse.Status}
	}
	return out, nil
}

// ToResponseReceived 将 Network.responseReceived 参数转换为中立事件
func ToResponseReceived(params []byte) (ledger.ResponseReceived, error) {
	var ev network.ResponseReceivedReply
	if err := json.Unmarshal(params, &ev); err != nil {
		return ledger.ResponseReceived{}, fmt.Errorf("%w: responseReceived: %v", protocol.ErrMalformedFrame, err)
	}
	if ev.RequestID == "" {
		return ledger.ResponseReceived{}, fmt.Errorf("%w: responseReceived without requestId", protocol.ErrMalformedFrame)
	}
	headers := ToHeader(ev.Response.Headers)
	return ledger.ResponseReceived{
		ID:           domain.RequestID(ev.RequestID),
		ResourceType: string(ev.Type),
		Status:       ev.Response.Status,
		StatusText:   ev.Response.StatusText,
		MimeType:     ev.Response.MimeType,
		Headers:      headers,
		Cookies:      protocol.ParseSetCookie(headers.Get("set-cookie")),
	}, nil
}

// ToLoadingFinished 将 Network.loadingFinished 参数转换为中立事件
func ToLoadingFinished(params []byte) (ledger.LoadingFinished, error) {
	var ev network.LoadingFinishedReply
	if err := json.Unmarshal(params, &ev); err != nil {
		return ledger.LoadingFinished{}, fmt.Errorf("%w: loadingFinished: %v", protocol.ErrMalformedFrame, err)
	}
	if ev.RequestID == "" {
		return ledger.LoadingFinished{}, fmt.Errorf("%w: loadingFinished without requestId", protocol.ErrMalformedFrame)
	}
	return ledger.LoadingFinished{ID: domain.RequestID(ev.RequestID), Size: int64(ev.EncodedDataLength)}, nil
}

// ToLoadingFailed 将 Network.loadingFailed 参数转换为中立事件
func ToLoadingFailed(params []byte) (ledger.LoadingFailed, error) {
	var ev network.LoadingFailedReply
	if err := json.Unmarshal(params, &ev); err != nil {
		return ledger.LoadingFailed{}, fmt.Errorf("%w: loadingFailed: %v", protocol.ErrMalformedFrame, err)
	}
	if ev.RequestID == "" {
		return ledger.LoadingFailed{}, fmt.Errorf("%w: loadingFailed without requestId", protocol.ErrMalformedFrame)
	}
	out := ledger.LoadingFailed{
		ID:           domain.RequestID(ev.RequestID),
		ResourceType: string(ev.Type),
		ErrorText:    ev.ErrorText,
	}
	if ev.Canceled != nil {
		out.Canceled = *ev.Canceled
	}
	return out, nil
}

// ToBodyReply 解析 Network.getResponseBody 的回复
func ToBodyReply(result []byte) (network.GetResponseBodyReply, error) {
	var reply network.GetResponseBodyReply
	if err := json.Unmarshal(result, &reply); err != nil {
		return reply, fmt.Errorf("%w: getResponseBody: %v", protocol.ErrMalformedFrame, err)
	}
	return reply, nil
}

// ToHeader 将 CDP Headers 转换为中立 Header
func ToHeader(h network.Headers) traffic.Header {
	out := make(traffic.Header)
	if len(h) == 0 {
		return out
	}
	var raw map[string]any
	if err := json.Unmarshal(h, &raw); err != nil {
		return out
	}
	for k, v := range raw {
		switch x := v.(type) {
		case string:
			out.Set(k, x)
		default:
			out.Set(k, fmt.Sprint(x))
		}
	}
	return out
}
