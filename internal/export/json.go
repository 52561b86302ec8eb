package export

import (
	"encoding/json"
	"fmt"
	"time"

	"cdpnetmon/pkg/domain"
	"cdpnetmon/pkg/traffic"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Document 生成自描述的 JSON 快照：timestamp、selection、count、requests。
// 合法 JSON 的请求体和响应体原样内联，其余文本按字符串写入，二进制响应体只写标记。
func Document(recs []domain.RequestRecord, sel domain.Selection, now time.Time) ([]byte, error) {
	if !sel.Valid() {
		return nil, fmt.Errorf("unknown selection %q", sel)
	}
	doc := []byte(`{}`)
	var err error
	if doc, err = sjson.SetBytes(doc, "timestamp", now.UTC().Format(time.RFC3339Nano)); err != nil {
		return nil, err
	}
	if doc, err = sjson.SetBytes(doc, "selection", string(sel)); err != nil {
		return nil, err
	}
	if doc, err = sjson.SetBytes(doc, "count", len(recs)); err != nil {
		return nil, err
	}
	if doc, err = sjson.SetRawBytes(doc, "requests", []byte(`[]`)); err != nil {
		return nil, err
	}
	for i := range recs {
		raw, err := Record(recs[i])
		if err != nil {
			return nil, err
		}
		if doc, err = sjson.SetRawBytes(doc, "requests.-1", raw); err != nil {
			return nil, fmt.Errorf("append %s: %w", recs[i].ID, err)
		}
	}
	return doc, nil
}

// Record 单条记录的导出形式
func Record(rec domain.RequestRecord) ([]byte, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", rec.ID, err)
	}
	if rec.RequestBody != nil {
		if raw, err = setText(raw, "requestBody", *rec.RequestBody); err != nil {
			return nil, err
		}
	}
	return setBody(raw, rec.ResponseBody)
}

func setBody(raw []byte, body traffic.Body) ([]byte, error) {
	switch body.Kind {
	case traffic.BodyText:
		out, err := setText(raw, "responseBody", body.Text)
		if err != nil || !body.Truncated {
			return out, err
		}
		return sjson.SetBytes(out, "responseBodyTruncated", true)
	case traffic.BodyNone:
		return sjson.DeleteBytes(raw, "responseBody")
	default:
		marker := map[string]any{"kind": string(body.Kind)}
		if body.Size > 0 {
			marker["size"] = body.Size
		}
		if body.Reason != "" {
			marker["reason"] = body.Reason
		}
		return sjson.SetBytes(raw, "responseBody", marker)
	}
}

func setText(raw []byte, path, text string) ([]byte, error) {
	if looksJSON(text) {
		return sjson.SetRawBytes(raw, path, []byte(text))
	}
	return sjson.SetBytes(raw, path, text)
}

// looksJSON 只内联对象和数组
func looksJSON(s string) bool {
	if !gjson.Valid(s) {
		return false
	}
	r := gjson.Parse(s)
	return r.IsObject() || r.IsArray()
}
