package apierror

import (
	"encoding/json"
	"time"
)

// Envelope はクライアントに返す全レスポンスの共通形式。
type Envelope struct {
	// Success は処理が成功したかどうか。
	Success bool `json:"success"`
	// Data は成功時のペイロード。
	Data any `json:"data,omitempty"`
	// Error は失敗時のエラー本体。
	Error *Body `json:"error,omitempty"`
	// Meta はレスポンスのメタ情報。
	Meta Meta `json:"meta"`
}

// Body はエンベロープ内のエラー本体。
type Body struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Meta はエンベロープ内のメタ情報。
type Meta struct {
	// Timestamp はレスポンス生成時刻（RFC3339形式）。
	Timestamp string `json:"timestamp"`
	// RequestID はゲートウェイが払い出したリクエストID。
	RequestID string `json:"requestId"`
	// Pagination は下流サービスが返したページング情報。
	Pagination any `json:"pagination,omitempty"`
}

// Success は成功レスポンスのエンベロープを生成する。
func Success(data any, requestID string) Envelope {
	return Envelope{
		Success: true,
		Data:    data,
		Meta:    newMeta(requestID),
	}
}

// Failure はエラーレスポンスのエンベロープを生成する。
func Failure(e *Error, requestID string) Envelope {
	return Envelope{
		Success: false,
		Error: &Body{
			Code:    e.Code,
			Message: e.Message,
			Details: e.Details,
		},
		Meta: newMeta(requestID),
	}
}

func newMeta(requestID string) Meta {
	return Meta{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		RequestID: requestID,
	}
}

// WrapBody は下流サービスの成功レスポンスボディをエンベロープに包む。
// ボディがすでにエンベロープ形式の場合はメタ情報だけを補完して返す。
// JSONでないボディは包まずにokをfalseで返す。
func WrapBody(body []byte, requestID string) (wrapped []byte, ok bool) {
	if len(body) == 0 {
		out, err := json.Marshal(Success(nil, requestID))
		return out, err == nil
	}
	if !json.Valid(body) {
		return nil, false
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(body, &probe); err == nil && isEnvelope(probe) {
		meta := newMeta(requestID)
		if raw, found := probe["meta"]; found {
			var existing map[string]json.RawMessage
			if json.Unmarshal(raw, &existing) == nil {
				if p, has := existing["pagination"]; has {
					meta.Pagination = p
				}
			}
		}
		metaRaw, err := json.Marshal(meta)
		if err != nil {
			return nil, false
		}
		probe["meta"] = metaRaw
		out, err := json.Marshal(probe)
		return out, err == nil
	}

	env := Success(json.RawMessage(body), requestID)
	if probe != nil {
		// 下流の {data, pagination} 形式はページング情報をメタに移す
		if p, has := probe["pagination"]; has {
			if d, hasData := probe["data"]; hasData {
				env.Data = d
				env.Meta.Pagination = p
			}
		}
	}
	out, err := json.Marshal(env)
	return out, err == nil
}

func isEnvelope(m map[string]json.RawMessage) bool {
	raw, ok := m["success"]
	if !ok {
		return false
	}
	var b bool
	if json.Unmarshal(raw, &b) != nil {
		return false
	}
	_, hasData := m["data"]
	_, hasErr := m["error"]
	return hasData || hasErr
}
