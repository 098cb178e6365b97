package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/carehub/pkg/apierror"
	"github.com/nao1215/carehub/pkg/httpclient"
	"github.com/nao1215/carehub/pkg/middleware"
)

// passThroughHeaders はクライアントから下流にそのまま渡すヘッダー。
var passThroughHeaders = []string{
	"Accept",
	"Accept-Language",
	"Authorization",
	"Content-Type",
	"If-None-Match",
	"User-Agent",
}

// handleProxy はリクエストを下流サービスに転送するハンドラを返す。
// 下流のパスとクエリは受信したものをそのまま使う。
func (s *Server) handleProxy(service string) gin.HandlerFunc {
	client := s.services[service]
	return func(c *gin.Context) {
		ctx := httpclient.WithTrustHeaders(c.Request.Context(), middleware.TrustHeaders(c))

		header := http.Header{}
		for _, h := range passThroughHeaders {
			if v := c.GetHeader(h); v != "" {
				header.Set(h, v)
			}
		}

		start := time.Now()
		resp, err := client.Forward(ctx, httpclient.Request{
			Method:   c.Request.Method,
			Path:     c.Request.URL.Path,
			RawQuery: c.Request.URL.RawQuery,
			Header:   header,
			Body:     c.Request.Body,
		})
		upstreamDuration.WithLabelValues(service).Observe(time.Since(start).Seconds())
		if err != nil {
			apierror.Abort(c, transportFailure(service, err))
			return
		}

		if resp.StatusCode >= http.StatusBadRequest {
			upstreamFailuresTotal.WithLabelValues(service, "status").Inc()
			apierror.Abort(c, upstreamError(resp.StatusCode, resp.Body).WithCause(&httpclient.StatusError{
				StatusCode: resp.StatusCode,
				Body:       resp.Body,
			}))
			return
		}
		writeUpstream(c, resp)
	}
}

// transportFailure は下流に到達できなかった場合のエラーを返す。
// 下流クライアントのエラーメッセージはクライアントに返さずログにだけ残す。
func transportFailure(service string, err error) *apierror.Error {
	details := gin.H{"service": service}
	switch {
	case errors.Is(err, httpclient.ErrTimeout):
		upstreamFailuresTotal.WithLabelValues(service, "timeout").Inc()
		return apierror.GatewayTimeout("下流サービスが時間内に応答しませんでした").WithDetails(details).WithCause(err)
	case errors.Is(err, httpclient.ErrUnavailable):
		upstreamFailuresTotal.WithLabelValues(service, "unavailable").Inc()
		return apierror.ServiceUnavailable("下流サービスを利用できません").WithDetails(details).WithCause(err)
	case errors.Is(err, httpclient.ErrResponseTooLarge):
		upstreamFailuresTotal.WithLabelValues(service, "too_large").Inc()
		return apierror.New(http.StatusBadGateway, apierror.CodeUpstream, "下流サービスのレスポンスが大きすぎます").
			WithDetails(details).WithCause(err)
	default:
		return apierror.Internal("下流サービスの呼び出しに失敗しました").WithCause(err)
	}
}

// upstreamError は下流のエラーレスポンスをゲートウェイのエラーに包み直す。
// ステータスコードは維持し、コード・メッセージ・詳細は取り出せたものだけ引き継ぐ。
func upstreamError(status int, body []byte) *apierror.Error {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(body, &probe); err != nil {
		return apierror.Upstream(status, "", "", nil)
	}

	// {"error": {"code", "message", "details"}}
	if raw, ok := probe["error"]; ok {
		var nested struct {
			Code    string `json:"code"`
			Message string `json:"message"`
			Details any    `json:"details"`
		}
		if json.Unmarshal(raw, &nested) == nil && (nested.Code != "" || nested.Message != "") {
			return apierror.Upstream(status, apierror.Code(nested.Code), nested.Message, stripDebugInfo(nested.Details))
		}
	}

	// {"code", "message", "details"}。messageは文字列の配列の場合もある
	var flat struct {
		Code    string          `json:"code"`
		Message json.RawMessage `json:"message"`
		Details any             `json:"details"`
	}
	_ = json.Unmarshal(body, &flat)
	message, details := parseMessage(flat.Message)
	if message == "" {
		// {"error": "not found"}
		message, _ = parseMessage(probe["error"])
	}
	if flat.Details != nil {
		details = stripDebugInfo(flat.Details)
	}
	return apierror.Upstream(status, apierror.Code(flat.Code), message, details)
}

// debugKeys は下流の詳細情報から取り除くキー。小文字で比較する。
var debugKeys = map[string]struct{}{
	"stack":       {},
	"stacktrace":  {},
	"stack_trace": {},
	"trace":       {},
	"exception":   {},
}

// stripDebugInfo は下流のdetailsからスタックトレースなどのデバッグ情報を取り除く。
// 取り除いた結果が空になった場合はnilを返す。
func stripDebugInfo(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if _, ok := debugKeys[strings.ToLower(k)]; ok {
				continue
			}
			out[k] = stripDebugInfo(val)
		}
		if len(out) == 0 {
			return nil
		}
		return out
	case []any:
		out := make([]any, 0, len(t))
		for _, val := range t {
			if val = stripDebugInfo(val); val != nil {
				out = append(out, val)
			}
		}
		return out
	default:
		return v
	}
}

// parseMessage はmessageフィールドを取り出す。
// 文字列の配列（バリデーションエラーの一覧）の場合は連結し、一覧をdetailsとして返す。
func parseMessage(raw json.RawMessage) (string, any) {
	if len(raw) == 0 {
		return "", nil
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s, nil
	}
	var list []string
	if json.Unmarshal(raw, &list) == nil && len(list) > 0 {
		return strings.Join(list, "; "), gin.H{"errors": list}
	}
	return "", nil
}

// writeUpstream は下流の成功レスポンスをエンベロープに包んで返す。
// JSONでないレスポンスはそのまま返す。
func writeUpstream(c *gin.Context, resp *httpclient.Response) {
	for _, h := range []string{"Cache-Control", "ETag", "Location"} {
		if v := resp.Header.Get(h); v != "" {
			c.Header(h, v)
		}
	}

	if resp.StatusCode == http.StatusNotModified || resp.StatusCode == http.StatusNoContent {
		c.Status(resp.StatusCode)
		return
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" || strings.Contains(contentType, "json") {
		if wrapped, ok := apierror.WrapBody(resp.Body, middleware.GetRequestID(c)); ok {
			c.Data(resp.StatusCode, "application/json; charset=utf-8", wrapped)
			return
		}
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Data(resp.StatusCode, contentType, resp.Body)
}
