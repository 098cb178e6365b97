package httpclient

import (
	"context"
	"net/http"
)

// contextKey はコンテキストキーの型。
type contextKey string

// contextKeyTrustHeaders はコンテキストに信頼ヘッダーを格納するためのキー。
const contextKeyTrustHeaders contextKey = "trust_headers"

// WithTrustHeaders はコンテキストに信頼ヘッダーを設定する。
// 下流サービスへの呼び出し時にユーザー情報と相関IDを伝播するために使用する。
func WithTrustHeaders(ctx context.Context, h http.Header) context.Context {
	return context.WithValue(ctx, contextKeyTrustHeaders, h.Clone())
}

// TrustHeadersFrom はコンテキストに設定された信頼ヘッダーを返す。
func TrustHeadersFrom(ctx context.Context) http.Header {
	h, _ := ctx.Value(contextKeyTrustHeaders).(http.Header)
	return h
}

func applyTrustHeaders(ctx context.Context, req *http.Request) {
	for k, vs := range TrustHeadersFrom(ctx) {
		req.Header.Del(k)
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
}
