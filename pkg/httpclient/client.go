package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// DefaultTimeout は下流呼び出しの既定の上限時間。
const DefaultTimeout = 30 * time.Second

// DefaultMaxResponseBytes は下流レスポンスとして読み込む既定の最大サイズ。
const DefaultMaxResponseBytes = 32 << 20

// 下流呼び出しの失敗分類。
var (
	// ErrTimeout は上限時間内に応答がなかったことを表す。
	ErrTimeout = errors.New("下流サービスが時間内に応答しませんでした")
	// ErrUnavailable は下流サービスに到達できなかったことを表す。
	ErrUnavailable = errors.New("下流サービスに接続できませんでした")
	// ErrResponseTooLarge は下流レスポンスが上限サイズを超えたことを表す。
	ErrResponseTooLarge = errors.New("下流サービスのレスポンスが大きすぎます")
)

// Client は下流サービス1つに対するHTTPクライアント。
type Client struct {
	// httpClient は内部で使用するHTTPクライアント。
	httpClient *http.Client
	// baseURL は接続先サービスのベースURL。
	baseURL string
	// timeout は1回の呼び出しの上限時間。
	timeout time.Duration
	// maxResponseBytes は読み込むレスポンスボディの上限。
	maxResponseBytes int64
}

// Option はClientの設定を変更する。
type Option func(*Client)

// WithTimeout は呼び出しの上限時間を設定する。
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithMaxResponseBytes はレスポンスボディの上限サイズを設定する。
func WithMaxResponseBytes(n int64) Option {
	return func(c *Client) { c.maxResponseBytes = n }
}

// WithTransport は内部で使うhttp.RoundTripperを差し替える。
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) { c.httpClient.Transport = rt }
}

// New は新しいHTTPクライアントを生成する。
// baseURLには接続先サービスのベースURL（例: "http://patient-service:3002"）を指定する。
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{
			// リダイレクトは追従せずクライアントに返す
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		baseURL:          baseURL,
		timeout:          DefaultTimeout,
		maxResponseBytes: DefaultMaxResponseBytes,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.httpClient.Timeout = c.timeout
	return c
}

// BaseURL は接続先サービスのベースURLを返す。
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Request はプロキシ転送するリクエスト。
type Request struct {
	Method   string
	Path     string
	RawQuery string
	Header   http.Header
	Body     io.Reader
}

// Response は下流サービスのレスポンス。Bodyは読み込み済み。
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Forward はリクエストを下流サービスにそのまま転送する。
// コンテキストに設定された信頼ヘッダーはリクエストのヘッダーより優先される。
// 失敗時はErrTimeout、ErrUnavailable、ErrResponseTooLargeのいずれかをラップしたエラーを返す。
func (c *Client) Forward(ctx context.Context, r Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	url := c.baseURL + r.Path
	if r.RawQuery != "" {
		url += "?" + r.RawQuery
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, url, r.Body)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗: %w", err)
	}
	for k, vs := range r.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	applyTrustHeaders(ctx, req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classify(ctx, err)
	}
	defer resp.Body.Close()

	// 上限を1バイト超えて読み、切り詰めたボディを返さないようにする
	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxResponseBytes+1))
	if err != nil {
		return nil, classify(ctx, err)
	}
	if int64(len(body)) > c.maxResponseBytes {
		return nil, fmt.Errorf("%w: 上限 %d バイト", ErrResponseTooLarge, c.maxResponseBytes)
	}
	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}

// GetJSON は指定パスにGETリクエストを送信する。
// レスポンスボディをresultにデシリアライズする。
func (c *Client) GetJSON(ctx context.Context, path string, result any) error {
	return c.doJSON(ctx, http.MethodGet, path, nil, result)
}

// doJSON はJSON形式のHTTPリクエストを実行する共通処理。
func (c *Client) doJSON(ctx context.Context, method, path string, body any, result any) error {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("リクエストボディのシリアライズに失敗: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set("Accept", "application/json")

	resp, err := c.Forward(ctx, Request{Method: method, Path: path, Header: header, Body: bodyReader})
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{StatusCode: resp.StatusCode, Body: resp.Body}
	}

	if result != nil && len(resp.Body) > 0 {
		if err := json.Unmarshal(resp.Body, result); err != nil {
			return fmt.Errorf("レスポンスボディのデシリアライズに失敗: %w", err)
		}
	}
	return nil
}

// StatusError は下流サービスが2xx以外を返したことを表す。
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTPエラー: status=%d, body=%s", e.StatusCode, string(e.Body))
}

// classify は転送時のエラーをタイムアウトと到達不能に分類する。
func classify(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("呼び出し元がリクエストを取り消しました: %w", err)
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
