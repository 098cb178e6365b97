package apierror

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
)

// Code はクライアントに公開するエラーコード。
type Code string

const (
	CodeBadRequest         Code = "BAD_REQUEST"
	CodeUnauthorized       Code = "UNAUTHORIZED"
	CodeForbidden          Code = "FORBIDDEN"
	CodeNotFound           Code = "NOT_FOUND"
	CodeConflict           Code = "CONFLICT"
	CodeValidation         Code = "VALIDATION_ERROR"
	CodeRateLimited        Code = "RATE_LIMITED"
	CodeInternal           Code = "INTERNAL_ERROR"
	CodeServiceUnavailable Code = "SERVICE_UNAVAILABLE"
	CodeGatewayTimeout     Code = "GATEWAY_TIMEOUT"
	CodeUpstream           Code = "UPSTREAM_ERROR"
)

// Error はゲートウェイが扱うエラー。
// Status と Code と Message がそのままクライアント向けエンベロープになる。
// cause はログ出力専用で、クライアントには返さない。
type Error struct {
	// Status はHTTPステータスコード。
	Status int
	// Code はクライアント向けのエラーコード。
	Code Code
	// Message はクライアント向けのメッセージ。
	Message string
	// Details は任意の補足情報。
	Details any

	cause error
	stack []byte
}

// New は新しいErrorを生成する。
func New(status int, code Code, message string) *Error {
	return &Error{Status: status, Code: code, Message: message}
}

// Error はerrorインターフェースを実装する。
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s (%d): %s: %v", e.Code, e.Status, e.Message, e.cause)
	}
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

// Unwrap は原因となったエラーを返す。
func (e *Error) Unwrap() error {
	return e.cause
}

// Stack はエラー生成時に記録したスタックトレースを返す。記録がなければnil。
func (e *Error) Stack() []byte {
	return e.stack
}

// WithCause は原因エラーを付与したコピーを返す。
func (e *Error) WithCause(err error) *Error {
	cp := *e
	cp.cause = err
	return &cp
}

// WithDetails は補足情報を付与したコピーを返す。
func (e *Error) WithDetails(details any) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

// WithStack はスタックトレースを付与したコピーを返す。
func (e *Error) WithStack(stack []byte) *Error {
	cp := *e
	cp.stack = stack
	return &cp
}

// BadRequest は400エラーを生成する。
func BadRequest(message string) *Error {
	return New(http.StatusBadRequest, CodeBadRequest, message)
}

// Unauthorized は401エラーを生成する。
func Unauthorized(message string) *Error {
	return New(http.StatusUnauthorized, CodeUnauthorized, message)
}

// Forbidden は403エラーを生成する。
func Forbidden(message string) *Error {
	return New(http.StatusForbidden, CodeForbidden, message)
}

// NotFound は404エラーを生成する。
func NotFound(message string) *Error {
	return New(http.StatusNotFound, CodeNotFound, message)
}

// RateLimited は429エラーを生成する。
func RateLimited(message string) *Error {
	return New(http.StatusTooManyRequests, CodeRateLimited, message)
}

// Internal は500エラーを生成する。
func Internal(message string) *Error {
	return New(http.StatusInternalServerError, CodeInternal, message)
}

// ServiceUnavailable は503エラーを生成する。
func ServiceUnavailable(message string) *Error {
	return New(http.StatusServiceUnavailable, CodeServiceUnavailable, message)
}

// GatewayTimeout は504エラーを生成する。
func GatewayTimeout(message string) *Error {
	return New(http.StatusGatewayTimeout, CodeGatewayTimeout, message)
}

// Upstream は下流サービスが返したエラーを包み直す。
// ステータスコードは下流のものを維持する。codeが空の場合はステータスから導出する。
func Upstream(status int, code Code, message string, details any) *Error {
	if code == "" {
		code = CodeForStatus(status)
	}
	if message == "" {
		message = http.StatusText(status)
	}
	return &Error{Status: status, Code: code, Message: message, Details: details}
}

// CodeForStatus は下流のHTTPステータスに対応するエラーコードを返す。
func CodeForStatus(status int) Code {
	switch status {
	case http.StatusBadRequest:
		return CodeBadRequest
	case http.StatusUnauthorized:
		return CodeUnauthorized
	case http.StatusForbidden:
		return CodeForbidden
	case http.StatusNotFound:
		return CodeNotFound
	case http.StatusConflict:
		return CodeConflict
	case http.StatusUnprocessableEntity:
		return CodeValidation
	case http.StatusTooManyRequests:
		return CodeRateLimited
	default:
		return CodeUpstream
	}
}

// From は任意のエラーを*Errorに変換する。
// *Errorを含まないエラーはINTERNAL_ERRORとなり、元のメッセージは公開しない。
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal("内部サーバーエラーが発生しました").WithCause(err).WithStack(debug.Stack())
}

// Abort はエラーをGinコンテキストに登録して後続のハンドラを中断する。
// レスポンスの書き込みはmiddleware.ErrorHandlerが行う。
func Abort(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}
