// Package apierror はゲートウェイがクライアントに返すエラーの分類とレスポンス形式を提供する。
//
// 内部で発生したあらゆるエラーは *Error に変換されてからクライアントに返される。
// HTTPクライアントライブラリのエラーやスタックトレースがそのまま外部に漏れることはない。
package apierror
