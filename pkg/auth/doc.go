// Package auth はゲートウェイの認証・認可ロジックを提供する。
//
// トークンの発行（Issuer）、Bearerトークンの検証と失効確認（Validator）、
// ルートごとのロール・パーミッション判定（Authorize）を含む。
// HTTPリクエストとWebSocketハンドシェイクの両方から同じ検証処理を使う。
package auth
