// Package ratelimit はRedisのソート済みセットを使ったスライディングウィンドウ方式のレート制限を提供する。
//
// 古いエントリの削除、件数の確認、新しいエントリの追加はLuaスクリプトとして
// Redis上で一括実行されるため、複数のゲートウェイインスタンスが同じ識別子に
// 同時にアクセスしても上限を超えて許可することはない。
package ratelimit
