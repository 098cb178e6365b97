// Package middleware はゲートウェイのリクエストパイプラインを構成するGinミドルウェアを提供する。
//
// 相関IDの付与、アクセスログ、エラーレスポンスの整形、パニックリカバリ、CORSといった
// 全ルート共通のミドルウェアと、認証・認可・レート制限といったルートごとのポリシーに
// 従うミドルウェアを含む。ルートごとのミドルウェアは Chain で決まった順序に並べる。
package middleware
