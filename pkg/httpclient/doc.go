// Package httpclient はゲートウェイから下流サービスへのHTTP通信を行うクライアントを提供する。
//
// プロキシ転送とヘルスチェックの両方で使用する。すべての呼び出しに上限時間を設け、
// 失敗はタイムアウトと到達不能の2種類に分類して返す。
// ゲートウェイは非冪等な呼び出しを自動で再試行しない。
package httpclient
