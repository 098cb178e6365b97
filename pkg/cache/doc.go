// Package cache はインスタンス間で共有するRedis上の状態を扱う。
//
// ゲートウェイ自身はステートレスであり、複数インスタンス間で共有される
// 可変状態はこのパッケージが扱うキーだけに限られる。
// 失効リストとWebSocketセッションの登録はいずれも単一のトランザクションで更新する。
package cache
