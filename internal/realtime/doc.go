// Package realtime はWebSocket接続を管理し、サーバー発のイベントをルーム単位で配送するハブを提供する。
//
// ハンドシェイク時にHTTPと同じ検証処理でトークンを確認し、接続をユーザー・ロール・部署の
// ルームに自動参加させる。クライアントは subscribe:<resource> で追加のルームに参加できる。
// イベントはRedis Pub/Subの単一チャンネルを通じて全インスタンスに配られ、
// 各インスタンスは自分が受け付けた接続にだけ配送する。ルームの所属はインスタンス内の
// メモリにのみ保持し、他のインスタンスとは共有しない。
package realtime
