// Package gateway はAPI Gatewayサービスの内部実装を提供する。
//
// 外部からアクセス可能な唯一のサービスであり、セキュリティの境界線として機能する。
// すべてのリクエストは相関ID付与、トークン検証、アクセス判定、レート制限の順に処理され、
// 許可されたものだけが信頼ヘッダー付きで下流サービスに転送される。
// 下流の応答は共通のエンベロープ形式に包み直して返す。
// WebSocket接続はinternal/realtimeのハブに引き渡す。
package gateway
