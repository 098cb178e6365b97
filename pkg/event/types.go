// Package event はゲートウェイインスタンス間でPub/Sub経由で配送するブロードキャストイベントを定義する。
package event

import (
	"encoding/json"
	"time"
)

// Name はクライアントに送るイベント名。
type Name string

const (
	// NameNotification はユーザー向けの通知。
	NameNotification Name = "notification"
	// NameAppointmentUpdated は予約が更新されたことを表す。
	NameAppointmentUpdated Name = "appointment:updated"
	// NamePatientUpdated は患者情報が更新されたことを表す。
	NamePatientUpdated Name = "patient:updated"
	// NameInvoiceUpdated は請求書が更新されたことを表す。
	NameInvoiceUpdated Name = "invoice:updated"
)

// Envelope はPub/Subで運ぶブロードキャストメッセージ。
// Roomが空の場合はネームスペース内の全接続に配送する。
// 永続化されず、配送は公開時点で購読しているインスタンスに対するベストエフォートに限られる。
type Envelope struct {
	// ID はエンベロープの一意識別子（UUID）。
	ID string `json:"id"`
	// Event はクライアントに送るイベント名。
	Event Name `json:"event"`
	// Room は配送先のルーム名。
	Room string `json:"room,omitempty"`
	// Payload はイベント固有のデータ（JSON形式）。
	Payload json.RawMessage `json:"payload"`
	// Origin は公開したゲートウェイインスタンスのID。
	Origin string `json:"origin,omitempty"`
	// CorrelationID は公開元リクエストの相関ID。
	CorrelationID string `json:"correlationId,omitempty"`
	// CreatedAt はエンベロープの生成日時。
	CreatedAt time.Time `json:"createdAt"`
}

// UpdatedData は <resource>:updated イベントのデータ。
type UpdatedData struct {
	// ID は更新されたリソースのID。
	ID string `json:"id"`
	// Status は更新後の状態。
	Status string `json:"status,omitempty"`
	// Changes は変更された項目。
	Changes map[string]any `json:"changes,omitempty"`
}

// NotificationData は notification イベントのデータ。
type NotificationData struct {
	// UserID は通知先のユーザーID。
	UserID string `json:"userId"`
	// Title は通知のタイトル。
	Title string `json:"title"`
	// Message は通知メッセージ。
	Message string `json:"message"`
}
