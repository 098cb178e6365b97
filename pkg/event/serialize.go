package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// New は新しいエンベロープを生成する。
// payloadにはイベント固有のデータ構造体を渡す。JSON形式にシリアライズされる。
func New(name Name, room string, payload any) (*Envelope, error) {
	if name == "" {
		return nil, errors.New("イベント名が空です")
	}
	var raw json.RawMessage
	switch p := payload.(type) {
	case json.RawMessage:
		raw = p
	case []byte:
		raw = p
	default:
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("イベントデータのシリアライズに失敗: %w", err)
		}
		raw = b
	}
	if len(raw) == 0 {
		raw = json.RawMessage("null")
	}
	if !json.Valid(raw) {
		return nil, errors.New("イベントデータがJSONではありません")
	}

	return &Envelope{
		ID:        uuid.New().String(),
		Event:     name,
		Room:      room,
		Payload:   raw,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Encode はエンベロープをPub/Subで送るバイト列に変換する。
func Encode(e *Envelope) ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("エンベロープのシリアライズに失敗: %w", err)
	}
	return b, nil
}

// Decode はPub/Subで受け取ったバイト列をエンベロープに戻す。
func Decode(b []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, fmt.Errorf("エンベロープのデシリアライズに失敗: %w", err)
	}
	if e.Event == "" {
		return nil, errors.New("イベント名のないエンベロープです")
	}
	return &e, nil
}

// DecodePayload はエンベロープのPayloadを指定された型にデシリアライズする。
func DecodePayload[T any](e *Envelope) (*T, error) {
	var data T
	if err := json.Unmarshal(e.Payload, &data); err != nil {
		return nil, fmt.Errorf("イベントデータのデシリアライズに失敗: %w", err)
	}
	return &data, nil
}
