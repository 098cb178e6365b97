package realtime

import (
	"encoding/json"
	"strings"
	"time"
)

// クライアントとの間で使うイベント名。
const (
	eventConnected    = "connected"
	eventError        = "error"
	eventSubscribed   = "subscribed"
	eventUnsubscribed = "unsubscribed"

	subscribePrefix   = "subscribe:"
	unsubscribePrefix = "unsubscribe:"
)

// message はWebSocket上でやり取りするフレーム。
type message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// connectedData は接続確立時に送るデータ。
type connectedData struct {
	SocketID      string `json:"socketId"`
	UserID        string `json:"userId"`
	CorrelationID string `json:"correlationId"`
	Timestamp     string `json:"timestamp"`
}

// subscriptionData はsubscribe/unsubscribeの要求と応答のデータ。
type subscriptionData struct {
	Room string `json:"room,omitempty"`
	ID   string `json:"id"`
}

// errorData はerrorイベントのデータ。
type errorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Reason  string `json:"reason,omitempty"`
}

// ルーム名。
func userRoom(userID string) string {
	return "user:" + userID
}

func roleRoom(role string) string {
	return "role:" + role
}

func departmentRoom(departmentID string) string {
	return "department:" + departmentID
}

func resourceRoom(resource, id string) string {
	return resource + ":" + id
}

func encodeFrame(name string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(message{Event: name, Data: raw})
}

func newConnectedData(socketID, userID, correlationID string, now time.Time) connectedData {
	return connectedData{
		SocketID:      socketID,
		UserID:        userID,
		CorrelationID: correlationID,
		Timestamp:     now.UTC().Format(time.RFC3339),
	}
}

// parseSubscription は subscribe:<resource> / unsubscribe:<resource> を解釈する。
func parseSubscription(eventName string) (resource string, subscribe bool, ok bool) {
	if r, found := strings.CutPrefix(eventName, subscribePrefix); found && r != "" {
		return r, true, true
	}
	if r, found := strings.CutPrefix(eventName, unsubscribePrefix); found && r != "" {
		return r, false, true
	}
	return "", false, false
}
