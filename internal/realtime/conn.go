package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/nao1215/carehub/pkg/apierror"
	"github.com/nao1215/carehub/pkg/auth"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBufferSize = 64
)

// state は接続の状態。
type state int

const (
	stateConnecting state = iota
	stateAuthenticated
	stateJoined
	stateClosed
)

// conn は1本のWebSocket接続。
type conn struct {
	id       string
	identity *auth.Identity
	ws       *websocket.Conn
	send     chan []byte
	inbound  *rate.Limiter
	logger   *zap.Logger

	// mu はstateとroomsを保護する。sendのクローズもmuを保持して行う。
	mu    sync.Mutex
	state state
	rooms map[string]struct{}
}

func (c *conn) setState(s state) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *conn) currentState() state {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// enqueueResult はenqueueの結果。
type enqueueResult int

const (
	enqueued enqueueResult = iota
	bufferFull
	connClosed
)

// enqueue はフレームを送信バッファに積む。満杯またはクローズ済みなら破棄する。
func (c *conn) enqueue(frame []byte) enqueueResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == stateClosed {
		return connClosed
	}
	select {
	case c.send <- frame:
		return enqueued
	default:
		return bufferFull
	}
}

// closeSend は接続をクローズ済みにして送信バッファを閉じる。2回目以降は何もしない。
func (c *conn) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == stateClosed {
		return
	}
	c.state = stateClosed
	close(c.send)
}

func (c *conn) sendEvent(name string, data any) {
	frame, err := encodeFrame(name, data)
	if err != nil {
		c.logger.Error("フレームのエンコードに失敗しました", zap.String("event", name), zap.Error(err))
		return
	}
	if c.enqueue(frame) == bufferFull {
		droppedTotal.Inc()
		c.logger.Warn("送信バッファが満杯のためフレームを破棄しました", zap.String("event", name))
	}
}

func (c *conn) sendError(code apierror.Code, msg string) {
	c.sendEvent(eventError, errorData{Code: string(code), Message: msg})
}

// writePump は送信バッファの内容を書き込み、定期的にpingを送る。
// sendが閉じられると接続をクローズして終了する。
func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger.Debug("書き込みに失敗しました", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump はクライアントからのフレームを読み、handleに渡す。
// 接続が切れるかエラーになると戻る。
func (c *conn) readPump(handle func(c *conn, msg message)) {
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("接続が予期せず切断されました", zap.Error(err))
			}
			return
		}
		if !c.inbound.Allow() {
			c.sendError(apierror.CodeRateLimited, "メッセージの送信頻度が高すぎます")
			continue
		}
		var msg message
		if err := json.Unmarshal(data, &msg); err != nil || msg.Event == "" {
			c.sendError(apierror.CodeBadRequest, "不正なメッセージです")
			continue
		}
		handle(c, msg)
	}
}
