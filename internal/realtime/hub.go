package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/nao1215/carehub/pkg/apierror"
	"github.com/nao1215/carehub/pkg/auth"
	"github.com/nao1215/carehub/pkg/cache"
	"github.com/nao1215/carehub/pkg/event"
	"github.com/nao1215/carehub/pkg/logging"
	"github.com/nao1215/carehub/pkg/middleware"
)

// 受信メッセージのレート制限の既定値。
const (
	DefaultInboundRate  = 20
	DefaultInboundBurst = 40
)

// ErrNotStarted はStartより前に購読状態を問い合わせたことを表す。
var ErrNotStarted = errors.New("ハブが開始されていません")

// TokenValidator はハンドシェイク時のトークンを検証する。
type TokenValidator interface {
	Validate(ctx context.Context, token string, public bool) (*auth.Identity, error)
}

// SessionStore は接続をインスタンス外に登録する。
type SessionStore interface {
	Register(ctx context.Context, s cache.Session) error
	Unregister(ctx context.Context, socketID, userID string) error
}

// Config はHubの設定。
type Config struct {
	// Channel はブロードキャストに使うPub/Subチャンネル。
	Channel string
	// InstanceID はこのゲートウェイインスタンスの識別子。
	InstanceID string
	// Policies はsubscribe可能なリソースごとのアクセス要件。
	Policies map[string]auth.Policy
	// AllowedOrigins は接続を許可するOrigin。空の場合はすべて許可する。
	AllowedOrigins []string
	// InboundRate と InboundBurst は1接続あたりの受信メッセージの上限。
	InboundRate  rate.Limit
	InboundBurst int
}

// Hub はWebSocket接続とルームを管理する。
type Hub struct {
	cfg       Config
	validator TokenValidator
	sessions  SessionStore
	bus       Bus
	logger    *zap.Logger
	upgrader  websocket.Upgrader
	now       func() time.Time

	// mu はconnsとroomsを保護する。
	mu    sync.RWMutex
	conns map[string]*conn
	rooms map[string]map[string]*conn

	subMu sync.Mutex
	sub   Subscription
}

// NewHub は新しいHubを生成する。
func NewHub(cfg Config, validator TokenValidator, sessions SessionStore, bus Bus, logger *zap.Logger) *Hub {
	if cfg.InboundRate == 0 {
		cfg.InboundRate = DefaultInboundRate
	}
	if cfg.InboundBurst == 0 {
		cfg.InboundBurst = DefaultInboundBurst
	}
	h := &Hub{
		cfg:       cfg,
		validator: validator,
		sessions:  sessions,
		bus:       bus,
		logger:    logger,
		now:       time.Now,
		conns:     make(map[string]*conn),
		rooms:     make(map[string]map[string]*conn),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// Start はブロードキャストチャンネルの購読を開始する。
func (h *Hub) Start(ctx context.Context) error {
	sub, err := h.bus.Subscribe(ctx, h.cfg.Channel, h.deliver)
	if err != nil {
		return err
	}
	h.subMu.Lock()
	h.sub = sub
	h.subMu.Unlock()
	h.logger.Info("ブロードキャストチャンネルを購読しました",
		zap.String("channel", h.cfg.Channel),
		zap.String("instance_id", h.cfg.InstanceID),
	)
	return nil
}

// Ping はPub/Subの購読が生きているかを確認する。
func (h *Hub) Ping(ctx context.Context) error {
	h.subMu.Lock()
	sub := h.sub
	h.subMu.Unlock()
	if sub == nil {
		return ErrNotStarted
	}
	return sub.Ping(ctx)
}

// Close は購読を終了し、すべての接続を閉じる。
func (h *Hub) Close() error {
	h.subMu.Lock()
	sub := h.sub
	h.sub = nil
	h.subMu.Unlock()

	var err error
	if sub != nil {
		err = sub.Close()
	}

	h.mu.RLock()
	conns := make([]*conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()
	for _, c := range conns {
		h.remove(c)
	}
	return err
}

// Publish はエンベロープをすべてのインスタンスに配る。
// このインスタンスの接続にも購読経由で配送される。
func (h *Hub) Publish(ctx context.Context, env *event.Envelope) error {
	env.Origin = h.cfg.InstanceID
	return h.bus.Publish(ctx, h.cfg.Channel, env)
}

// ConnectionCount はこのインスタンスが保持している接続数を返す。
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// ServeHTTP はWebSocketのハンドシェイクを行い、接続が閉じるまでブロックする。
// 相関IDは101レスポンスのヘッダーとconnectedイベントの両方で返す。
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := logging.FromContext(r.Context())

	correlationID := w.Header().Get(middleware.HeaderCorrelationID)
	if correlationID == "" {
		// ゲートウェイのミドルウェアを通らずに呼ばれた場合
		correlationID = middleware.ResolveCorrelationID(r.Header.Get(middleware.HeaderCorrelationID))
		logger = logger.With(zap.String("correlation_id", correlationID))
	}
	responseHeader := http.Header{}
	responseHeader.Set(middleware.HeaderCorrelationID, correlationID)

	ws, err := h.upgrader.Upgrade(w, r, responseHeader)
	if err != nil {
		// Upgradeが既にエラーレスポンスを書き込んでいる。
		logger.Debug("WebSocketのアップグレードに失敗しました", zap.Error(err))
		return
	}

	c := &conn{
		id:      uuid.NewString(),
		ws:      ws,
		send:    make(chan []byte, sendBufferSize),
		inbound: rate.NewLimiter(h.cfg.InboundRate, h.cfg.InboundBurst),
		state:   stateConnecting,
		rooms:   make(map[string]struct{}),
	}

	id, err := h.authenticate(r)
	if err != nil {
		h.reject(ws, err, logger)
		return
	}
	c.identity = id
	c.logger = logger.With(zap.String("socket_id", c.id), zap.String("user_id", id.UserID))
	c.setState(stateAuthenticated)

	// connectedはルームに参加する前に積み、どのブロードキャストよりも先に届くようにする
	c.sendEvent(eventConnected, newConnectedData(c.id, id.UserID, correlationID, h.now()))

	h.add(c)
	connectionsGauge.Inc()

	sessionCtx := context.WithoutCancel(r.Context())
	session := cache.Session{
		SocketID:    c.id,
		UserID:      id.UserID,
		Roles:       id.Roles,
		InstanceID:  h.cfg.InstanceID,
		ConnectedAt: h.now(),
	}
	if err := h.sessions.Register(sessionCtx, session); err != nil {
		c.logger.Warn("セッションの登録に失敗しました", zap.Error(err))
	}

	defer func() {
		h.remove(c)
		connectionsGauge.Dec()
		ctx, cancel := context.WithTimeout(sessionCtx, 5*time.Second)
		defer cancel()
		if err := h.sessions.Unregister(ctx, c.id, id.UserID); err != nil {
			c.logger.Warn("セッションの登録解除に失敗しました", zap.Error(err))
		}
		c.logger.Info("WebSocket接続が切断されました")
	}()

	c.logger.Info("WebSocket接続を確立しました", zap.Strings("roles", id.Roles))

	go c.writePump()
	c.readPump(h.handleMessage)
}

// authenticate はクエリパラメータtokenまたはAuthorizationヘッダーのトークンを検証する。
func (h *Hub) authenticate(r *http.Request) (*auth.Identity, error) {
	token := r.URL.Query().Get("token")
	if token == "" {
		var err error
		token, err = auth.ExtractBearer(r.Header.Get("Authorization"))
		if err != nil {
			return nil, err
		}
	}
	return h.validator.Validate(r.Context(), token, false)
}

// reject はerrorイベントを送ってから接続を閉じる。
func (h *Hub) reject(ws *websocket.Conn, err error, logger *zap.Logger) {
	defer ws.Close()

	data := errorData{Code: string(apierror.CodeUnauthorized), Message: "認証に失敗しました", Reason: auth.Reason(err)}
	if data.Reason == "" {
		data.Code = string(apierror.CodeServiceUnavailable)
		data.Message = "認証情報を確認できませんでした"
	}
	handshakeFailuresTotal.WithLabelValues(data.Code).Inc()
	logger.Warn("WebSocketの認証に失敗しました", zap.String("reason", data.Reason), zap.Error(err))

	deadline := time.Now().Add(writeWait)
	if frame, encErr := encodeFrame(eventError, data); encErr == nil {
		_ = ws.SetWriteDeadline(deadline)
		_ = ws.WriteMessage(websocket.TextMessage, frame)
	}
	_ = ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, data.Code), deadline)
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	return slices.Contains(h.cfg.AllowedOrigins, origin)
}

// add は接続を登録し、ユーザー・ロール・部署のルームに参加させる。
func (h *Hub) add(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.conns[c.id] = c
	h.joinLocked(c, userRoom(c.identity.UserID))
	for _, role := range c.identity.Roles {
		h.joinLocked(c, roleRoom(role))
	}
	if c.identity.DepartmentID != "" {
		h.joinLocked(c, departmentRoom(c.identity.DepartmentID))
	}
	c.setState(stateJoined)
}

// remove は接続をすべてのルームから外して送信バッファを閉じる。
// 既に外されていればfalseを返す。
func (h *Hub) remove(c *conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c.id]; !ok {
		return false
	}
	delete(h.conns, c.id)
	c.mu.Lock()
	for room := range c.rooms {
		h.leaveRoomLocked(c.id, room)
	}
	c.rooms = nil
	c.mu.Unlock()
	c.closeSend()
	return true
}

func (h *Hub) join(c *conn, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[c.id]; !ok {
		return
	}
	h.joinLocked(c, room)
}

func (h *Hub) joinLocked(c *conn, room string) {
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]*conn)
		h.rooms[room] = members
	}
	members[c.id] = c
	c.mu.Lock()
	c.rooms[room] = struct{}{}
	c.mu.Unlock()
}

func (h *Hub) leave(c *conn, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[c.id]; !ok {
		return
	}
	h.leaveRoomLocked(c.id, room)
	c.mu.Lock()
	delete(c.rooms, room)
	c.mu.Unlock()
}

func (h *Hub) leaveRoomLocked(connID, room string) {
	members := h.rooms[room]
	delete(members, connID)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

// deliver はエンベロープをこのインスタンスの該当する接続に配送する。
// 送信バッファが満杯の接続には配送しない。
func (h *Hub) deliver(env *event.Envelope) {
	frame, err := encodeFrame(string(env.Event), env.Payload)
	if err != nil {
		h.logger.Warn("エンベロープのエンコードに失敗しました", zap.String("id", env.ID), zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	targets := h.conns
	if env.Room != "" {
		targets = h.rooms[env.Room]
	}
	for _, c := range targets {
		switch c.enqueue(frame) {
		case enqueued:
			deliveredTotal.Inc()
			continue
		case connClosed:
			continue
		}
		droppedTotal.Inc()
		c.logger.Warn("送信バッファが満杯のためイベントを破棄しました",
			zap.String("event", string(env.Event)),
			zap.String("room", env.Room),
		)
	}
}

// handleMessage はクライアントからのsubscribe/unsubscribeを処理する。
func (h *Hub) handleMessage(c *conn, msg message) {
	resource, subscribe, ok := parseSubscription(msg.Event)
	if !ok {
		c.sendError(apierror.CodeBadRequest, "未対応のイベントです: "+msg.Event)
		return
	}
	policy, known := h.cfg.Policies[resource]
	if !known {
		c.sendError(apierror.CodeBadRequest, "未対応のリソースです: "+resource)
		return
	}
	id, err := parseResourceID(msg.Data)
	if err != nil {
		c.sendError(apierror.CodeBadRequest, "idが必要です")
		return
	}
	room := resourceRoom(resource, id)

	if !subscribe {
		h.leave(c, room)
		c.sendEvent(eventUnsubscribed, subscriptionData{Room: room, ID: id})
		return
	}
	if err := auth.Authorize(policy, c.identity); err != nil {
		c.logger.Info("ルームへの参加を拒否しました", zap.String("room", room))
		c.sendError(apierror.CodeForbidden, "このルームに参加する権限がありません")
		return
	}
	h.join(c, room)
	c.sendEvent(eventSubscribed, subscriptionData{Room: room, ID: id})
}

// parseResourceID は {"id":"123"} または "123" からIDを取り出す。
func parseResourceID(data json.RawMessage) (string, error) {
	var req subscriptionData
	if err := json.Unmarshal(data, &req); err == nil && req.ID != "" {
		return req.ID, nil
	}
	var id string
	if err := json.Unmarshal(data, &id); err == nil && id != "" {
		return id, nil
	}
	return "", errors.New("idがありません")
}
