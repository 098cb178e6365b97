package gateway

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/nao1215/carehub/pkg/httpclient"
)

// healthProbeTimeout は依存先1つあたりの確認の上限時間。
const healthProbeTimeout = 2 * time.Second

// 全体の状態。
const (
	statusHealthy   = "healthy"
	statusDegraded  = "degraded"
	statusUnhealthy = "unhealthy"
)

// 依存先ごとの状態。
const (
	checkUp   = "up"
	checkDown = "down"
)

// dependencyCheck は依存先1つの確認結果。
type dependencyCheck struct {
	Status    string `json:"status"`
	LatencyMs int64  `json:"latencyMs"`
	Error     string `json:"error,omitempty"`
}

// healthReport は /health のレスポンス。
type healthReport struct {
	Status     string                     `json:"status"`
	Service    string                     `json:"service"`
	InstanceID string                     `json:"instanceId"`
	Timestamp  string                     `json:"timestamp"`
	Redis      dependencyCheck            `json:"redis"`
	PubSub     dependencyCheck            `json:"pubsub"`
	Services   map[string]dependencyCheck `json:"services"`
	Sockets    int                        `json:"sockets"`
}

// handleLive はプロセスが動いていれば200を返す。
func (s *Server) handleLive() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "gateway"})
	}
}

// handleReady は共有キャッシュに到達できれば200、できなければ503を返す。
func (s *Server) handleReady() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthProbeTimeout)
		defer cancel()

		if check := probe(ctx, func() error { return s.redis.Ping(ctx).Err() }); check.Status != checkUp {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": statusUnhealthy, "redis": check})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

// handleHealth は依存先をすべて並行に確認して全体の状態を返す。
// 共有キャッシュに到達できなければunhealthy、下流サービスかPub/Subの一部が落ちていればdegraded。
func (s *Server) handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		report := s.checkHealth(c.Request.Context())
		status := http.StatusOK
		if report.Status == statusUnhealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, report)
	}
}

func (s *Server) checkHealth(ctx context.Context) healthReport {
	report := healthReport{
		Service:    "gateway",
		InstanceID: s.cfg.InstanceID,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Services:   make(map[string]dependencyCheck, len(s.services)),
		Sockets:    s.hub.ConnectionCount(),
	}

	names := make([]string, 0, len(s.services))
	for name := range s.services {
		names = append(names, name)
	}
	sort.Strings(names)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		pctx, cancel := context.WithTimeout(gctx, healthProbeTimeout)
		defer cancel()
		report.Redis = probe(pctx, func() error { return s.redis.Ping(pctx).Err() })
		return nil
	})
	g.Go(func() error {
		pctx, cancel := context.WithTimeout(gctx, healthProbeTimeout)
		defer cancel()
		report.PubSub = probe(pctx, func() error { return s.hub.Ping(pctx) })
		return nil
	})
	for _, name := range names {
		client := s.services[name]
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(gctx, healthProbeTimeout)
			defer cancel()
			check := probe(pctx, func() error { return client.GetJSON(pctx, "/health", nil) })
			mu.Lock()
			report.Services[name] = check
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	report.Status = statusHealthy
	if report.PubSub.Status != checkUp {
		report.Status = statusDegraded
	}
	for _, check := range report.Services {
		if check.Status != checkUp {
			report.Status = statusDegraded
		}
	}
	if report.Redis.Status != checkUp {
		report.Status = statusUnhealthy
	}
	return report
}

// probe はfnを実行して所要時間と結果を記録する。
// エラーの内容は応答に含めず、タイムアウトかどうかだけを区別する。
func probe(ctx context.Context, fn func() error) dependencyCheck {
	start := time.Now()
	err := fn()
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	check := dependencyCheck{Status: checkUp, LatencyMs: time.Since(start).Milliseconds()}
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, httpclient.ErrTimeout):
		check.Status = checkDown
		check.Error = "timeout"
	default:
		check.Status = checkDown
		check.Error = "unreachable"
	}
	return check
}
