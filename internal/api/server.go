// Package api 承载对外接口：健康检查、会话状态查询，
// 以及设备上下行文本的 WebSocket 通道。
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"kidtalk/internal/engine"
	"kidtalk/internal/router"
	"kidtalk/internal/store"
	"kidtalk/internal/ttsq"
)

type Server struct {
	engine *engine.Engine
	router *router.Router
	actors *engine.Actors

	upgrader websocket.Upgrader
}

func NewServer(eng *engine.Engine, rt *router.Router, actors *engine.Actors) *Server {
	return &Server{
		engine: eng,
		router: rt,
		actors: actors,
		upgrader: websocket.Upgrader{
			// 设备端直连，没有浏览器同源语义。
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (s *Server) Routes() http.Handler {
	// Gin 统一承载中间件与路由，便于扩展日志/鉴权/限流等能力。
	e := gin.New()
	e.Use(gin.Logger(), gin.Recovery())
	e.GET("/healthz", s.handleHealthz)
	e.GET("/api/devices/:id/session", s.handleDeviceSession)
	e.GET("/ws/:device", s.handleDeviceStream)
	return e
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleDeviceSession 返回设备当前的教学会话快照，调试与巡检用。
func (s *Server) handleDeviceSession(c *gin.Context) {
	sess, err := s.engine.Session(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no teaching session"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load session failed"})
		return
	}
	c.JSON(http.StatusOK, sess)
}

// inboundMessage 上行文本的可选包装；speaker 只用于日志。
type inboundMessage struct {
	Speaker string `json:"speaker"`
	Content string `json:"content"`
}

// handleDeviceStream 设备 WebSocket：上行用户文本，下行播报信封。
func (s *Server) handleDeviceStream(c *gin.Context) {
	deviceID := c.Param("device")
	childName := c.Query("child_name")

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[API] WebSocket 升级失败 device=%s: %v", deviceID, err)
		return
	}
	log.Printf("[API] 设备接入 device=%s child=%q", deviceID, childName)

	queue := s.engine.Queue(deviceID)
	drainer := ttsq.NewDrainer(queue, func(env ttsq.Envelope) error {
		return conn.WriteJSON(env)
	})
	ctx, cancel := context.WithCancel(context.Background())
	go drainer.Run(ctx)

	defer func() {
		cancel()
		s.engine.ReleaseDevice(deviceID)
		s.actors.Release(deviceID)
		_ = conn.Close()
		log.Printf("[API] 设备断开 device=%s", deviceID)
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("[API] 读取失败 device=%s: %v", deviceID, err)
			}
			return
		}

		speaker, text := parseInbound(raw)
		if text == "" {
			continue
		}
		if speaker != "" {
			log.Printf("[API] 上行 device=%s speaker=%s", deviceID, speaker)
		}

		// 新话语即打断：正在播的这组信封后续全部丢弃。
		queue.Abort()
		s.router.Dispatch(deviceID, childName, text)
	}
}

// parseInbound 上行既可以是裸文本，也可以是 {"speaker","content"} 包装。
func parseInbound(raw []byte) (speaker, text string) {
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "{") {
		var msg inboundMessage
		if err := json.Unmarshal(raw, &msg); err == nil && msg.Content != "" {
			return msg.Speaker, strings.TrimSpace(msg.Content)
		}
	}
	return "", trimmed
}
