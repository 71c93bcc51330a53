package views

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/GrainArc/MapEditor/services"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

const (
	eventBacklog = 64
	pingPeriod   = 30 * time.Second
	writeWait    = 10 * time.Second
)

// Events 把变化通知推送给 websocket 客户端，握手完成前已订阅。客户端积压过多时丢弃事件。
func (mc *MapController) Events(c *gin.Context) {
	layer := c.Query("layer")
	queue := make(chan services.Event, eventBacklog)
	cancel := mc.Notifier.Subscribe(func(e services.Event) {
		if layer != "" && e.LayerID != "" && e.LayerID != layer {
			return
		}
		select {
		case queue <- e:
		default:
			log.Printf("websocket 客户端积压，丢弃事件 %s", e.Type)
		}
	})
	defer cancel()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("websocket 升级失败: %v", err)
		return
	}
	defer conn.Close()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Printf("websocket 错误: %v", err)
				}
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-closed:
			return
		case e := <-queue:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(e); err != nil {
				log.Printf("推送事件失败: %v", err)
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
