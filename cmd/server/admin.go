package main

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tokmz/wsroom/pkg/eventsink"
	"github.com/tokmz/wsroom/pkg/logger"
	"github.com/tokmz/wsroom/pkg/metrics"
	"github.com/tokmz/wsroom/pkg/ws"
)

type roomInfo struct {
	Name    string `json:"name"`
	Members int    `json:"members"`
}

// newAdminEngine 管理端口：/healthz、/metrics、/rooms，启用审计时还有 /events
func newAdminEngine(hub *ws.Hub, prom *metrics.Prometheus, audit *eventsink.GormExporter, log logger.Logger) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery(), logger.Middleware(log))

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "ok",
			"node":        hub.NodeID(),
			"connections": hub.Registry().Count(),
			"rooms":       hub.Rooms().Count(),
		})
	})

	engine.GET("/metrics", gin.WrapH(prom.Handler()))

	engine.GET("/rooms", func(c *gin.Context) {
		names := hub.Rooms().Names()
		rooms := make([]roomInfo, 0, len(names))
		for _, name := range names {
			if room, ok := hub.Rooms().Get(name); ok {
				rooms = append(rooms, roomInfo{Name: name, Members: room.Count()})
			}
		}
		c.JSON(http.StatusOK, gin.H{"rooms": rooms})
	})

	if audit != nil {
		engine.GET("/events", func(c *gin.Context) {
			q := eventsink.Query{
				Type:   ws.EventType(c.Query("type")),
				ConnID: c.Query("conn_id"),
				Room:   c.Query("room"),
			}
			if v := c.Query("limit"); v != "" {
				n, err := strconv.Atoi(v)
				if err != nil || n <= 0 {
					c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
					return
				}
				q.Limit = n
			}
			records, err := audit.Recent(c.Request.Context(), q)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, gin.H{"events": records})
		})
	}

	return engine
}
