package dashboard

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/backchannel/internal/models"
	"gorm.io/gorm"
)

// registerRoutes sets up all dashboard routes on the Gin router.
func registerRoutes(router *gin.Engine, db *gorm.DB) {
	router.GET("/api/health", handleHealth(db))
	router.GET("/api/rooms", handleRooms(db))
	router.GET("/api/settings", handleSettings(db))
}

func handleHealth(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var count int64
		if err := db.Model(&models.Room{}).Count(&count).Error; err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "open_rooms": count})
	}
}

// RoomRow holds the room fields safe to expose. Channel and user IDs are
// deliberately withheld.
type RoomRow struct {
	RoomID    uint      `json:"room_id"`
	Codename  string    `json:"codename"`
	CreatedAt time.Time `json:"created_at"`
}

func handleRooms(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var rooms []models.Room
		if err := db.Order("room_id").Find(&rooms).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		rows := make([]RoomRow, len(rooms))
		for i, r := range rooms {
			rows[i] = RoomRow{RoomID: r.RoomID, Codename: r.Codename, CreatedAt: r.CreatedAt}
		}
		c.JSON(http.StatusOK, gin.H{"rooms": rows})
	}
}

func handleSettings(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var settings []models.Setting
		if err := db.Order("key").Find(&settings).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		out := make(map[string]string, len(settings))
		for _, s := range settings {
			out[s.Key] = s.Value
		}
		c.JSON(http.StatusOK, gin.H{"settings": out})
	}
}
