package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Mayank77maruti/Meu-ChaT/internal/redis"
)

// presenceTTL is refreshed by the WebSocket heartbeat; a user whose
// connection dies silently goes offline when the key expires.
const presenceTTL = 60 * time.Second

func presenceKey(uid string) string { return "presence:" + uid }

// SetOnline marks a user online until the TTL lapses or ClearOnline runs.
func SetOnline(uid string) {
	redis.GetClient().Set(redis.GetContext(), presenceKey(uid), "online", presenceTTL)
}

// ClearOnline marks a user offline immediately.
func ClearOnline(uid string) {
	redis.GetClient().Del(redis.GetContext(), presenceKey(uid))
}

// IsOnline reports whether a user currently has a live connection.
func IsOnline(uid string) bool {
	n, err := redis.GetClient().Exists(redis.GetContext(), presenceKey(uid)).Result()
	return err == nil && n > 0
}

// GetPresence returns a user's online flag.
func GetPresence(c *gin.Context) {
	uid := c.Param("userId")
	c.JSON(http.StatusOK, gin.H{
		"userId": uid,
		"online": IsOnline(uid),
	})
}
