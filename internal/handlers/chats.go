package handlers

import (
	"crypto/rand"
	"encoding/json"
	"math/big"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Mayank77maruti/Meu-ChaT/internal/models"
	"github.com/Mayank77maruti/Meu-ChaT/internal/redis"
)

const (
	chatCodeLength = 6
	codeChars      = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789" // Removed ambiguous chars
)

func chatKey(chatID string) string   { return "chat:" + chatID }
func chatCodeKey(code string) string { return "chatcode:" + code }

// CreateChat creates a chat between the caller and the listed participants.
// The chat id also serves as the call id of calls between its participants.
func CreateChat(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}
	creatorID := userID.(string)

	var req models.CreateChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	participants := req.Participants
	if !contains(participants, creatorID) {
		participants = append(participants, creatorID)
	}

	chatID := uuid.New().String()
	code := generateChatCode()

	chat := models.ChatMetadata{
		ID:           chatID,
		Code:         code,
		Name:         req.Name,
		Participants: participants,
		CreatorID:    creatorID,
		CreatedAt:    time.Now(),
		IsGroup:      req.IsGroup,
	}

	redisClient := redis.GetClient()
	ctx := redis.GetContext()

	chatData, err := json.Marshal(chat)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create chat"})
		return
	}
	if err := redisClient.Set(ctx, chatKey(chatID), chatData, 0).Err(); err != nil {
		log.Error().Err(err).Msg("Failed to store chat")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create chat"})
		return
	}
	if err := redisClient.Set(ctx, chatCodeKey(code), chatID, 0).Err(); err != nil {
		log.Error().Err(err).Msg("Failed to store chat code")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create chat"})
		return
	}

	log.Info().Str("chat_id", chatID).Str("code", code).Str("creator", creatorID).Msg("Chat created")
	c.JSON(http.StatusCreated, models.CreateChatResponse{ChatID: chatID, Code: code})
}

// GetChat returns a chat's metadata by code or id. Participants only.
func GetChat(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	chat, err := lookupChat(c.Param("chatId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Chat not found"})
		return
	}
	if !contains(chat.Participants, userID.(string)) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Not a participant of this chat"})
		return
	}

	c.JSON(http.StatusOK, chat)
}

// DeleteChat removes a chat. Creator only.
func DeleteChat(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	chat, err := lookupChat(c.Param("chatId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Chat not found"})
		return
	}
	if chat.CreatorID != userID.(string) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Only the chat creator can delete the chat"})
		return
	}

	redisClient := redis.GetClient()
	ctx := redis.GetContext()
	redisClient.Del(ctx, chatKey(chat.ID))
	redisClient.Del(ctx, chatCodeKey(chat.Code))

	log.Info().Str("chat_id", chat.ID).Str("user_id", chat.CreatorID).Msg("Chat deleted")
	c.JSON(http.StatusOK, gin.H{"message": "Chat deleted"})
}

// lookupChat resolves a chat by short code or by id.
func lookupChat(identifier string) (*models.ChatMetadata, error) {
	redisClient := redis.GetClient()
	ctx := redis.GetContext()

	chatID := identifier
	if len(identifier) == chatCodeLength {
		id, err := redisClient.Get(ctx, chatCodeKey(identifier)).Result()
		if err == nil {
			chatID = id
		}
	}

	chatData, err := redisClient.Get(ctx, chatKey(chatID)).Result()
	if err != nil {
		return nil, err
	}
	var chat models.ChatMetadata
	if err := json.Unmarshal([]byte(chatData), &chat); err != nil {
		return nil, err
	}
	return &chat, nil
}

// generateChatCode generates a random shareable chat code
func generateChatCode() string {
	code := make([]byte, chatCodeLength)
	for i := range code {
		n, _ := rand.Int(rand.Reader, big.NewInt(int64(len(codeChars))))
		code[i] = codeChars[n.Int64()]
	}
	return string(code)
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
