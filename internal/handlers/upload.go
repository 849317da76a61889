package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/Mayank77maruti/Meu-ChaT/internal/storage"
)

// 25 MB, matching typical chat attachment limits.
const maxUploadBytes = 25 << 20

// Upload stores an attachment blob and returns its content URL.
func Upload(store storage.ObjectStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, exists := c.Get("user_id")
		if !exists {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
			return
		}

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes)

		file, header, err := c.Request.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Missing or oversized file"})
			return
		}
		defer file.Close()

		url, err := store.Save(header.Filename, file)
		if err != nil {
			log.Error().Err(err).Str("user_id", userID.(string)).Msg("Failed to store upload")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store file"})
			return
		}

		log.Info().Str("user_id", userID.(string)).Str("url", url).Int64("size", header.Size).Msg("Upload stored")
		c.JSON(http.StatusCreated, gin.H{"url": url})
	}
}
