package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/Mayank77maruti/Meu-ChaT/internal/middleware"
	"github.com/Mayank77maruti/Meu-ChaT/internal/models"
	"github.com/Mayank77maruti/Meu-ChaT/internal/redis"
)

const tokenTTL = 24 * time.Hour

// storedUser is the Redis record behind user:{uid}.
type storedUser struct {
	Profile      models.UserProfile `json:"profile"`
	Username     string             `json:"username"`
	PasswordHash string             `json:"passwordHash"`
}

func userKey(uid string) string          { return "user:" + uid }
func usernameKey(username string) string { return "username:" + username }

// Signup creates an account and returns a fresh access token.
func Signup(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.SignupRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		redisClient := redis.GetClient()
		ctx := redis.GetContext()

		uid := uuid.New().String()
		// Claim the username atomically so two signups cannot share it.
		claimed, err := redisClient.SetNX(ctx, usernameKey(req.Username), uid, 0).Result()
		if err != nil {
			log.Error().Err(err).Msg("Failed to claim username")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create account"})
			return
		}
		if !claimed {
			c.JSON(http.StatusConflict, gin.H{"error": "Username already taken"})
			return
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create account"})
			return
		}

		displayName := req.DisplayName
		if displayName == "" {
			displayName = req.Username
		}
		user := storedUser{
			Profile: models.UserProfile{
				UID:         uid,
				DisplayName: displayName,
				Email:       req.Email,
			},
			Username:     req.Username,
			PasswordHash: string(hash),
		}
		data, err := json.Marshal(user)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create account"})
			return
		}
		if err := redisClient.Set(ctx, userKey(uid), data, 0).Err(); err != nil {
			log.Error().Err(err).Msg("Failed to store user")
			redisClient.Del(ctx, usernameKey(req.Username))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create account"})
			return
		}

		token, err := middleware.GenerateToken(jwtSecret, uid, tokenTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
			return
		}

		log.Info().Str("user_id", uid).Str("username", req.Username).Msg("Account created")
		c.JSON(http.StatusCreated, models.LoginResponse{Token: token, UserID: uid})
	}
}

// Login validates credentials and returns an access token.
func Login(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		user, err := loadUserByUsername(req.Username)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid username or password"})
			return
		}
		if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid username or password"})
			return
		}

		token, err := middleware.GenerateToken(jwtSecret, user.Profile.UID, tokenTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
			return
		}

		c.JSON(http.StatusOK, models.LoginResponse{Token: token, UserID: user.Profile.UID})
	}
}

// GetUser returns a user's public profile, with presence attached.
func GetUser(c *gin.Context) {
	uid := c.Param("userId")

	user, err := loadUser(uid)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}

	profile := user.Profile
	profile.Online = IsOnline(uid)
	c.JSON(http.StatusOK, profile)
}

// UpdatePublicKey stores the caller's freshly generated client public key.
// The key is opaque to the server.
func UpdatePublicKey(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	var req models.UpdatePublicKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	uid := userID.(string)
	user, err := loadUser(uid)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}
	user.Profile.PublicKey = req.PublicKey

	data, err := json.Marshal(user)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update key"})
		return
	}
	if err := redis.GetClient().Set(redis.GetContext(), userKey(uid), data, 0).Err(); err != nil {
		log.Error().Err(err).Str("user_id", uid).Msg("Failed to store public key")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update key"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Public key updated"})
}

func loadUser(uid string) (*storedUser, error) {
	data, err := redis.GetClient().Get(redis.GetContext(), userKey(uid)).Result()
	if err != nil {
		return nil, err
	}
	var user storedUser
	if err := json.Unmarshal([]byte(data), &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func loadUserByUsername(username string) (*storedUser, error) {
	uid, err := redis.GetClient().Get(redis.GetContext(), usernameKey(username)).Result()
	if err != nil {
		return nil, err
	}
	return loadUser(uid)
}
