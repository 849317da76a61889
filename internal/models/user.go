package models

// UserProfile is the stored profile record of a user. The public key is an
// opaque client-generated string; the server never interprets it.
type UserProfile struct {
	UID         string `json:"uid"`
	DisplayName string `json:"displayName,omitempty"`
	Email       string `json:"email,omitempty"`
	PhotoURL    string `json:"photoURL,omitempty"`
	PublicKey   string `json:"publicKey,omitempty"`
	Online      bool   `json:"online,omitempty"`
}

// SignupRequest is the request body for creating an account
type SignupRequest struct {
	Username    string `json:"username" binding:"required"`
	Password    string `json:"password" binding:"required,min=6"`
	DisplayName string `json:"displayName,omitempty"`
	Email       string `json:"email,omitempty"`
}

// LoginRequest represents the login request body
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse represents the login response
type LoginResponse struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`
}

// UpdatePublicKeyRequest carries a freshly generated client public key.
type UpdatePublicKeyRequest struct {
	PublicKey string `json:"publicKey" binding:"required"`
}
