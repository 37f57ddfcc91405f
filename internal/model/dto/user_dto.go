package dto

// AddUserRequest POST /users/add
type AddUserRequest struct {
	Email        string  `json:"email"`
	PasswordHash *string `json:"password_hash,omitempty"`
	Password     *string `json:"password,omitempty"`
	Name         *string `json:"name,omitempty"`
	Provider     *string `json:"provider,omitempty"`
	ProviderID   *string `json:"provider_id,omitempty"`
	AvatarURL    *string `json:"avatar_url,omitempty"`
}

// UserInfo 用户信息（返回给前端）
type UserInfo struct {
	ID        int64  `json:"id"`
	Email     string `json:"email,omitempty"`
	Name      string `json:"name"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatar_url"`
	Bio       string `json:"bio"`
	Provider  string `json:"provider,omitempty"`
	Credits   int    `json:"credits"`
	CreatedAt string `json:"created_at,omitempty"`
}

// CreditsResponse GET /user/credits
type CreditsResponse struct {
	Credits int    `json:"credits"`
	UserID  string `json:"userId"`
}

// SyncResponse POST /users/sync
type SyncResponse struct {
	Success bool   `json:"success"`
	UserID  int64  `json:"userId"`
	Message string `json:"message"`
}
