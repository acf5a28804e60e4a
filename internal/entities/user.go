package entities

import "time"

const (
	RoleOwner = "owner"
	RoleAdmin = "admin"
)

type User struct {
	ID           string    `db:"id" json:"id"`
	Email        string    `db:"email" json:"email"`
	Name         string    `db:"name" json:"name"`
	PasswordHash string    `db:"password_hash" json:"-"`
	Role         string    `db:"role" json:"role"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

type Restaurant struct {
	ID             string    `db:"id" json:"id"`
	OwnerID        string    `db:"owner_id" json:"owner_id"`
	Name           string    `db:"name" json:"name"`
	Phone          string    `db:"phone" json:"phone"`
	Address        string    `db:"address" json:"address"`
	TelegramChatID *int64    `db:"telegram_chat_id" json:"telegram_chat_id,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}
