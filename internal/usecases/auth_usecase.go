package usecases

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"restobot/internal/apperrors"
	"restobot/internal/entities"
)

type UserStore interface {
	Create(ctx context.Context, user *entities.User) error
	GetByEmail(ctx context.Context, email string) (*entities.User, error)
}

// Claims is the dashboard token payload.
type Claims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

type AuthUsecase struct {
	users     UserStore
	jwtSecret []byte
	tokenTTL  time.Duration
	now       func() time.Time
}

func NewAuthUsecase(users UserStore, secret string, ttl time.Duration) *AuthUsecase {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &AuthUsecase{
		users:     users,
		jwtSecret: []byte(secret),
		tokenTTL:  ttl,
		now:       time.Now,
	}
}

func (uc *AuthUsecase) Register(ctx context.Context, email, name, password string) (*entities.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	existing, err := uc.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, apperrors.E(apperrors.CodeConflict, "AuthUsecase.Register", "email already registered", nil)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &entities.User{
		Email:        email,
		Name:         name,
		PasswordHash: string(hashed),
		Role:         entities.RoleOwner,
	}
	if err := uc.users.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Login checks the credentials and returns a signed token.
func (uc *AuthUsecase) Login(ctx context.Context, email, password string) (string, *entities.User, error) {
	invalid := apperrors.E(apperrors.CodeUnauthorized, "AuthUsecase.Login", "invalid credentials", nil)

	user, err := uc.users.GetByEmail(ctx, email)
	if err != nil {
		return "", nil, err
	}
	if user == nil {
		return "", nil, invalid
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", nil, invalid
	}

	token, err := uc.IssueToken(user)
	if err != nil {
		return "", nil, err
	}
	return token, user, nil
}

func (uc *AuthUsecase) IssueToken(user *entities.User) (string, error) {
	now := uc.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID: user.ID,
		Role:   user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(uc.tokenTTL)),
		},
	})
	signed, err := token.SignedString(uc.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ParseToken validates a bearer token and returns its claims.
func (uc *AuthUsecase) ParseToken(raw string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return uc.jwtSecret, nil
	}, jwt.WithTimeFunc(uc.now))
	if err != nil || !token.Valid {
		return nil, apperrors.E(apperrors.CodeUnauthorized, "AuthUsecase.ParseToken", "invalid or expired token", err)
	}
	if claims.UserID == "" {
		return nil, apperrors.E(apperrors.CodeUnauthorized, "AuthUsecase.ParseToken", "invalid token claims", nil)
	}
	return claims, nil
}

// EnsureAdmin creates the platform admin if it does not exist (called on startup).
func (uc *AuthUsecase) EnsureAdmin(ctx context.Context, email, password string) error {
	if email == "" || password == "" {
		return nil
	}
	user, err := uc.users.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	if user != nil {
		return nil
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return uc.users.Create(ctx, &entities.User{
		Email:        strings.ToLower(email),
		Name:         "Admin",
		PasswordHash: string(hashed),
		Role:         entities.RoleAdmin,
	})
}
