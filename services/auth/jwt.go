package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"toybox-api/database"
	"toybox-api/models"
)

const (
	AccessTokenDuration  = 15 * time.Minute
	RefreshTokenDuration = 7 * 24 * time.Hour

	minPasswordLength = 8
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
	ErrTokenExpired       = errors.New("token expired")
	ErrInvalidToken       = errors.New("invalid token")
)

// JWTService is the local identity provider: passwords are kept here and tokens are
// signed with the service secret.
type JWTService struct {
	secretKey []byte
	issuer    string
	users     UserStore
}

type Claims struct {
	Email     string `json:"email"`
	Name      string `json:"name"`
	Role      string `json:"role"`
	TokenType string `json:"token_type"` // "access" or "refresh"
	jwt.RegisteredClaims
}

func NewJWTService(secretKey, issuer string, users UserStore) *JWTService {
	return &JWTService{
		secretKey: []byte(secretKey),
		issuer:    issuer,
		users:     users,
	}
}

func (j *JWTService) Register(ctx context.Context, req models.RegisterRequest) (*models.AuthResponse, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(req.Email))
	if err != nil {
		return nil, ErrInvalidEmail
	}
	if len(req.Password) < minPasswordLength {
		return nil, ErrWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("error hashing password: %w", err)
	}

	user := &models.User{
		Email:        addr.Address,
		Name:         strings.TrimSpace(req.Name),
		PasswordHash: string(hash),
		Role:         models.RoleCustomer,
	}
	if err := j.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, database.ErrConflict) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}

	return j.issue(toAuthUser(user))
}

func (j *JWTService) Login(ctx context.Context, email, password string) (*models.AuthResponse, error) {
	user, err := j.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("database error: %w", err)
	}
	if user.PasswordHash == "" {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return j.issue(toAuthUser(user))
}

func (j *JWTService) issue(user *models.AuthUser) (*models.AuthResponse, error) {
	accessToken, err := j.GenerateToken(*user, "access", AccessTokenDuration)
	if err != nil {
		return nil, fmt.Errorf("error generating access token: %w", err)
	}

	refreshToken, err := j.GenerateToken(*user, "refresh", RefreshTokenDuration)
	if err != nil {
		return nil, fmt.Errorf("error generating refresh token: %w", err)
	}

	return &models.AuthResponse{
		Token:        accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    time.Now().Add(AccessTokenDuration),
		User:         *user,
	}, nil
}

func (j *JWTService) GenerateToken(user models.AuthUser, tokenType string, duration time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Email:     user.Email,
		Name:      user.Name,
		Role:      user.Role,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(user.ID, 10),
			Issuer:    j.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(duration)),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(j.secretKey)
}

func (j *JWTService) parse(tokenString, wantType string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return j.secretKey, nil
	}, jwt.WithIssuer(j.issuer))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.TokenType != wantType {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ValidateToken checks an access token and returns the identity in it.
func (j *JWTService) ValidateToken(tokenString string) (*models.AuthUser, error) {
	claims, err := j.parse(tokenString, "access")
	if err != nil {
		return nil, err
	}

	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return nil, ErrInvalidToken
	}
	return &models.AuthUser{ID: id, Email: claims.Email, Name: claims.Name, Role: claims.Role}, nil
}

func (j *JWTService) Authenticate(ctx context.Context, token string) (*models.AuthUser, error) {
	return j.ValidateToken(token)
}

// RefreshToken exchanges a refresh token for a new pair. The user is read again so a
// role change takes effect on the next refresh.
func (j *JWTService) RefreshToken(ctx context.Context, refreshTokenString string) (*models.AuthResponse, error) {
	claims, err := j.parse(refreshTokenString, "refresh")
	if err != nil {
		return nil, err
	}

	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return nil, ErrInvalidToken
	}
	user, err := j.users.GetUserByID(ctx, id)
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	return j.issue(toAuthUser(user))
}
