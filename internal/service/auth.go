package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"projectapi/internal/apperr"
	"projectapi/internal/config"
	"projectapi/internal/logger"
	"projectapi/internal/model"
	"projectapi/internal/repository"
	"projectapi/internal/validator"
)

const (
	tokenTypeBearer = "bearer"

	// maxPasswordBytes is the bcrypt input limit.
	maxPasswordBytes = 72
)

// RegisterInput is the sign-up payload.
type RegisterInput struct {
	Email     string `json:"email" validate:"required,email,max=254"`
	Password  string `json:"password" validate:"required,min=8,max=72"`
	FirstName string `json:"first_name" validate:"required,max=30"`
	LastName  string `json:"last_name" validate:"required,max=30"`
}

// LoginInput is the credentials payload.
type LoginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// ProfileInput updates the caller's own names. Nil fields are left as is.
type ProfileInput struct {
	FirstName *string `json:"first_name,omitempty" validate:"omitempty,min=1,max=30"`
	LastName  *string `json:"last_name,omitempty" validate:"omitempty,min=1,max=30"`
}

// TokenPair is returned on successful login.
type TokenPair struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// Claims are the access token claims. Subject carries the user ID.
type Claims struct {
	Email string `json:"email"`
	Staff bool   `json:"staff"`
	jwt.RegisteredClaims
}

// UserID parses the subject claim.
func (c *Claims) UserID() (uuid.UUID, error) {
	return uuid.Parse(c.Subject)
}

// AuthService defines account and token use cases.
type AuthService interface {
	Register(ctx context.Context, in RegisterInput) (*model.User, error)
	Login(ctx context.Context, in LoginInput) (*TokenPair, error)
	ValidateToken(ctx context.Context, token string) (*Claims, error)
	CurrentUser(ctx context.Context, id uuid.UUID) (*model.User, error)
	UpdateProfile(ctx context.Context, id uuid.UUID, in ProfileInput) (*model.User, error)
	// CreateSuperuser registers a staff account with every permission.
	CreateSuperuser(ctx context.Context, in RegisterInput) (*model.User, error)
}

// AuthOption customizes an AuthService.
type AuthOption func(*authService)

// WithBcryptCost overrides the password hashing cost.
func WithBcryptCost(cost int) AuthOption {
	return func(s *authService) { s.cost = cost }
}

// WithClock overrides the time source used for token issuing.
func WithClock(now func() time.Time) AuthOption {
	return func(s *authService) { s.now = now }
}

type authService struct {
	users repository.UserRepository
	cfg   config.JWTConfig
	cost  int
	now   func() time.Time
}

// NewAuthService constructs a new AuthService.
func NewAuthService(users repository.UserRepository, cfg config.JWTConfig, opts ...AuthOption) AuthService {
	s := &authService{
		users: users,
		cfg:   cfg,
		cost:  bcrypt.DefaultCost,
		now:   time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func normalizeEmail(e string) string {
	return strings.ToLower(strings.TrimSpace(e))
}

func (s *authService) Register(ctx context.Context, in RegisterInput) (*model.User, error) {
	return s.create(ctx, in, false)
}

func (s *authService) CreateSuperuser(ctx context.Context, in RegisterInput) (*model.User, error) {
	return s.create(ctx, in, true)
}

func (s *authService) create(ctx context.Context, in RegisterInput, super bool) (*model.User, error) {
	in.Email = normalizeEmail(in.Email)
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	if err := validator.Struct(in); err != nil {
		return nil, err
	}
	if len(in.Password) > maxPasswordBytes {
		return nil, &apperr.ValidationError{Fields: []apperr.FieldError{{
			Field:   "password",
			Message: fmt.Sprintf("must be at most %d bytes", maxPasswordBytes),
		}}}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u := &model.User{
		ID:           uuid.New(),
		Email:        in.Email,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		PasswordHash: string(hash),
		IsActive:     true,
		IsStaff:      super,
		IsSuperuser:  super,
		DateJoined:   s.now().UTC(),
	}
	stored, err := s.users.Create(ctx, u)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperr.Conflict("email already registered")
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return stored, nil
}

func (s *authService) Login(ctx context.Context, in LoginInput) (*TokenPair, error) {
	in.Email = normalizeEmail(in.Email)
	if err := validator.Struct(in); err != nil {
		return nil, err
	}

	u, err := s.users.FindByEmail(ctx, in.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.Unauthorized("invalid credentials")
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(in.Password)); err != nil {
		return nil, apperr.Unauthorized("invalid credentials")
	}
	if !u.IsActive {
		return nil, apperr.Unauthorized("invalid credentials")
	}

	token, ttl, err := s.issue(u)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}

	if err := s.users.TouchLastLogin(ctx, u.ID); err != nil {
		logger.L().Warn("failed to record last login",
			zap.String("component", "auth"),
			zap.String("user_id", u.ID.String()),
			zap.Error(err),
		)
	}

	return &TokenPair{
		AccessToken: token,
		TokenType:   tokenTypeBearer,
		ExpiresIn:   int(ttl.Seconds()),
	}, nil
}

func (s *authService) issue(u *model.User) (string, time.Duration, error) {
	ttl := time.Duration(s.cfg.AccessTTLMins) * time.Minute
	if ttl <= 0 {
		ttl = time.Hour
	}
	now := s.now()
	claims := Claims{
		Email: u.Email,
		Staff: u.IsStaff,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID.String(),
			Issuer:    s.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.Secret))
	return signed, ttl, err
}

func (s *authService) ValidateToken(_ context.Context, token string) (*Claims, error) {
	if token == "" {
		return nil, apperr.Unauthorized("missing token")
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	}
	if s.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.cfg.Issuer))
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (any, error) {
		return []byte(s.cfg.Secret), nil
	}, opts...)
	if err != nil {
		return nil, apperr.Unauthorized("invalid or expired token")
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, apperr.Unauthorized("invalid or expired token")
	}
	if _, err := claims.UserID(); err != nil {
		return nil, apperr.Unauthorized("invalid token subject")
	}
	return claims, nil
}

func (s *authService) CurrentUser(ctx context.Context, id uuid.UUID) (*model.User, error) {
	u, err := s.users.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.Unauthorized("user no longer exists")
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	if !u.IsActive {
		return nil, apperr.Unauthorized("user is inactive")
	}
	return u, nil
}

func (s *authService) UpdateProfile(ctx context.Context, id uuid.UUID, in ProfileInput) (*model.User, error) {
	if in.FirstName == nil && in.LastName == nil {
		return nil, apperr.Invalid("at least one field must be provided")
	}
	in.FirstName = trimPtr(in.FirstName)
	in.LastName = trimPtr(in.LastName)
	if err := validator.Struct(in); err != nil {
		return nil, err
	}

	u, err := s.CurrentUser(ctx, id)
	if err != nil {
		return nil, err
	}
	first, last := u.FirstName, u.LastName
	if in.FirstName != nil {
		first = *in.FirstName
	}
	if in.LastName != nil {
		last = *in.LastName
	}

	updated, err := s.users.UpdateProfile(ctx, id, first, last)
	if err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}
	return updated, nil
}
