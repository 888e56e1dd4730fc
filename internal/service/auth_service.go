package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/dlbhoang/shop-dunk/internal/domain"
	"github.com/dlbhoang/shop-dunk/internal/jwt"
	"github.com/dlbhoang/shop-dunk/internal/mail"
	pw "github.com/dlbhoang/shop-dunk/internal/password"
	"github.com/dlbhoang/shop-dunk/internal/repository"
	"github.com/dlbhoang/shop-dunk/internal/resettoken"
)

// AuthService encapsulates the signup, login, and password lifecycle flows.
type AuthService struct {
	users     repository.UserRepository
	tokens    *jwt.Service
	mailer    mail.Sender
	snowflake *snowflake.Node
	logger    *zap.Logger
	tracer    trace.Tracer
}

// NewAuthService wires dependencies.
func NewAuthService(users repository.UserRepository, tokens *jwt.Service, mailer mail.Sender, node *snowflake.Node, logger *zap.Logger) *AuthService {
	return &AuthService{
		users:     users,
		tokens:    tokens,
		mailer:    mailer,
		snowflake: node,
		logger:    logger,
		tracer:    otel.Tracer("github.com/dlbhoang/shop-dunk/internal/service"),
	}
}

// TokenTTL exposes the configured session token lifetime.
func (s *AuthService) TokenTTL() time.Duration {
	return s.tokens.TTL()
}

// Signup creates a new user record and logs it in.
func (s *AuthService) Signup(ctx context.Context, in SignupInput) (AuthResult, error) {
	ctx, span := s.startSpan(ctx, "AuthService.Signup")
	defer span.End()

	email := normalizeEmail(in.Email)
	if email == "" {
		return AuthResult{}, domain.ErrValidation("Email is required.")
	}

	hashed, err := pw.Hash(in.Password)
	if err != nil {
		span.RecordError(err)
		return AuthResult{}, fmt.Errorf("hash password: %w", err)
	}

	user := domain.User{
		ID:           s.snowflake.Generate().Int64(),
		FullName:     strings.TrimSpace(in.FullName),
		Gender:       in.Gender,
		DateOfBirth:  in.DateOfBirth,
		Email:        email,
		PhoneNumber:  strings.TrimSpace(in.PhoneNumber),
		Username:     strings.TrimSpace(in.Username),
		Role:         domain.RoleUser,
		PasswordHash: hashed,
		Active:       true,
	}

	created, err := s.users.Create(ctx, user)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, domain.ErrDuplicate) {
			return AuthResult{}, domain.ErrValidation("Email or phone number already in use.")
		}
		return AuthResult{}, fmt.Errorf("create user: %w", err)
	}

	result, err := s.issueSession(created)
	if err != nil {
		span.RecordError(err)
		return AuthResult{}, err
	}

	s.audit("signup.success", "user_id", created.ID)
	return result, nil
}

// Login authenticates by username or email plus password. Unknown
// account and wrong password are indistinguishable in the result.
func (s *AuthService) Login(ctx context.Context, identifier, password string) (AuthResult, error) {
	ctx, span := s.startSpan(ctx, "AuthService.Login")
	defer span.End()

	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return AuthResult{}, domain.ErrValidation("Please provide username and password.")
	}

	user, err := s.users.FindByEmailOrUsername(ctx, identifier)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return AuthResult{}, domain.ErrInvalidCredentials()
		}
		span.RecordError(err)
		return AuthResult{}, fmt.Errorf("lookup user: %w", err)
	}

	valid, err := pw.Verify(password, user.PasswordHash)
	if err != nil {
		span.RecordError(err)
		return AuthResult{}, fmt.Errorf("verify password: %w", err)
	}
	if !valid {
		return AuthResult{}, domain.ErrInvalidCredentials()
	}

	result, err := s.issueSession(user)
	if err != nil {
		span.RecordError(err)
		return AuthResult{}, err
	}

	s.audit("login.success", "user_id", user.ID)
	return result, nil
}

// AuthenticateToken verifies a session token and resolves its subject.
// It backs the session-gate middleware: missing user records and
// passwords changed after issuance both invalidate the token.
func (s *AuthService) AuthenticateToken(ctx context.Context, token string) (domain.User, error) {
	ctx, span := s.startSpan(ctx, "AuthService.AuthenticateToken")
	defer span.End()

	sess, err := s.tokens.Verify(token)
	if err != nil {
		if errors.Is(err, jwt.ErrExpiredToken) {
			return domain.User{}, domain.ErrUnauthenticated("Your session has expired. Please log in again.")
		}
		return domain.User{}, domain.ErrUnauthenticated("Invalid session token.")
	}

	user, err := s.users.FindByID(ctx, sess.SubjectID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.User{}, domain.ErrUnauthenticated("The user belonging to this token no longer exists.")
		}
		span.RecordError(err)
		return domain.User{}, fmt.Errorf("resolve token subject: %w", err)
	}

	if user.ChangedPasswordAfter(sess.IssuedAt) {
		return domain.User{}, domain.ErrUnauthenticated("User recently changed password. Please log in again.")
	}

	return user, nil
}

// ForgotPassword issues a one-time reset token and mails the reset URL.
// Unknown emails get the same success signal as known ones; only a mail
// transport failure is surfaced, after the reset state is rolled back.
func (s *AuthService) ForgotPassword(ctx context.Context, email, resetURLBase string) error {
	ctx, span := s.startSpan(ctx, "AuthService.ForgotPassword")
	defer span.End()

	normalized := normalizeEmail(email)
	if normalized == "" {
		return domain.ErrValidation("Email is required.")
	}

	user, err := s.users.FindByEmail(ctx, normalized)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.log().Warn("password reset requested for unknown email", zap.String("email", normalized))
			return nil
		}
		span.RecordError(err)
		return fmt.Errorf("lookup user: %w", err)
	}

	plain, digest, err := resettoken.Generate()
	if err != nil {
		span.RecordError(err)
		return err
	}

	expiresAt := time.Now().UTC().Add(resettoken.TTL)
	if err := s.users.SetResetToken(ctx, user.ID, digest, expiresAt); err != nil {
		span.RecordError(err)
		return fmt.Errorf("persist reset token: %w", err)
	}

	resetURL := strings.TrimSuffix(resetURLBase, "/") + "/" + plain
	msg := mail.ResetMessage(user.Email, resetURL)
	if err := s.mailer.Send(ctx, msg); err != nil {
		span.RecordError(err)
		if clearErr := s.users.ClearResetToken(ctx, user.ID); clearErr != nil {
			s.log().Error("rollback reset token failed", zap.Int64("user_id", user.ID), zap.Error(clearErr))
		}
		s.log().Error("reset mail delivery failed", zap.Int64("user_id", user.ID), zap.Error(err))
		return domain.ErrEmailDelivery()
	}

	s.audit("password_forgot.sent", "user_id", user.ID)
	return nil
}

// ResetPassword redeems a plaintext reset token and sets a new password.
// A successful reset consumes the token and acts as an implicit login.
func (s *AuthService) ResetPassword(ctx context.Context, plainToken, newPassword string) (AuthResult, error) {
	ctx, span := s.startSpan(ctx, "AuthService.ResetPassword")
	defer span.End()

	digest := resettoken.HashToken(plainToken)
	user, err := s.users.FindByResetTokenHash(ctx, digest)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return AuthResult{}, domain.ErrInvalidOrExpiredToken()
		}
		span.RecordError(err)
		return AuthResult{}, fmt.Errorf("lookup reset token: %w", err)
	}
	if !user.HasActiveResetToken(time.Now().UTC()) {
		return AuthResult{}, domain.ErrInvalidOrExpiredToken()
	}

	hashed, err := pw.Hash(newPassword)
	if err != nil {
		span.RecordError(err)
		return AuthResult{}, fmt.Errorf("hash password: %w", err)
	}

	if err := s.users.UpdatePassword(ctx, user.ID, hashed, passwordChangedStamp()); err != nil {
		span.RecordError(err)
		return AuthResult{}, fmt.Errorf("update password: %w", err)
	}

	result, err := s.issueSession(user)
	if err != nil {
		span.RecordError(err)
		return AuthResult{}, err
	}

	s.audit("password_reset.success", "user_id", user.ID)
	return result, nil
}

// UpdatePassword changes the password of an authenticated user after
// re-verifying the current one, then issues a fresh session token.
func (s *AuthService) UpdatePassword(ctx context.Context, userID int64, currentPassword, newPassword string) (AuthResult, error) {
	ctx, span := s.startSpan(ctx, "AuthService.UpdatePassword")
	defer span.End()

	user, err := s.users.FindByIDWithPassword(ctx, userID)
	if err != nil {
		span.RecordError(err)
		return AuthResult{}, fmt.Errorf("lookup user: %w", err)
	}

	valid, err := pw.Verify(currentPassword, user.PasswordHash)
	if err != nil {
		span.RecordError(err)
		return AuthResult{}, fmt.Errorf("verify password: %w", err)
	}
	if !valid {
		return AuthResult{}, domain.ErrInvalidCredentials()
	}

	hashed, err := pw.Hash(newPassword)
	if err != nil {
		span.RecordError(err)
		return AuthResult{}, fmt.Errorf("hash password: %w", err)
	}

	if err := s.users.UpdatePassword(ctx, user.ID, hashed, passwordChangedStamp()); err != nil {
		span.RecordError(err)
		return AuthResult{}, fmt.Errorf("update password: %w", err)
	}

	result, err := s.issueSession(user)
	if err != nil {
		span.RecordError(err)
		return AuthResult{}, err
	}

	s.audit("password_update.success", "user_id", user.ID)
	return result, nil
}

// Profile returns the public projection of a user.
func (s *AuthService) Profile(ctx context.Context, userID int64) (domain.User, error) {
	ctx, span := s.startSpan(ctx, "AuthService.Profile")
	defer span.End()

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		span.RecordError(err)
		return domain.User{}, fmt.Errorf("load user: %w", err)
	}
	return user.Sanitize(), nil
}

// ListUsers returns all active users, admin-gated at the boundary.
func (s *AuthService) ListUsers(ctx context.Context) ([]domain.User, error) {
	ctx, span := s.startSpan(ctx, "AuthService.ListUsers")
	defer span.End()

	users, err := s.users.List(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("list users: %w", err)
	}
	for i := range users {
		users[i] = users[i].Sanitize()
	}
	return users, nil
}

func (s *AuthService) issueSession(user domain.User) (AuthResult, error) {
	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		return AuthResult{}, fmt.Errorf("issue session token: %w", err)
	}
	return AuthResult{
		Token:     token,
		TokenType: "Bearer",
		ExpiresIn: int64(s.tokens.TTL().Seconds()),
		User:      user.Sanitize(),
	}, nil
}

// passwordChangedStamp backs the changed-at timestamp off by a second
// so a token minted immediately after the change stays strictly newer.
func passwordChangedStamp() time.Time {
	return time.Now().UTC().Add(-time.Second)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *AuthService) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if s == nil || s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return s.tracer.Start(ctx, name)
}

func (s *AuthService) audit(event string, attrs ...any) {
	logger := s.log()
	if logger == nil {
		return
	}
	fields := make([]zap.Field, 0, len(attrs)/2+2)
	fields = append(fields, zap.String("event", event), zap.Time("timestamp", time.Now().UTC()))
	for i := 0; i+1 < len(attrs); i += 2 {
		key, ok := attrs[i].(string)
		if !ok {
			continue
		}
		fields = append(fields, zap.Any(key, attrs[i+1]))
	}
	logger.Info("audit", fields...)
}

func (s *AuthService) log() *zap.Logger {
	if s != nil && s.logger != nil {
		return s.logger
	}
	return zap.L()
}
