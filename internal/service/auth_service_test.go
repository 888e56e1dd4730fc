package service_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dlbhoang/shop-dunk/internal/domain"
	"github.com/dlbhoang/shop-dunk/internal/jwt"
	"github.com/dlbhoang/shop-dunk/internal/mail"
	"github.com/dlbhoang/shop-dunk/internal/password"
	"github.com/dlbhoang/shop-dunk/internal/resettoken"
	"github.com/dlbhoang/shop-dunk/internal/service"
)

func newTestService(t *testing.T, repo *memoryUserRepo, mailer mail.Sender) (*service.AuthService, *jwt.Service) {
	t.Helper()
	tokens, err := jwt.NewService("test-secret", time.Hour)
	require.NoError(t, err)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return service.NewAuthService(repo, tokens, mailer, node, zap.NewNop()), tokens
}

func signupInput(email string) service.SignupInput {
	return service.SignupInput{
		FullName:    "Nguyen Van A",
		Gender:      domain.GenderMale,
		Email:       email,
		PhoneNumber: "0912345678",
		Username:    "nguyenvana",
		Password:    "password123",
	}
}

func TestSignupAndLogin(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryUserRepo()
	svc, tokens := newTestService(t, repo, &memoryMailer{})

	created, err := svc.Signup(ctx, signupInput("A@X.com "))
	require.NoError(t, err)
	require.NotEmpty(t, created.Token)
	require.Equal(t, "Bearer", created.TokenType)
	require.Equal(t, int64(3600), created.ExpiresIn)
	require.Equal(t, "a@x.com", created.User.Email)
	require.Equal(t, domain.RoleUser, created.User.Role)
	require.Empty(t, created.User.PasswordHash)

	stored := repo.byEmail("a@x.com")
	require.NotEqual(t, "password123", stored.PasswordHash)
	ok, err := password.Verify("password123", stored.PasswordHash)
	require.NoError(t, err)
	require.True(t, ok)

	result, err := svc.Login(ctx, "a@x.com", "password123")
	require.NoError(t, err)

	sess, err := tokens.Verify(result.Token)
	require.NoError(t, err)
	require.Equal(t, created.User.ID, sess.SubjectID)
}

func TestSignupDuplicateEmail(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryUserRepo()
	svc, _ := newTestService(t, repo, &memoryMailer{})

	_, err := svc.Signup(ctx, signupInput("a@x.com"))
	require.NoError(t, err)

	_, err = svc.Signup(ctx, signupInput("a@x.com"))
	var authErr *domain.AuthError
	require.ErrorAs(t, err, &authErr)
	require.Equal(t, "invalid_request", authErr.Code)
}

func TestLoginOracleResistance(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryUserRepo()
	svc, _ := newTestService(t, repo, &memoryMailer{})

	_, err := svc.Signup(ctx, signupInput("a@x.com"))
	require.NoError(t, err)

	_, unknownErr := svc.Login(ctx, "nobody@x.com", "password123")
	_, wrongPassErr := svc.Login(ctx, "a@x.com", "wrong-password")

	var unknown, wrongPass *domain.AuthError
	require.ErrorAs(t, unknownErr, &unknown)
	require.ErrorAs(t, wrongPassErr, &wrongPass)
	require.Equal(t, unknown.Code, wrongPass.Code)
	require.Equal(t, unknown.Description, wrongPass.Description)
	require.Equal(t, unknown.Status, wrongPass.Status)
	require.Equal(t, "invalid_credentials", unknown.Code)
}

func TestLoginByUsername(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryUserRepo()
	svc, _ := newTestService(t, repo, &memoryMailer{})

	_, err := svc.Signup(ctx, signupInput("a@x.com"))
	require.NoError(t, err)

	_, err = svc.Login(ctx, "nguyenvana", "password123")
	require.NoError(t, err)
}

func TestAuthenticateToken(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryUserRepo()
	svc, tokens := newTestService(t, repo, &memoryMailer{})

	created, err := svc.Signup(ctx, signupInput("a@x.com"))
	require.NoError(t, err)

	user, err := svc.AuthenticateToken(ctx, created.Token)
	require.NoError(t, err)
	require.Equal(t, created.User.ID, user.ID)

	_, err = svc.AuthenticateToken(ctx, "garbage")
	requireAuthCode(t, err, "unauthenticated")

	// Token for a user that no longer exists.
	ghost, err := tokens.Issue(999999)
	require.NoError(t, err)
	_, err = svc.AuthenticateToken(ctx, ghost)
	requireAuthCode(t, err, "unauthenticated")
}

func TestAuthenticateTokenRejectsStaleToken(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryUserRepo()
	svc, tokens := newTestService(t, repo, &memoryMailer{})

	created, err := svc.Signup(ctx, signupInput("a@x.com"))
	require.NoError(t, err)

	sess, err := tokens.Verify(created.Token)
	require.NoError(t, err)

	// A change stamped at the token's own issue second invalidates it;
	// validity requires issuedAt strictly after the change.
	repo.setPasswordChangedAt(created.User.ID, sess.IssuedAt)
	_, err = svc.AuthenticateToken(ctx, created.Token)
	requireAuthCode(t, err, "unauthenticated")

	earlier := sess.IssuedAt.Add(-2 * time.Second)
	repo.setPasswordChangedAt(created.User.ID, earlier)
	_, err = svc.AuthenticateToken(ctx, created.Token)
	require.NoError(t, err)
}

func TestForgotResetRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryUserRepo()
	mailer := &memoryMailer{}
	svc, tokens := newTestService(t, repo, mailer)

	created, err := svc.Signup(ctx, signupInput("a@x.com"))
	require.NoError(t, err)

	err = svc.ForgotPassword(ctx, "a@x.com", "http://localhost/api/v1/users/resetPassword")
	require.NoError(t, err)
	require.Len(t, mailer.sent, 1)
	require.Equal(t, "a@x.com", mailer.sent[0].To)

	plain := lastURLSegment(t, mailer.sent[0].Body)
	stored := repo.byEmail("a@x.com")
	require.NotNil(t, stored.PasswordResetTokenHash)
	require.Equal(t, resettoken.HashToken(plain), *stored.PasswordResetTokenHash)
	require.NotNil(t, stored.PasswordResetExpiresAt)
	require.WithinDuration(t, time.Now().Add(resettoken.TTL), *stored.PasswordResetExpiresAt, 10*time.Second)

	result, err := svc.ResetPassword(ctx, plain, "newpassword456")
	require.NoError(t, err)

	sess, err := tokens.Verify(result.Token)
	require.NoError(t, err)
	require.Equal(t, created.User.ID, sess.SubjectID)

	stored = repo.byEmail("a@x.com")
	require.Nil(t, stored.PasswordResetTokenHash)
	require.Nil(t, stored.PasswordResetExpiresAt)
	require.NotNil(t, stored.PasswordChangedAt)

	_, err = svc.Login(ctx, "a@x.com", "newpassword456")
	require.NoError(t, err)
	_, err = svc.Login(ctx, "a@x.com", "password123")
	requireAuthCode(t, err, "invalid_credentials")

	// One-time use: the consumed token is gone.
	_, err = svc.ResetPassword(ctx, plain, "anotherpass789")
	requireAuthCode(t, err, "invalid_or_expired_token")
}

func TestResetPasswordExpiredToken(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryUserRepo()
	svc, _ := newTestService(t, repo, &memoryMailer{})

	created, err := svc.Signup(ctx, signupInput("a@x.com"))
	require.NoError(t, err)

	plain, digest, err := resettoken.Generate()
	require.NoError(t, err)
	repo.setResetTokenRaw(created.User.ID, digest, time.Now().Add(-time.Minute))

	_, err = svc.ResetPassword(ctx, plain, "newpassword456")
	requireAuthCode(t, err, "invalid_or_expired_token")
}

func TestResetPasswordUnknownToken(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryUserRepo()
	svc, _ := newTestService(t, repo, &memoryMailer{})

	_, err := svc.ResetPassword(ctx, "never-issued", "newpassword456")
	requireAuthCode(t, err, "invalid_or_expired_token")
}

func TestForgotPasswordUnknownEmailIsSilent(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryUserRepo()
	mailer := &memoryMailer{}
	svc, _ := newTestService(t, repo, mailer)

	err := svc.ForgotPassword(ctx, "nobody@x.com", "http://localhost/api/v1/users/resetPassword")
	require.NoError(t, err)
	require.Empty(t, mailer.sent)
}

func TestForgotPasswordMailFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryUserRepo()
	mailer := &memoryMailer{fail: true}
	svc, _ := newTestService(t, repo, mailer)

	_, err := svc.Signup(ctx, signupInput("a@x.com"))
	require.NoError(t, err)

	err = svc.ForgotPassword(ctx, "a@x.com", "http://localhost/api/v1/users/resetPassword")
	requireAuthCode(t, err, "email_delivery_failed")

	stored := repo.byEmail("a@x.com")
	require.Nil(t, stored.PasswordResetTokenHash)
	require.Nil(t, stored.PasswordResetExpiresAt)
}

func TestUpdatePassword(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryUserRepo()
	svc, _ := newTestService(t, repo, &memoryMailer{})

	created, err := svc.Signup(ctx, signupInput("a@x.com"))
	require.NoError(t, err)
	hashBefore := repo.byEmail("a@x.com").PasswordHash

	_, err = svc.UpdatePassword(ctx, created.User.ID, "wrong-password", "newpassword456")
	requireAuthCode(t, err, "invalid_credentials")
	require.Equal(t, hashBefore, repo.byEmail("a@x.com").PasswordHash)

	result, err := svc.UpdatePassword(ctx, created.User.ID, "password123", "newpassword456")
	require.NoError(t, err)
	require.NotEmpty(t, result.Token)
	require.NotEqual(t, hashBefore, repo.byEmail("a@x.com").PasswordHash)

	_, err = svc.Login(ctx, "a@x.com", "newpassword456")
	require.NoError(t, err)
}

func requireAuthCode(t *testing.T, err error, code string) {
	t.Helper()
	var authErr *domain.AuthError
	require.ErrorAs(t, err, &authErr)
	require.Equal(t, code, authErr.Code)
}

func lastURLSegment(t *testing.T, body string) string {
	t.Helper()
	start := strings.Index(body, "http://")
	require.GreaterOrEqual(t, start, 0)
	url := body[start:]
	if end := strings.IndexAny(url, " \n"); end >= 0 {
		url = url[:end]
	}
	parts := strings.Split(url, "/")
	return parts[len(parts)-1]
}

// memoryUserRepo is an in-memory UserRepository honoring the projection
// rules (default reads hide the password hash).
type memoryUserRepo struct {
	mu    sync.Mutex
	users map[int64]domain.User
}

func newMemoryUserRepo() *memoryUserRepo {
	return &memoryUserRepo{users: make(map[int64]domain.User)}
}

func (m *memoryUserRepo) byEmail(email string) domain.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return u
		}
	}
	return domain.User{}
}

func (m *memoryUserRepo) setPasswordChangedAt(id int64, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.users[id]
	u.PasswordChangedAt = &at
	m.users[id] = u
}

func (m *memoryUserRepo) setResetTokenRaw(id int64, digest string, expiresAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.users[id]
	u.PasswordResetTokenHash = &digest
	u.PasswordResetExpiresAt = &expiresAt
	m.users[id] = u
}

func (m *memoryUserRepo) FindByID(ctx context.Context, userID int64) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok || !u.Active {
		return domain.User{}, domain.ErrNotFound
	}
	u.PasswordHash = ""
	return u, nil
}

func (m *memoryUserRepo) FindByIDWithPassword(ctx context.Context, userID int64) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok || !u.Active {
		return domain.User{}, domain.ErrNotFound
	}
	return u, nil
}

func (m *memoryUserRepo) FindByEmailOrUsername(ctx context.Context, identifier string) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Active && (u.Email == strings.ToLower(identifier) || u.Username == identifier) {
			return u, nil
		}
	}
	return domain.User{}, domain.ErrNotFound
}

func (m *memoryUserRepo) FindByEmail(ctx context.Context, email string) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Active && u.Email == email {
			u.PasswordHash = ""
			return u, nil
		}
	}
	return domain.User{}, domain.ErrNotFound
}

func (m *memoryUserRepo) FindByResetTokenHash(ctx context.Context, digest string) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Active && u.PasswordResetTokenHash != nil && *u.PasswordResetTokenHash == digest {
			u.PasswordHash = ""
			return u, nil
		}
	}
	return domain.User{}, domain.ErrNotFound
}

func (m *memoryUserRepo) Create(ctx context.Context, user domain.User) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == user.Email || u.PhoneNumber == user.PhoneNumber {
			return domain.User{}, domain.ErrDuplicate
		}
	}
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now
	m.users[user.ID] = user
	return user, nil
}

func (m *memoryUserRepo) UpdatePassword(ctx context.Context, userID int64, passwordHash string, changedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return domain.ErrNotFound
	}
	u.PasswordHash = passwordHash
	u.PasswordChangedAt = &changedAt
	u.PasswordResetTokenHash = nil
	u.PasswordResetExpiresAt = nil
	u.UpdatedAt = time.Now().UTC()
	m.users[userID] = u
	return nil
}

func (m *memoryUserRepo) SetResetToken(ctx context.Context, userID int64, digest string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return domain.ErrNotFound
	}
	u.PasswordResetTokenHash = &digest
	u.PasswordResetExpiresAt = &expiresAt
	m.users[userID] = u
	return nil
}

func (m *memoryUserRepo) ClearResetToken(ctx context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return domain.ErrNotFound
	}
	u.PasswordResetTokenHash = nil
	u.PasswordResetExpiresAt = nil
	m.users[userID] = u
	return nil
}

func (m *memoryUserRepo) List(ctx context.Context) ([]domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.User
	for _, u := range m.users {
		if u.Active {
			u.PasswordHash = ""
			out = append(out, u)
		}
	}
	return out, nil
}

type memoryMailer struct {
	mu   sync.Mutex
	sent []mail.Message
	fail bool
}

func (m *memoryMailer) Send(ctx context.Context, msg mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("smtp unavailable")
	}
	m.sent = append(m.sent, msg)
	return nil
}
