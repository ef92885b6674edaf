package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/khanghh/rms/internal/audit"
	"github.com/khanghh/rms/internal/metrics"
	"github.com/khanghh/rms/internal/policy"
	"github.com/khanghh/rms/internal/users"
	"github.com/khanghh/rms/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAccountStore keeps accounts in memory and stores passwords in plain text.
type fakeAccountStore struct {
	users       map[string]*model.User
	nextID      uint
	verifyCalls int
	failUpdates error
	storeNow    time.Time // password_updated_at written by UpdatePassword
}

func newFakeAccountStore() *fakeAccountStore {
	return &fakeAccountStore{users: make(map[string]*model.User), nextID: 1}
}

func (s *fakeAccountStore) add(user *model.User) *model.User {
	user.ID = s.nextID
	s.nextID++
	s.users[user.Username] = user
	return user
}

func (s *fakeAccountStore) GetUserByID(ctx context.Context, userID uint) (*model.User, error) {
	for _, user := range s.users {
		if user.ID == userID {
			copied := *user
			return &copied, nil
		}
	}
	return nil, users.ErrUserNotFound
}

func (s *fakeAccountStore) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	user, ok := s.users[username]
	if !ok {
		return nil, users.ErrUserNotFound
	}
	copied := *user
	return &copied, nil
}

func (s *fakeAccountStore) VerifyPassword(user *model.User, password string) bool {
	s.verifyCalls++
	return user.PasswordHash == password
}

func (s *fakeAccountStore) CreateUser(ctx context.Context, opts users.CreateUserOptions) (*model.User, error) {
	for _, user := range s.users {
		if user.Username == opts.Username {
			return nil, users.ErrUsernameTaken
		}
		if opts.Email != "" && user.EmailAddress() == opts.Email {
			return nil, users.ErrEmailRegistered
		}
	}
	user := &model.User{Username: opts.Username, PasswordHash: opts.Password, Name: opts.Name, Role: opts.Role}
	if opts.Email != "" {
		user.Email = &opts.Email
	}
	return s.add(user), nil
}

func (s *fakeAccountStore) UpdatePassword(ctx context.Context, userID uint, newPassword string) (time.Time, error) {
	for _, user := range s.users {
		if user.ID == userID {
			updatedAt := s.storeNow
			user.PasswordHash = newPassword
			user.PasswordUpdatedAt = &updatedAt
			return updatedAt, nil
		}
	}
	return time.Time{}, users.ErrUserNotFound
}

func (s *fakeAccountStore) UpdateLoginState(ctx context.Context, userID uint, state users.LoginState) error {
	if s.failUpdates != nil {
		return s.failUpdates
	}
	for _, user := range s.users {
		if user.ID == userID {
			user.LoginFailures = state.LoginFailures
			user.LockedUntil = state.LockedUntil
			if state.LastLoginAt != nil {
				user.LastLoginAt = state.LastLoginAt
				user.LastLoginIP = state.LastLoginIP
			}
			return nil
		}
	}
	return users.ErrUserNotFound
}

type memorySink struct {
	entries []*model.OperationLog
}

func (s *memorySink) Append(ctx context.Context, entry *model.OperationLog) error {
	s.entries = append(s.entries, entry)
	return nil
}

func (s *memorySink) last() *model.OperationLog {
	return s.entries[len(s.entries)-1]
}

type brokenSink struct{}

func (brokenSink) Append(ctx context.Context, entry *model.OperationLog) error {
	return errors.New("audit table missing")
}

type lockRecorder struct {
	usernames []string
}

func (r *lockRecorder) NotifyAccountLocked(ctx context.Context, user *model.User, until time.Time, minutes int) error {
	r.usernames = append(r.usernames, user.Username)
	return nil
}

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

type testEnv struct {
	store    *fakeAccountStore
	sink     *memorySink
	clock    *clock
	notifier *lockRecorder
	svc      *AuthService
}

var testRequest = audit.RequestContext{
	Method:     "POST",
	Path:       "/api/auth/login",
	RemoteAddr: "192.168.1.100",
	UserAgent:  "Mozilla/5.0",
}

func newTestEnv(t *testing.T, sink audit.Sink) *testEnv {
	env := &testEnv{
		store:    newFakeAccountStore(),
		sink:     &memorySink{},
		clock:    &clock{time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)},
		notifier: &lockRecorder{},
	}
	if sink == nil {
		sink = env.sink
	}
	pwPolicy := policy.NewPasswordPolicy(policy.DefaultConfig(), policy.WithClock(env.clock.Now))
	tokens := NewTokenManager("test-secret", "rms", 24*time.Hour, WithTokenClock(env.clock.Now))
	auditLog := audit.NewLogger(sink, audit.WithClock(env.clock.Now))
	env.svc = NewAuthService(env.store, pwPolicy, tokens, auditLog, WithLockNotifier(env.notifier))

	updated := env.clock.now.AddDate(0, 0, -10)
	env.store.add(&model.User{Username: "alice", PasswordHash: "Admin123!", Role: model.RoleTeacher, PasswordUpdatedAt: &updated})
	return env
}

func TestLogin_Success(t *testing.T) {
	env := newTestEnv(t, nil)

	result, err := env.svc.Login(context.Background(), "alice", "Admin123!", testRequest)
	require.NoError(t, err)
	assert.NotEmpty(t, result.AccessToken)
	assert.Equal(t, "bearer", result.TokenType)
	assert.Equal(t, env.clock.now.Add(24*time.Hour), result.ExpiresAt)
	assert.Empty(t, result.Warning)

	stored := env.store.users["alice"]
	require.NotNil(t, stored.LastLoginAt)
	assert.Equal(t, env.clock.now, *stored.LastLoginAt)
	assert.Equal(t, "192.168.1.100", stored.LastLoginIP)

	entry := env.sink.last()
	assert.Equal(t, "登录", entry.Operation)
	assert.Equal(t, model.StatusSuccess, entry.Status)

	claims, err := env.svc.tokens.Verify(result.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, stored.ID, claims.UserID)
	assert.Equal(t, "alice", claims.Username)
}

func TestLogin_UnknownUser(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.svc.Login(context.Background(), "mallory", "whatever", testRequest)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.Equal(t, "用户名或密码错误", err.Error())
	assert.Zero(t, env.store.verifyCalls)

	entry := env.sink.last()
	assert.Equal(t, "登录失败", entry.Operation)
	assert.Equal(t, "mallory", entry.Username)
	require.NotNil(t, entry.ErrorMsg)
	assert.Equal(t, "用户不存在", *entry.ErrorMsg)
}

func TestLogin_LockoutSequence(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	for _, left := range []int{4, 3, 2, 1} {
		_, err := env.svc.Login(ctx, "alice", "wrong", testRequest)
		var failErr *LoginFailError
		require.ErrorAs(t, err, &failErr)
		assert.Equal(t, left, failErr.AttemptsLeft)
		assert.Contains(t, err.Error(), "还剩")
		assert.Nil(t, env.store.users["alice"].LockedUntil)
	}
	assert.Equal(t, 4, env.store.users["alice"].LoginFailures)

	_, err := env.svc.Login(ctx, "alice", "wrong", testRequest)
	var lockErr *AccountLockedError
	require.ErrorAs(t, err, &lockErr)
	assert.True(t, lockErr.Triggered)
	assert.Equal(t, 30, lockErr.Minutes)
	assert.Equal(t, "登录失败次数过多，账号已被锁定 30 分钟", err.Error())
	stored := env.store.users["alice"]
	assert.Equal(t, 5, stored.LoginFailures)
	require.NotNil(t, stored.LockedUntil)
	assert.Equal(t, env.clock.now.Add(30*time.Minute), *stored.LockedUntil)
	assert.Equal(t, []string{"alice"}, env.notifier.usernames)
	assert.Equal(t, 5, env.store.verifyCalls)

	env.clock.now = env.clock.now.Add(10*time.Minute + 30*time.Second)
	_, err = env.svc.Login(ctx, "alice", "Admin123!", testRequest)
	require.ErrorAs(t, err, &lockErr)
	assert.False(t, lockErr.Triggered)
	assert.Equal(t, 20, lockErr.Minutes)
	assert.Equal(t, "账号已被锁定，请在 20 分钟后重试", err.Error())
	assert.Equal(t, 5, env.store.verifyCalls)
	assert.Equal(t, 5, env.store.users["alice"].LoginFailures)
	assert.Equal(t, err.Error(), *env.sink.last().ErrorMsg)

	assert.Len(t, env.sink.entries, 6)
	for _, entry := range env.sink.entries {
		assert.Equal(t, "登录失败", entry.Operation)
	}
}

func TestLogin_LockMetrics(t *testing.T) {
	env := newTestEnv(t, nil)
	m := metrics.NewMetrics("rms", prometheus.NewRegistry())
	env.svc.metrics = m
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _ = env.svc.Login(ctx, "alice", "wrong", testRequest)
	}
	for i := 0; i < 3; i++ {
		_, err := env.svc.Login(ctx, "alice", "Admin123!", testRequest)
		var lockErr *AccountLockedError
		require.ErrorAs(t, err, &lockErr)
		assert.False(t, lockErr.Triggered)
	}

	assert.Equal(t, 1.0, testutil.ToFloat64(m.AccountLocksTotal))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.LoginAttemptsTotal.WithLabelValues(metrics.LoginFailed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LoginAttemptsTotal.WithLabelValues(metrics.LoginLocked)))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.LoginAttemptsTotal.WithLabelValues(metrics.LoginBlocked)))
}

func TestLogin_SuccessResetsFailures(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := env.svc.Login(ctx, "alice", "wrong", testRequest)
		require.Error(t, err)
	}
	_, err := env.svc.Login(ctx, "alice", "Admin123!", testRequest)
	require.NoError(t, err)

	stored := env.store.users["alice"]
	assert.Zero(t, stored.LoginFailures)
	assert.Nil(t, stored.LockedUntil)
	assert.NotNil(t, stored.LastLoginAt)
}

func TestLogin_ExpiredLock(t *testing.T) {
	env := newTestEnv(t, nil)
	lockedUntil := env.clock.now.Add(-time.Minute)
	env.store.users["alice"].LoginFailures = 5
	env.store.users["alice"].LockedUntil = &lockedUntil

	result, err := env.svc.Login(context.Background(), "alice", "Admin123!", testRequest)
	require.NoError(t, err)
	assert.Nil(t, result.User.LockedUntil)
	assert.Nil(t, env.store.users["alice"].LockedUntil)
	assert.Zero(t, env.store.users["alice"].LoginFailures)
}

func TestLogin_PasswordExpiryWarning(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	nearExpiry := env.clock.now.AddDate(0, 0, -85)
	env.store.users["alice"].PasswordUpdatedAt = &nearExpiry
	result, err := env.svc.Login(ctx, "alice", "Admin123!", testRequest)
	require.NoError(t, err)
	assert.Equal(t, "您的密码将在 5 天后过期，请及时修改", result.Warning)

	expired := env.clock.now.AddDate(0, 0, -100)
	env.store.users["alice"].PasswordUpdatedAt = &expired
	result, err = env.svc.Login(ctx, "alice", "Admin123!", testRequest)
	require.NoError(t, err)
	assert.Equal(t, "您的密码已过期，请尽快修改密码", result.Warning)
}

func TestLogin_StoreFailurePropagates(t *testing.T) {
	env := newTestEnv(t, nil)
	storeErr := errors.New("connection refused")
	env.store.failUpdates = storeErr

	_, err := env.svc.Login(context.Background(), "alice", "Admin123!", testRequest)
	assert.ErrorIs(t, err, storeErr)
}

func TestLogin_AuditFailureDoesNotChangeOutcome(t *testing.T) {
	env := newTestEnv(t, brokenSink{})
	ctx := context.Background()

	result, err := env.svc.Login(ctx, "alice", "Admin123!", testRequest)
	require.NoError(t, err)
	assert.NotEmpty(t, result.AccessToken)

	_, err = env.svc.Login(ctx, "alice", "wrong", testRequest)
	var failErr *LoginFailError
	assert.ErrorAs(t, err, &failErr)
}

func TestRegister(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	_, err := env.svc.Register(ctx, RegisterRequest{Username: "bob", Password: "Admin123", Name: "Bob"}, testRequest)
	var weakErr *WeakPasswordError
	require.ErrorAs(t, err, &weakErr)
	assert.Contains(t, weakErr.Reason, "特殊字符")
	assert.NotContains(t, env.store.users, "bob")
	assert.Equal(t, "注册", env.sink.last().Operation)
	assert.Equal(t, model.StatusFailed, env.sink.last().Status)

	user, err := env.svc.Register(ctx, RegisterRequest{Username: "bob", Password: "Admin123!", Name: "Bob", Email: "bob@example.edu"}, testRequest)
	require.NoError(t, err)
	assert.Equal(t, model.RoleTeacher, user.Role)
	assert.Contains(t, env.store.users, "bob")
	entry := env.sink.last()
	assert.Equal(t, "创建用户", entry.Operation)
	assert.Equal(t, "user", entry.Module)
	require.NotNil(t, entry.UserID)
	assert.Equal(t, user.ID, *entry.UserID)
}

func TestRegister_Conflicts(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	_, err := env.svc.Register(ctx, RegisterRequest{Username: "bob", Password: "Admin123!", Name: "Bob", Email: "bob@example.edu"}, testRequest)
	require.NoError(t, err)

	_, err = env.svc.Register(ctx, RegisterRequest{Username: "alice", Password: "Admin123!", Name: "A"}, testRequest)
	assert.ErrorIs(t, err, ErrUsernameTaken)
	assert.Equal(t, "用户名已存在", *env.sink.last().ErrorMsg)

	_, err = env.svc.Register(ctx, RegisterRequest{Username: "bob2", Password: "Admin123!", Name: "B", Email: "bob@example.edu"}, testRequest)
	assert.ErrorIs(t, err, ErrEmailRegistered)
	assert.Equal(t, "邮箱已被使用", *env.sink.last().ErrorMsg)
}

func TestChangePassword(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	user, err := env.store.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)

	err = env.svc.ChangePassword(ctx, user, "nope", "N3w-Secret", testRequest)
	assert.ErrorIs(t, err, ErrIncorrectPassword)
	assert.Equal(t, "旧密码错误", *env.sink.last().ErrorMsg)

	err = env.svc.ChangePassword(ctx, user, "Admin123!", "short", testRequest)
	var weakErr *WeakPasswordError
	assert.ErrorAs(t, err, &weakErr)
	assert.Equal(t, "Admin123!", env.store.users["alice"].PasswordHash)

	env.store.storeNow = env.clock.now.Add(1500 * time.Millisecond)
	require.NoError(t, env.svc.ChangePassword(ctx, user, "Admin123!", "N3w-Secret", testRequest))
	assert.Equal(t, "N3w-Secret", env.store.users["alice"].PasswordHash)
	assert.Equal(t, env.store.storeNow, *user.PasswordUpdatedAt)
	assert.Equal(t, *env.store.users["alice"].PasswordUpdatedAt, *user.PasswordUpdatedAt)

	entry := env.sink.last()
	assert.Equal(t, "修改密码", entry.Operation)
	assert.Equal(t, model.StatusSuccess, entry.Status)
	assert.Equal(t, "alice", entry.Username)
}

func TestAuthenticate(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	result, err := env.svc.Login(ctx, "alice", "Admin123!", testRequest)
	require.NoError(t, err)

	user, err := env.svc.Authenticate(ctx, result.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)

	delete(env.store.users, "alice")
	_, err = env.svc.Authenticate(ctx, result.AccessToken)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}
