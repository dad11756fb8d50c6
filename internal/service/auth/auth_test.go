package auth

import (
	"context"
	"errors"
	"net/url"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/askibill/askibill/internal/apperrors"
	"github.com/askibill/askibill/internal/mailer"
	"github.com/askibill/askibill/internal/models"
	"github.com/askibill/askibill/internal/repository/postgres"
	"github.com/askibill/askibill/internal/service/auth/tokencodec"
	"github.com/askibill/askibill/internal/service/session"
	"github.com/askibill/askibill/internal/service/user"
	"github.com/askibill/askibill/internal/testutil"
)

// Sender which records messages instead of delivering
type fakeMailer struct {
	mu   sync.Mutex
	sent []mailer.Message
	err  error
}

func (m *fakeMailer) Send(ctx context.Context, msg mailer.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

var resetTokenRe = regexp.MustCompile(`token=(\S+)`)

func resetTokenFrom(t *testing.T, msg mailer.Message) string {
	t.Helper()
	match := resetTokenRe.FindStringSubmatch(msg.Text)
	require.Len(t, match, 2, "reset link with token expected in email")
	token, err := url.QueryUnescape(match[1])
	require.NoError(t, err)
	return token
}

type testEnv struct {
	s      *AuthService
	mailer *fakeMailer
	now    *time.Time
}

func newTestService(t *testing.T, db postgres.DBTX) testEnv {
	t.Helper()

	now := time.Now().UTC().Truncate(time.Second)
	clock := func() time.Time { return now }
	storage := postgres.NewStorage(db)

	tokens, err := tokencodec.New(tokencodec.Config{
		SecretKey:  "test-secret-key",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 24 * time.Hour,
		ResetTTL:   10 * time.Minute,
		Now:        clock,
	})
	require.NoError(t, err, "token codec should be created without errors")

	sessions, err := session.NewRegistry(session.Config{TTL: 24 * time.Hour, Now: clock}, storage.Session())
	require.NoError(t, err)

	users := user.NewService(user.BcryptHasher{Cost: bcrypt.MinCost}, storage.User())
	m := &fakeMailer{}

	s, err := NewService(Config{ResetURL: "https://app.example.com/reset?lang=en"}, users, sessions, tokens, m, nil)
	require.NoError(t, err, "auth service could't be started")

	return testEnv{s: s, mailer: m, now: &now}
}

func Test_Auth(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	withTx := func(t *testing.T, fn func(e testEnv)) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			fn(newTestService(t, tx))
		})
	}

	device := models.DeviceInfo{UserAgent: "Mozilla/5.0", IPAddress: "10.1.1.1", Device: "phone"}
	jane := RegisterParams{Email: "jane@example.com", Password: "Password123", FirstName: "Jane", LastName: "Doe"}

	// Register jane and log her in
	login := func(t *testing.T, e testEnv) (models.User, models.TokenPair) {
		u, err := e.s.Register(t.Context(), jane)
		require.NoError(t, err)
		pair, err := e.s.Login(t.Context(), jane.Email, jane.Password, device)
		require.NoError(t, err)
		return u, pair
	}

	t.Run("new service without deps fail", func(t *testing.T) {
		_, err := NewService(Config{}, nil, nil, nil, nil, nil)
		require.Error(t, err)
	})

	t.Run("Register", func(t *testing.T) {
		t.Run("new user ok", func(t *testing.T) {
			withTx(t, func(e testEnv) {
				u, err := e.s.Register(t.Context(), jane)

				require.NoError(t, err, "registering new user should be ok")
				assert.Equal(t, "jane@example.com", u.Email)
				assert.Equal(t, "Jane", u.FirstName)
				assert.True(t, u.IsActive)

				sessions, err := e.s.ListSessions(t.Context(), u.ID)
				require.NoError(t, err)
				assert.Empty(t, sessions, "register must not open session")
			})
		})

		t.Run("fail if user exists", func(t *testing.T) {
			withTx(t, func(e testEnv) {
				_, err := e.s.Register(t.Context(), jane)
				require.NoError(t, err, "no error has should happen if user not exists")

				_, err = e.s.Register(t.Context(), RegisterParams{Email: "JANE@example.com", Password: "Other12345"})

				require.ErrorIs(t, err, apperrors.ErrUserAlreadyExists)
			})
		})
	})

	t.Run("Register concurrently", func(t *testing.T) {
		e := newTestService(t, pg.Pool)
		email := uuid.NewString() + "@example.com"

		var wg sync.WaitGroup
		errs := make([]error, 8)
		for i := range errs {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, errs[i] = e.s.Register(context.Background(), RegisterParams{Email: email, Password: "Password123"})
			}()
		}
		wg.Wait()

		succeeded := 0
		for _, err := range errs {
			if err == nil {
				succeeded++
				continue
			}
			assert.ErrorIs(t, err, apperrors.ErrUserAlreadyExists)
		}
		assert.Equal(t, 1, succeeded, "exactly one registration must win")
	})

	t.Run("Login", func(t *testing.T) {
		t.Run("existing user ok", func(t *testing.T) {
			withTx(t, func(e testEnv) {
				u, pair := login(t, e)

				require.NotEmpty(t, pair.Access.Value, "access token should not be empty")
				require.NotEmpty(t, pair.Refresh.Value, "refresh token should not be empty")
				assert.Equal(t, 15*time.Minute, pair.ExpiresIn)
				assert.Equal(t, e.now.Add(15*time.Minute), pair.Access.ExpiresAt)

				sessions, err := e.s.ListSessions(t.Context(), u.ID)
				require.NoError(t, err)
				require.Len(t, sessions, 1, "login opens exactly one session")
				assert.Equal(t, device, sessions[0].Device)
			})
		})

		t.Run("each login opens own session", func(t *testing.T) {
			withTx(t, func(e testEnv) {
				u, first := login(t, e)
				second, err := e.s.Login(t.Context(), jane.Email, jane.Password, device)
				require.NoError(t, err)

				_, firstSession, err := e.s.Authenticate(t.Context(), first.Access.Value)
				require.NoError(t, err)
				_, secondSession, err := e.s.Authenticate(t.Context(), second.Access.Value)
				require.NoError(t, err)

				assert.NotEqual(t, firstSession.ID, secondSession.ID)
				sessions, err := e.s.ListSessions(t.Context(), u.ID)
				require.NoError(t, err)
				assert.Len(t, sessions, 2)
			})
		})

		tests := []struct {
			name        string
			email       string
			password    string
			expectedErr error
		}{
			{
				name:        "login fail if wrong password",
				email:       "jane@example.com",
				password:    "wrong",
				expectedErr: apperrors.ErrInvalidCredentials,
			},
			{
				name:        "login fail if user not exists",
				email:       "nobody@example.com",
				password:    "Password123",
				expectedErr: apperrors.ErrInvalidCredentials,
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				withTx(t, func(e testEnv) {
					_, err := e.s.Register(t.Context(), jane)
					require.NoError(t, err)

					_, err = e.s.Login(t.Context(), tt.email, tt.password, device)

					require.ErrorIs(t, err, tt.expectedErr)
				})
			})
		}
	})

	t.Run("Refresh", func(t *testing.T) {
		t.Run("refresh ok", func(t *testing.T) {
			withTx(t, func(e testEnv) {
				_, initial := login(t, e)
				_, initialSession, err := e.s.Authenticate(t.Context(), initial.Access.Value)
				require.NoError(t, err)

				*e.now = e.now.Add(time.Minute)
				pair, err := e.s.Refresh(t.Context(), initial.Refresh.Value)

				require.NoError(t, err)
				require.NotEqual(t, initial.Access.Value, pair.Access.Value, "new access token should be different")
				require.NotEqual(t, initial.Refresh.Value, pair.Refresh.Value, "new refresh token should be different")

				_, refreshedSession, err := e.s.Authenticate(t.Context(), pair.Access.Value)
				require.NoError(t, err)
				assert.Equal(t, initialSession.ID, refreshedSession.ID, "refresh keeps the session")
				assert.True(t, initialSession.ExpiresAt.Equal(refreshedSession.ExpiresAt), "session expiration never moves")
			})
		})

		t.Run("used refresh token still valid", func(t *testing.T) {
			withTx(t, func(e testEnv) {
				_, initial := login(t, e)

				_, err := e.s.Refresh(t.Context(), initial.Refresh.Value)
				require.NoError(t, err)
				_, err = e.s.Refresh(t.Context(), initial.Refresh.Value)
				require.NoError(t, err, "refresh token reuse is not detected")
			})
		})

		t.Run("access token as refresh fail", func(t *testing.T) {
			withTx(t, func(e testEnv) {
				_, pair := login(t, e)

				_, err := e.s.Refresh(t.Context(), pair.Access.Value)

				require.ErrorIs(t, err, apperrors.ErrInvalidToken)
			})
		})

		t.Run("garbage fail", func(t *testing.T) {
			withTx(t, func(e testEnv) {
				_, err := e.s.Refresh(t.Context(), "not-a-token")

				require.ErrorIs(t, err, apperrors.ErrInvalidToken)
			})
		})

		t.Run("logged out session fail", func(t *testing.T) {
			withTx(t, func(e testEnv) {
				_, pair := login(t, e)
				require.NoError(t, e.s.Logout(t.Context(), pair.Access.Value))

				_, err := e.s.Refresh(t.Context(), pair.Refresh.Value)

				require.ErrorIs(t, err, apperrors.ErrSessionInvalid)
			})
		})

		t.Run("expired session fail", func(t *testing.T) {
			withTx(t, func(e testEnv) {
				_, pair := login(t, e)

				*e.now = e.now.Add(24 * time.Hour)
				_, err := e.s.Refresh(t.Context(), pair.Refresh.Value)

				require.Error(t, err, "refresh token expires together with session")
			})
		})

		t.Run("disabled user fail", func(t *testing.T) {
			testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
				e := newTestService(t, tx)
				u, pair := login(t, e)
				require.NoError(t, postgres.NewStorage(tx).User().SetActive(t.Context(), u.ID, false))

				_, err := e.s.Refresh(t.Context(), pair.Refresh.Value)

				require.ErrorIs(t, err, apperrors.ErrAccountDisabled, "disabled user must not get new tokens")
			})
		})
	})

	t.Run("Logout", func(t *testing.T) {
		t.Run("logout ok", func(t *testing.T) {
			withTx(t, func(e testEnv) {
				_, pair := login(t, e)

				err := e.s.Logout(t.Context(), pair.Access.Value)
				require.NoError(t, err)

				_, _, err = e.s.Authenticate(t.Context(), pair.Access.Value)
				require.ErrorIs(t, err, apperrors.ErrSessionInvalid, "access token of logged out session must be rejected")
			})
		})

		t.Run("logout twice ok", func(t *testing.T) {
			withTx(t, func(e testEnv) {
				_, pair := login(t, e)

				require.NoError(t, e.s.Logout(t.Context(), pair.Access.Value))
				require.NoError(t, e.s.Logout(t.Context(), pair.Access.Value))
			})
		})

		t.Run("invalid token ignored", func(t *testing.T) {
			withTx(t, func(e testEnv) {
				err := e.s.Logout(t.Context(), "not-a-token")

				require.NoError(t, err)
			})
		})

		t.Run("other sessions stay", func(t *testing.T) {
			withTx(t, func(e testEnv) {
				_, first := login(t, e)
				second, err := e.s.Login(t.Context(), jane.Email, jane.Password, device)
				require.NoError(t, err)

				require.NoError(t, e.s.Logout(t.Context(), first.Access.Value))

				_, _, err = e.s.Authenticate(t.Context(), second.Access.Value)
				require.NoError(t, err)
			})
		})
	})

	t.Run("Authenticate", func(t *testing.T) {
		t.Run("authenticate ok", func(t *testing.T) {
			withTx(t, func(e testEnv) {
				u, pair := login(t, e)

				got, s, err := e.s.Authenticate(t.Context(), pair.Access.Value)

				require.NoError(t, err)
				assert.Equal(t, u.ID, got.ID)
				assert.Equal(t, u.ID, s.UserID)
				assert.True(t, s.IsActive)
			})
		})

		t.Run("refresh token as access fail", func(t *testing.T) {
			withTx(t, func(e testEnv) {
				_, pair := login(t, e)

				_, _, err := e.s.Authenticate(t.Context(), pair.Refresh.Value)

				require.ErrorIs(t, err, apperrors.ErrInvalidToken)
			})
		})

		t.Run("expired access token fail", func(t *testing.T) {
			withTx(t, func(e testEnv) {
				_, pair := login(t, e)

				*e.now = pair.Access.ExpiresAt
				_, _, err := e.s.Authenticate(t.Context(), pair.Access.Value)

				require.ErrorIs(t, err, apperrors.ErrInvalidToken)
			})
		})

		t.Run("disabled user fail", func(t *testing.T) {
			testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
				e := newTestService(t, tx)
				u, pair := login(t, e)
				require.NoError(t, postgres.NewStorage(tx).User().SetActive(t.Context(), u.ID, false))

				_, _, err := e.s.Authenticate(t.Context(), pair.Access.Value)
				require.ErrorIs(t, err, apperrors.ErrAccountDisabled)

				_, err = e.s.Login(t.Context(), jane.Email, jane.Password, device)
				require.ErrorIs(t, err, apperrors.ErrAccountDisabled)
			})
		})
	})

	t.Run("ForgotPassword", func(t *testing.T) {
		t.Run("unknown email ignored", func(t *testing.T) {
			withTx(t, func(e testEnv) {
				err := e.s.ForgotPassword(t.Context(), "nobody@example.com")

				require.NoError(t, err)
				assert.Empty(t, e.mailer.sent, "no email for unknown user")
			})
		})

		t.Run("email sent", func(t *testing.T) {
			withTx(t, func(e testEnv) {
				_, err := e.s.Register(t.Context(), jane)
				require.NoError(t, err)

				err = e.s.ForgotPassword(t.Context(), "Jane@Example.com")
				require.NoError(t, err)

				require.Len(t, e.mailer.sent, 1)
				msg := e.mailer.sent[0]
				assert.Equal(t, "jane@example.com", msg.To)
				assert.Contains(t, msg.Text, "https://app.example.com/reset?")
				assert.Contains(t, msg.Text, "lang=en", "configured query is kept")
				assert.NotEmpty(t, resetTokenFrom(t, msg))
			})
		})

		t.Run("delivery failure", func(t *testing.T) {
			withTx(t, func(e testEnv) {
				_, err := e.s.Register(t.Context(), jane)
				require.NoError(t, err)
				e.mailer.err = errors.New("smtp is down")

				err = e.s.ForgotPassword(t.Context(), jane.Email)

				require.ErrorIs(t, err, apperrors.ErrEmailDelivery)
			})
		})
	})

	t.Run("ResetPassword", func(t *testing.T) {
		t.Run("reset ok", func(t *testing.T) {
			withTx(t, func(e testEnv) {
				u, pair := login(t, e)
				require.NoError(t, e.s.ForgotPassword(t.Context(), jane.Email))
				token := resetTokenFrom(t, e.mailer.sent[0])

				err := e.s.ResetPassword(t.Context(), token, "BrandNew123")
				require.NoError(t, err)

				_, _, err = e.s.Authenticate(t.Context(), pair.Access.Value)
				require.ErrorIs(t, err, apperrors.ErrSessionInvalid, "reset logs out everywhere")

				sessions, err := e.s.ListSessions(t.Context(), u.ID)
				require.NoError(t, err)
				for _, s := range sessions {
					assert.False(t, s.IsActive)
				}

				_, err = e.s.Login(t.Context(), jane.Email, jane.Password, device)
				require.ErrorIs(t, err, apperrors.ErrInvalidCredentials, "old password must stop working")
				_, err = e.s.Login(t.Context(), jane.Email, "BrandNew123", device)
				require.NoError(t, err)
			})
		})

		t.Run("expired token fail", func(t *testing.T) {
			withTx(t, func(e testEnv) {
				_, err := e.s.Register(t.Context(), jane)
				require.NoError(t, err)
				require.NoError(t, e.s.ForgotPassword(t.Context(), jane.Email))
				token := resetTokenFrom(t, e.mailer.sent[0])

				*e.now = e.now.Add(10 * time.Minute)
				err = e.s.ResetPassword(t.Context(), token, "BrandNew123")

				require.ErrorIs(t, err, apperrors.ErrInvalidToken)
			})
		})

		t.Run("access token as reset fail", func(t *testing.T) {
			withTx(t, func(e testEnv) {
				_, pair := login(t, e)

				err := e.s.ResetPassword(t.Context(), pair.Access.Value, "BrandNew123")

				require.ErrorIs(t, err, apperrors.ErrInvalidToken)
			})
		})
	})

	t.Run("ChangePassword", func(t *testing.T) {
		t.Run("change ok", func(t *testing.T) {
			withTx(t, func(e testEnv) {
				u, pair := login(t, e)

				err := e.s.ChangePassword(t.Context(), u.ID, jane.Password, "Changed1234")
				require.NoError(t, err)

				_, _, err = e.s.Authenticate(t.Context(), pair.Access.Value)
				require.NoError(t, err, "sessions survive password change")

				_, err = e.s.Login(t.Context(), jane.Email, "Changed1234", device)
				require.NoError(t, err)
			})
		})

		t.Run("wrong current password fail", func(t *testing.T) {
			withTx(t, func(e testEnv) {
				u, _ := login(t, e)

				err := e.s.ChangePassword(t.Context(), u.ID, "wrong", "Changed1234")

				require.ErrorIs(t, err, apperrors.ErrInvalidCredentials)
			})
		})
	})

	t.Run("RevokeSession", func(t *testing.T) {
		t.Run("revoke own ok", func(t *testing.T) {
			withTx(t, func(e testEnv) {
				u, pair := login(t, e)
				_, s, err := e.s.Authenticate(t.Context(), pair.Access.Value)
				require.NoError(t, err)

				err = e.s.RevokeSession(t.Context(), u.ID, s.ID)
				require.NoError(t, err)

				_, _, err = e.s.Authenticate(t.Context(), pair.Access.Value)
				require.ErrorIs(t, err, apperrors.ErrSessionInvalid)
			})
		})

		t.Run("revoke foreign fail", func(t *testing.T) {
			withTx(t, func(e testEnv) {
				_, pair := login(t, e)
				_, s, err := e.s.Authenticate(t.Context(), pair.Access.Value)
				require.NoError(t, err)
				intruder, err := e.s.Register(t.Context(), RegisterParams{Email: "mallory@example.com", Password: "Password123"})
				require.NoError(t, err)

				err = e.s.RevokeSession(t.Context(), intruder.ID, s.ID)
				require.ErrorIs(t, err, apperrors.ErrSessionNotFound)

				_, _, err = e.s.Authenticate(t.Context(), pair.Access.Value)
				require.NoError(t, err, "foreign session must stay active")
			})
		})

		t.Run("revoke unknown fail", func(t *testing.T) {
			withTx(t, func(e testEnv) {
				u, _ := login(t, e)

				err := e.s.RevokeSession(t.Context(), u.ID, uuid.New())

				require.ErrorIs(t, err, apperrors.ErrSessionNotFound)
			})
		})
	})
}
