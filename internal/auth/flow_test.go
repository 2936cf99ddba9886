package auth

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/lexconsult/client/internal/gateway"
	"github.com/lexconsult/client/internal/model"
	"github.com/lexconsult/client/internal/ownership"
	"github.com/lexconsult/client/internal/repo"
	"github.com/lexconsult/client/internal/session"
)

// --- mocks ---

type mockGateway struct{ mock.Mock }

func (m *mockGateway) RequestCode(ctx context.Context, phone string) error {
	return m.Called(ctx, phone).Error(0)
}

func (m *mockGateway) Verify(ctx context.Context, phone, code string) (*gateway.VerifyResult, error) {
	args := m.Called(ctx, phone, code)
	res, _ := args.Get(0).(*gateway.VerifyResult)
	return res, args.Error(1)
}

// tokenFailKV fails writes of the session token
type tokenFailKV struct{ *repo.MemoryKV }

func (kv tokenFailKV) Set(ctx context.Context, key, value string) error {
	if key == session.KeyToken {
		return errors.New("disk full")
	}
	return kv.MemoryKV.Set(ctx, key, value)
}

type fixture struct {
	gw       *mockGateway
	kv       *repo.MemoryKV
	sessions *session.Store
	index    *ownership.Index
	flow     *Flow
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{gw: &mockGateway{}, kv: repo.NewMemoryKV()}
	f.sessions = session.NewStore(f.kv, nil)
	f.sessions.Hydrate(ctx)
	f.index = ownership.NewIndex(f.kv, nil)
	f.index.Reload(ctx)
	f.flow = NewFlow(f.gw, f.sessions, f.index, nil)
	return f
}

func (f *fixture) requestCode(t *testing.T, raw, normalized string) {
	t.Helper()
	f.gw.On("RequestCode", mock.Anything, normalized).Return(nil).Once()
	require.NoError(t, f.flow.RequestCode(context.Background(), raw))
	require.Equal(t, AwaitingCode, f.flow.State())
}

func TestFlow_loginNormalizesPhone(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.kv.Set(ctx, ownership.KeyDeviceList, `["left-by-previous-user"]`))

	f.requestCode(t, "+91 98765-43210", "919876543210")
	assert.Equal(t, "919876543210", f.flow.Phone())

	f.gw.On("Verify", mock.Anything, "919876543210", "123456").
		Return(&gateway.VerifyResult{Token: "abc", UserID: "u1"}, nil).Once()

	user, err := f.flow.Verify(ctx, " 123456 ")
	require.NoError(t, err)
	assert.Equal(t, model.SessionUser{ID: "u1", Phone: "919876543210"}, user)
	assert.Equal(t, Authenticated, f.flow.State())

	snap := f.sessions.Snapshot()
	assert.Equal(t, session.StateAuthenticated, snap.State)
	assert.Equal(t, "abc", snap.Token)
	assert.Equal(t, "u1", snap.User.ID)

	stored, found, err := f.kv.Get(ctx, ownership.KeyVerifiedPhone)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "919876543210", stored)
	assert.Equal(t, "919876543210", f.index.Scope())

	_, found, err = f.kv.Get(ctx, ownership.KeyDeviceList)
	require.NoError(t, err)
	assert.False(t, found, "device list is cleared at login")

	f.gw.AssertExpectations(t)
}

func TestFlow_requestCodeInvalidPhone(t *testing.T) {
	f := newFixture(t)

	for _, raw := range []string{"", "12345", "phone", "+1 (555) 01"} {
		err := f.flow.RequestCode(context.Background(), raw)
		require.ErrorIs(t, err, ErrInvalidPhone, "input %q", raw)

		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "phone", verr.Field)
	}
	assert.Equal(t, AwaitingPhone, f.flow.State())
	f.gw.AssertNotCalled(t, "RequestCode", mock.Anything, mock.Anything)
}

func TestFlow_requestCodeServerError(t *testing.T) {
	f := newFixture(t)
	f.gw.On("RequestCode", mock.Anything, "919876543210").
		Return(&gateway.HTTPError{StatusCode: http.StatusInternalServerError}).Once()

	err := f.flow.RequestCode(context.Background(), "919876543210")

	var httpErr *gateway.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusInternalServerError, httpErr.StatusCode)
	assert.Equal(t, AwaitingPhone, f.flow.State())
	assert.Empty(t, f.flow.Phone())
}

func TestFlow_verifyWithoutCodeRequested(t *testing.T) {
	f := newFixture(t)
	_, err := f.flow.Verify(context.Background(), "123456")
	require.ErrorIs(t, err, ErrNoCodeRequested)
	f.gw.AssertNotCalled(t, "Verify", mock.Anything, mock.Anything, mock.Anything)
}

func TestFlow_verifyEmptyCode(t *testing.T) {
	f := newFixture(t)
	f.requestCode(t, "9876543210", "9876543210")

	_, err := f.flow.Verify(context.Background(), "   ")
	require.ErrorIs(t, err, ErrMissingCode)
	assert.Equal(t, AwaitingCode, f.flow.State())
	f.gw.AssertNotCalled(t, "Verify", mock.Anything, mock.Anything, mock.Anything)
}

func TestFlow_verifyFailureKeepsAwaitingCode(t *testing.T) {
	tests := []struct {
		name string
		res  *gateway.VerifyResult
		err  error
	}{
		{"rejected code", nil, &gateway.HTTPError{StatusCode: http.StatusUnauthorized}},
		{"missing token", nil, gateway.ErrMissingToken},
		{"transport", nil, context.DeadlineExceeded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.requestCode(t, "919876543210", "919876543210")
			f.gw.On("Verify", mock.Anything, "919876543210", "000000").Return(tt.res, tt.err).Once()

			_, err := f.flow.Verify(context.Background(), "000000")
			require.ErrorIs(t, err, tt.err)
			assert.Equal(t, AwaitingCode, f.flow.State())
			assert.Equal(t, session.StateUnauthenticated, f.sessions.State())
			assert.Empty(t, f.index.Scope())
		})
	}
}

func TestFlow_verifySessionWriteFailure(t *testing.T) {
	ctx := context.Background()
	kv := tokenFailKV{repo.NewMemoryKV()}
	gw := &mockGateway{}
	sessions := session.NewStore(kv, nil)
	sessions.Hydrate(ctx)
	index := ownership.NewIndex(kv, nil)
	flow := NewFlow(gw, sessions, index, nil)

	gw.On("RequestCode", mock.Anything, "919876543210").Return(nil)
	gw.On("Verify", mock.Anything, "919876543210", "123456").
		Return(&gateway.VerifyResult{Token: "abc", UserID: "u1"}, nil)
	require.NoError(t, flow.RequestCode(ctx, "919876543210"))

	_, err := flow.Verify(ctx, "123456")
	require.Error(t, err)
	assert.Equal(t, AwaitingCode, flow.State())
	assert.Equal(t, session.StateUnauthenticated, sessions.State())

	_, found, _ := kv.Get(ctx, ownership.KeyVerifiedPhone)
	assert.False(t, found, "ownership scope untouched when the session is not saved")
}

func TestFlow_userIdentityFallbacks(t *testing.T) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "sub-7"}).
		SignedString([]byte("server-secret"))
	require.NoError(t, err)

	tests := []struct {
		name string
		res  gateway.VerifyResult
		want model.SessionUser
	}{
		{"user object", gateway.VerifyResult{Token: "abc", UserID: "u1", UserPhone: "15551234567"},
			model.SessionUser{ID: "u1", Phone: "15551234567"}},
		{"sub claim", gateway.VerifyResult{Token: signed},
			model.SessionUser{ID: "sub-7", Phone: "919876543210"}},
		{"phone", gateway.VerifyResult{Token: "opaque"},
			model.SessionUser{ID: "919876543210", Phone: "919876543210"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.requestCode(t, "919876543210", "919876543210")
			res := tt.res
			f.gw.On("Verify", mock.Anything, "919876543210", "123456").Return(&res, nil).Once()

			user, err := f.flow.Verify(context.Background(), "123456")
			require.NoError(t, err)
			assert.Equal(t, tt.want, user)
		})
	}
}

func TestFlow_busy(t *testing.T) {
	f := newFixture(t)
	f.requestCode(t, "919876543210", "919876543210")

	started := make(chan struct{})
	release := make(chan struct{})
	f.gw.On("Verify", mock.Anything, "919876543210", "123456").
		Run(func(mock.Arguments) {
			close(started)
			<-release
		}).
		Return(&gateway.VerifyResult{Token: "abc", UserID: "u1"}, nil).Once()

	var wg sync.WaitGroup
	var firstErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, firstErr = f.flow.Verify(context.Background(), "123456")
	}()
	<-started

	_, err := f.flow.Verify(context.Background(), "123456")
	assert.ErrorIs(t, err, ErrBusy)
	assert.ErrorIs(t, f.flow.RequestCode(context.Background(), "919876543210"), ErrBusy)

	close(release)
	wg.Wait()
	require.NoError(t, firstErr)
	assert.Equal(t, Authenticated, f.flow.State())
}

func TestFlow_reset(t *testing.T) {
	f := newFixture(t)
	f.requestCode(t, "919876543210", "919876543210")

	f.flow.Reset()
	assert.Equal(t, AwaitingPhone, f.flow.State())
	assert.Empty(t, f.flow.Phone())

	_, err := f.flow.Verify(context.Background(), "123456")
	assert.ErrorIs(t, err, ErrNoCodeRequested)
}

func TestTokenClaims(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, TokenClaims{
		PhoneNumber: "919876543210",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u1",
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}).SignedString([]byte("any-key"))
	require.NoError(t, err)

	assert.Equal(t, "u1", TokenSubject(signed))
	got, ok := TokenExpiry(signed)
	require.True(t, ok)
	assert.True(t, exp.Equal(got))

	assert.Empty(t, TokenSubject("abc"))
	_, ok = TokenExpiry("abc")
	assert.False(t, ok)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "awaiting_phone", AwaitingPhone.String())
	assert.Equal(t, "awaiting_code", AwaitingCode.String())
	assert.Equal(t, "authenticated", Authenticated.String())
}
