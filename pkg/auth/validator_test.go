package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-for-unit-tests"

// fakeRevocations はテスト用のインメモリ失効リスト。
type fakeRevocations struct {
	mu      sync.Mutex
	revoked map[string]bool
	err     error
}

func (f *fakeRevocations) IsRevoked(_ context.Context, subject string, issuedAt time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	return f.revoked[RevocationKey(subject, issuedAt)], nil
}

func (f *fakeRevocations) revoke(subject string, issuedAt time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.revoked == nil {
		f.revoked = make(map[string]bool)
	}
	f.revoked[RevocationKey(subject, issuedAt)] = true
}

func testSubject() Subject {
	return Subject{
		UserID:       "user-123",
		Email:        "doctor@example.com",
		Roles:        []string{"doctor", "staff"},
		Permissions:  []string{"patients:read", "appointments:read"},
		DepartmentID: "cardiology",
	}
}

func TestValidator_Validate(t *testing.T) {
	t.Parallel()

	issuedAt := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	issuer := NewIssuer(testSecret, "carehub-auth", WithIssuerClock(func() time.Time { return issuedAt }))
	token, err := issuer.IssueAccess(testSubject())
	require.NoError(t, err)

	clock := func() time.Time { return issuedAt.Add(time.Minute) }

	t.Run("有効なトークンからIdentityを取り出せること", func(t *testing.T) {
		t.Parallel()

		v := NewValidator(testSecret, &fakeRevocations{}, WithIssuer("carehub-auth"), WithClock(clock))
		id, err := v.Validate(context.Background(), token, false)
		require.NoError(t, err)

		assert.Equal(t, "user-123", id.UserID)
		assert.Equal(t, "doctor@example.com", id.Email)
		assert.Equal(t, []string{"doctor", "staff"}, id.Roles)
		assert.Equal(t, []string{"patients:read", "appointments:read"}, id.Permissions)
		assert.Equal(t, "cardiology", id.DepartmentID)
		assert.True(t, id.IssuedAt.Equal(issuedAt))
		assert.True(t, id.ExpiresAt.Equal(issuedAt.Add(15*time.Minute)))
	})

	t.Run("公開ルートでトークンがなければ匿名で成功すること", func(t *testing.T) {
		t.Parallel()

		v := NewValidator(testSecret, nil, WithClock(clock))
		id, err := v.Validate(context.Background(), "", true)
		require.NoError(t, err)
		assert.Nil(t, id)
	})

	t.Run("認証必須ルートでトークンがなければMissingTokenになること", func(t *testing.T) {
		t.Parallel()

		v := NewValidator(testSecret, nil, WithClock(clock))
		_, err := v.Validate(context.Background(), "", false)
		assert.ErrorIs(t, err, ErrMissingToken)
	})

	t.Run("期限切れトークンはExpiredになること", func(t *testing.T) {
		t.Parallel()

		late := func() time.Time { return issuedAt.Add(16 * time.Minute) }
		v := NewValidator(testSecret, nil, WithClock(late))
		_, err := v.Validate(context.Background(), token, false)
		assert.ErrorIs(t, err, ErrExpired)
	})

	t.Run("失効済みトークンは署名と期限が正しくてもRevokedになること", func(t *testing.T) {
		t.Parallel()

		revs := &fakeRevocations{}
		revs.revoke("user-123", issuedAt)
		v := NewValidator(testSecret, revs, WithClock(clock))
		_, err := v.Validate(context.Background(), token, false)
		assert.ErrorIs(t, err, ErrRevoked)
	})

	t.Run("別の秘密鍵で署名されたトークンはSignatureInvalidになること", func(t *testing.T) {
		t.Parallel()

		v := NewValidator("another-secret", nil, WithClock(clock))
		_, err := v.Validate(context.Background(), token, false)
		assert.ErrorIs(t, err, ErrSignatureInvalid)
	})

	t.Run("改ざんされたペイロードはSignatureInvalidになること", func(t *testing.T) {
		t.Parallel()

		parts := strings.Split(token, ".")
		require.Len(t, parts, 3)
		forged, err := NewIssuer("attacker", "carehub-auth", WithIssuerClock(func() time.Time { return issuedAt })).
			IssueAccess(Subject{UserID: "user-123", Roles: []string{"admin"}})
		require.NoError(t, err)
		tampered := parts[0] + "." + strings.Split(forged, ".")[1] + "." + parts[2]

		v := NewValidator(testSecret, nil, WithClock(clock))
		_, err = v.Validate(context.Background(), tampered, false)
		assert.ErrorIs(t, err, ErrSignatureInvalid)
	})

	t.Run("JWTでない文字列はMalformedになること", func(t *testing.T) {
		t.Parallel()

		v := NewValidator(testSecret, nil, WithClock(clock))
		_, err := v.Validate(context.Background(), "not-a-jwt", false)
		assert.ErrorIs(t, err, ErrMalformed)
	})

	t.Run("HS256以外のアルゴリズムは拒否されること", func(t *testing.T) {
		t.Parallel()

		claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-123",
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(time.Hour)),
		}}
		signed, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(testSecret))
		require.NoError(t, err)

		v := NewValidator(testSecret, nil, WithClock(clock))
		_, err = v.Validate(context.Background(), signed, false)
		assert.ErrorIs(t, err, ErrSignatureInvalid)
	})

	t.Run("リフレッシュトークンはアクセストークンとして使えないこと", func(t *testing.T) {
		t.Parallel()

		pair, err := issuer.IssuePair(testSubject())
		require.NoError(t, err)

		v := NewValidator(testSecret, nil, WithClock(clock))
		_, err = v.Validate(context.Background(), pair.RefreshToken, false)
		assert.ErrorIs(t, err, ErrMalformed)
	})

	t.Run("発行者が一致しない場合は拒否されること", func(t *testing.T) {
		t.Parallel()

		v := NewValidator(testSecret, nil, WithIssuer("someone-else"), WithClock(clock))
		_, err := v.Validate(context.Background(), token, false)
		assert.ErrorIs(t, err, ErrMalformed)
	})

	t.Run("失効リストの参照失敗は認証失敗として扱わないこと", func(t *testing.T) {
		t.Parallel()

		revs := &fakeRevocations{err: errors.New("redis: connection refused")}
		v := NewValidator(testSecret, revs, WithClock(clock))
		_, err := v.Validate(context.Background(), token, false)
		require.Error(t, err)
		assert.False(t, IsAuthError(err))
	})
}

func TestExtractBearer(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		header  string
		want    string
		wantErr bool
	}{
		{name: "空ヘッダー", header: "", want: ""},
		{name: "Bearer形式", header: "Bearer abc.def.ghi", want: "abc.def.ghi"},
		{name: "小文字のbearer", header: "bearer abc", want: "abc"},
		{name: "Basic形式は不正", header: "Basic dXNlcjpwYXNz", wantErr: true},
		{name: "スキームのみは不正", header: "Bearer", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ExtractBearer(tt.header)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformed)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReason(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want string
	}{
		{ErrMissingToken, ReasonMissingToken},
		{fmt.Errorf("wrap: %w", ErrExpired), ReasonExpired},
		{ErrRevoked, ReasonRevoked},
		{ErrSignatureInvalid, ReasonSignatureInvalid},
		{ErrMalformed, ReasonMalformed},
		{errors.New("redis: connection refused"), ""},
		{nil, ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Reason(tt.err), "Reason(%v)", tt.err)
	}
}
