package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Subject はトークンを発行する対象ユーザーの情報。
type Subject struct {
	UserID       string
	Email        string
	Roles        []string
	Permissions  []string
	DepartmentID string
}

// TokenPair はアクセストークンとリフレッシュトークンの組。
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
}

// Issuer はHS256で署名したトークンを発行する。
type Issuer struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// IssuerOption はIssuerの設定を変更する。
type IssuerOption func(*Issuer)

// WithTTL はアクセス・リフレッシュトークンの有効期間を設定する。
func WithTTL(access, refresh time.Duration) IssuerOption {
	return func(i *Issuer) {
		i.accessTTL = access
		i.refreshTTL = refresh
	}
}

// WithIssuerClock は発行時刻の取得元を差し替える。
func WithIssuerClock(now func() time.Time) IssuerOption {
	return func(i *Issuer) { i.now = now }
}

// NewIssuer は新しいIssuerを生成する。
// 既定の有効期間はアクセス15分、リフレッシュ7日。
func NewIssuer(secret, issuer string, opts ...IssuerOption) *Issuer {
	i := &Issuer{
		secret:     []byte(secret),
		issuer:     issuer,
		accessTTL:  15 * time.Minute,
		refreshTTL: 7 * 24 * time.Hour,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// IssueAccess はアクセストークンを発行する。
func (i *Issuer) IssueAccess(s Subject) (string, error) {
	return i.sign(s, TokenTypeAccess, i.accessTTL)
}

// IssuePair はアクセストークンとリフレッシュトークンを発行する。
func (i *Issuer) IssuePair(s Subject) (TokenPair, error) {
	access, err := i.sign(s, TokenTypeAccess, i.accessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := i.sign(s, TokenTypeRefresh, i.refreshTTL)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(i.accessTTL.Seconds()),
	}, nil
}

func (i *Issuer) sign(s Subject, tokenType string, ttl time.Duration) (string, error) {
	now := i.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.UserID,
			Issuer:    i.issuer,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Email:        s.Email,
		Roles:        s.Roles,
		Permissions:  s.Permissions,
		DepartmentID: s.DepartmentID,
		TokenType:    tokenType,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("JWTトークンの署名に失敗: %w", err)
	}
	return signed, nil
}
