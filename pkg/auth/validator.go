package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// 認証失敗の分類。いずれもクライアントには401として返す。
var (
	ErrMissingToken     = errors.New("トークンがありません")
	ErrMalformed        = errors.New("トークン形式が不正です")
	ErrExpired          = errors.New("トークンの有効期限が切れています")
	ErrRevoked          = errors.New("トークンは失効しています")
	ErrSignatureInvalid = errors.New("トークンの署名が不正です")
)

// IsAuthError はerrが認証失敗の分類に該当するかどうかを返す。
// 該当しないエラーは失効リスト参照の失敗などインフラ側の障害を表す。
func IsAuthError(err error) bool {
	return Reason(err) != ""
}

// クライアントに返す認証失敗の理由。
const (
	ReasonMissingToken     = "MISSING_TOKEN"
	ReasonExpired          = "TOKEN_EXPIRED"
	ReasonRevoked          = "TOKEN_REVOKED"
	ReasonSignatureInvalid = "TOKEN_SIGNATURE_INVALID"
	ReasonMalformed        = "TOKEN_MALFORMED"
)

// Reason はerrに対応する認証失敗の理由を返す。認証失敗でなければ空文字。
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrMissingToken):
		return ReasonMissingToken
	case errors.Is(err, ErrExpired):
		return ReasonExpired
	case errors.Is(err, ErrRevoked):
		return ReasonRevoked
	case errors.Is(err, ErrSignatureInvalid):
		return ReasonSignatureInvalid
	case errors.Is(err, ErrMalformed):
		return ReasonMalformed
	}
	return ""
}

// RevocationChecker は失効リストを参照する。
type RevocationChecker interface {
	IsRevoked(ctx context.Context, subject string, issuedAt time.Time) (bool, error)
}

// Validator はBearerトークンを検証してIdentityを返す。
type Validator struct {
	secret     []byte
	issuer     string
	revocation RevocationChecker
	now        func() time.Time
}

// ValidatorOption はValidatorの設定を変更する。
type ValidatorOption func(*Validator)

// WithIssuer は期待する発行者を設定する。空の場合は発行者を検証しない。
func WithIssuer(issuer string) ValidatorOption {
	return func(v *Validator) { v.issuer = issuer }
}

// WithClock は現在時刻の取得元を差し替える。
func WithClock(now func() time.Time) ValidatorOption {
	return func(v *Validator) { v.now = now }
}

// NewValidator は新しいValidatorを生成する。revocationがnilの場合は失効確認を行わない。
func NewValidator(secret string, revocation RevocationChecker, opts ...ValidatorOption) *Validator {
	v := &Validator{
		secret:     []byte(secret),
		revocation: revocation,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate はトークンを検証する。
// トークンが空でpublicがtrueの場合は (nil, nil) を返す。
func (v *Validator) Validate(ctx context.Context, token string, public bool) (*Identity, error) {
	if token == "" {
		if public {
			return nil, nil
		}
		return nil, ErrMissingToken
	}

	claims, err := v.parse(token)
	if err != nil {
		return nil, err
	}

	if claims.ExpiresAt == nil || !v.now().Before(claims.ExpiresAt.Time) {
		return nil, ErrExpired
	}

	if v.revocation != nil && claims.IssuedAt != nil {
		revoked, err := v.revocation.IsRevoked(ctx, claims.Subject, claims.IssuedAt.Time)
		if err != nil {
			return nil, fmt.Errorf("失効リストの参照に失敗: %w", err)
		}
		if revoked {
			return nil, ErrRevoked
		}
	}

	return identityFromClaims(claims), nil
}

func (v *Validator) parse(token string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(_ *jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, classify(err)
	}

	if claims.Subject == "" || claims.IssuedAt == nil {
		return nil, fmt.Errorf("%w: subjectまたはiatがありません", ErrMalformed)
	}
	if claims.TokenType != "" && claims.TokenType != TokenTypeAccess {
		return nil, fmt.Errorf("%w: アクセストークンではありません", ErrMalformed)
	}
	return claims, nil
}

// classify はjwtライブラリのエラーを認証失敗の分類に変換する。
func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	default:
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
}

// ExtractBearer はAuthorizationヘッダーの値からトークンを取り出す。
// ヘッダーが空の場合は空文字列を返す。Bearer形式でない場合はErrMalformedを返す。
func ExtractBearer(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", nil
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", fmt.Errorf("%w: Bearer トークン形式ではありません", ErrMalformed)
	}
	return strings.TrimSpace(token), nil
}
