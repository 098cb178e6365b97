package auth

import (
	"slices"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// トークン種別。
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// Claims はJWTトークンのクレーム（ペイロード）を表す。
type Claims struct {
	jwt.RegisteredClaims
	// Email はユーザーのメールアドレス。
	Email string `json:"email"`
	// Roles はユーザーが持つロール。順序を保持する。
	Roles []string `json:"roles"`
	// Permissions はユーザーが持つパーミッション。順序を保持する。
	Permissions []string `json:"permissions"`
	// DepartmentID は所属部署（テナント）のID。
	DepartmentID string `json:"department_id,omitempty"`
	// TokenType はaccessまたはrefresh。
	TokenType string `json:"typ"`
}

// Identity は検証済みのクレームをパイプライン内で扱うための形。
type Identity struct {
	UserID       string
	Email        string
	Roles        []string
	Permissions  []string
	DepartmentID string
	IssuedAt     time.Time
	ExpiresAt    time.Time
}

// HasRole は指定ロールを持つかどうかを返す。
func (i *Identity) HasRole(role string) bool {
	return slices.Contains(i.Roles, role)
}

// HasPermission は指定パーミッションを持つかどうかを返す。
func (i *Identity) HasPermission(permission string) bool {
	return slices.Contains(i.Permissions, permission)
}

func identityFromClaims(c *Claims) *Identity {
	id := &Identity{
		UserID:       c.Subject,
		Email:        c.Email,
		Roles:        slices.Clone(c.Roles),
		Permissions:  slices.Clone(c.Permissions),
		DepartmentID: c.DepartmentID,
	}
	if c.IssuedAt != nil {
		id.IssuedAt = c.IssuedAt.Time
	}
	if c.ExpiresAt != nil {
		id.ExpiresAt = c.ExpiresAt.Time
	}
	return id
}

// RevocationKey は (subject, issued-at) から失効リストのキーを導出する。
func RevocationKey(subject string, issuedAt time.Time) string {
	return "revoked:" + subject + ":" + strconv.FormatInt(issuedAt.Unix(), 10)
}
