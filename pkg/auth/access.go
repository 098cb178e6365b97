package auth

import (
	"errors"
	"slices"
)

// ErrForbidden はロールまたはパーミッションが不足していることを表す。
var ErrForbidden = errors.New("この操作を行う権限がありません")

// Policy はルートごとのアクセス要件。
type Policy struct {
	// Public がtrueの場合は認証なしでアクセスできる。
	Public bool
	// Roles はいずれか1つを持っていればよいロール（OR）。
	Roles []string
	// Permissions はすべて持っている必要があるパーミッション（AND）。
	Permissions []string
}

// Authorize はポリシーと呼び出し元のIdentityからアクセス可否を判定する。
// ロール条件とパーミッション条件はそれぞれ独立に評価し、両方を満たす必要がある。
func Authorize(p Policy, id *Identity) error {
	if p.Public {
		return nil
	}
	if id == nil {
		return ErrForbidden
	}
	if len(p.Roles) > 0 && !slices.ContainsFunc(p.Roles, id.HasRole) {
		return ErrForbidden
	}
	for _, perm := range p.Permissions {
		if !id.HasPermission(perm) {
			return ErrForbidden
		}
	}
	return nil
}
