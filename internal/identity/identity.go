// Package identity は呼び出し元の識別情報をオーナーキーへ正規化します。
// 認証そのものは外部（リバースプロキシ等）の責務で、ここでは解決済みの
// ユーザーIDヘッダーかゲストトークンだけを扱います。
package identity

import (
	"fmt"
	"strings"
)

// Role は呼び出し元のロールを表します。
type Role string

const (
	RoleGuest   Role = "guest"
	RoleUser    Role = "user"
	RolePremium Role = "premium"
	RoleAdmin   Role = "admin"
)

// ParseRole はヘッダー値をロールへ変換します。未知の値は user 扱いです。
func ParseRole(raw string) Role {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleGuest:
		return RoleGuest
	case RolePremium:
		return RolePremium
	case RoleAdmin:
		return RoleAdmin
	default:
		return RoleUser
	}
}

// OwnerKey は user:<id> または guest:<token> 形式の正規化済み識別子です。
// クォータと所有権の判定はすべてこのキーに対して行います。
type OwnerKey string

const (
	userKeyPrefix  = "user:"
	guestKeyPrefix = "guest:"
)

// UserKey は登録ユーザーのオーナーキーを生成します。
func UserKey(userID string) OwnerKey {
	return OwnerKey(userKeyPrefix + userID)
}

// GuestKey はゲストトークンのオーナーキーを生成します。
func GuestKey(token string) OwnerKey {
	return OwnerKey(guestKeyPrefix + token)
}

// IsGuest はゲスト由来のキーかどうかを返します。
func (k OwnerKey) IsGuest() bool {
	return strings.HasPrefix(string(k), guestKeyPrefix)
}

// Valid はキーが正規化済み形式かどうかを検証します。
func (k OwnerKey) Valid() bool {
	s := string(k)
	if strings.HasPrefix(s, userKeyPrefix) {
		return len(s) > len(userKeyPrefix)
	}
	if strings.HasPrefix(s, guestKeyPrefix) {
		return len(s) > len(guestKeyPrefix)
	}
	return false
}

func (k OwnerKey) String() string {
	return string(k)
}

// Identity は解決済みの呼び出し元を表します。
type Identity struct {
	Key  OwnerKey
	Role Role
}

// NewGuest はゲストトークンから Identity を生成します。
func NewGuest(token string) Identity {
	return Identity{Key: GuestKey(token), Role: RoleGuest}
}

// NewUser はユーザーIDとロールから Identity を生成します。
// ゲストロールはユーザーIDと組み合わせられないため user に繰り上げます。
func NewUser(userID string, role Role) (Identity, error) {
	if strings.TrimSpace(userID) == "" {
		return Identity{}, fmt.Errorf("userID is required")
	}
	if role == RoleGuest {
		role = RoleUser
	}
	return Identity{Key: UserKey(userID), Role: role}, nil
}
