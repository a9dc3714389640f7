package rediskey

import "fmt"

const (
	ReferralSeq      = "seq:referral"
	RevokedTokenPref = "auth:revoked"
	AdminStats       = "admin:stats"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildRevokedTokenKey returns "auth:revoked:{jti}"
func BuildRevokedTokenKey(jti string) string {
	return NamespaceKey(RevokedTokenPref, jti)
}
