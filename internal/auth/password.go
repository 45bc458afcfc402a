package auth

import (
	"crypto/sha256"
	"encoding/hex"
)

// DerivePassword returns the lowercase hex SHA-256 of phone:pepper. The result
// is the identity provider password for a phone-verified account.
func DerivePassword(phone, pepper string) string {
	sum := sha256.Sum256([]byte(phone + ":" + pepper))
	return hex.EncodeToString(sum[:])
}
