package permit

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const identityFieldSep = "\x1f"

// IdentityKey derives the stable identity of a permit from its API number, lease
// name and well number. Fields are trimmed, space-collapsed and uppercased first,
// so cosmetic differences between result pages do not split one permit in two.
func IdentityKey(apiNumber, leaseName, wellNumber string) string {
	joined := strings.Join([]string{
		normalizeIdentityField(apiNumber),
		normalizeIdentityField(leaseName),
		normalizeIdentityField(wellNumber),
	}, identityFieldSep)
	sum := sha256.Sum256([]byte(joined))
	return hex.EncodeToString(sum[:16])
}

func normalizeIdentityField(v string) string {
	return strings.ToUpper(strings.Join(strings.Fields(v), " "))
}
