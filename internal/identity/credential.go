package identity

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	credentialLen        = 32
	hashTime      uint32 = 3
	hashMemory    uint32 = 64 * 1024
	hashThreads   uint8  = 2
	hashKeyLen    uint32 = 32
	hashSaltLen          = 16
)

// randomCredentialHash generates a throwaway password for a provisioned
// account and returns only its argon2id hash. Nobody ever learns the
// password, so the account cannot be logged into with one.
func randomCredentialHash() (string, error) {
	pw := make([]byte, credentialLen)
	if _, err := rand.Read(pw); err != nil {
		return "", fmt.Errorf("generate credential: %w", err)
	}
	salt := make([]byte, hashSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	sum := argon2.IDKey(pw, salt, hashTime, hashMemory, hashThreads, hashKeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, hashMemory, hashTime, hashThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(sum),
	), nil
}

var tenantEscaper = strings.NewReplacer("%", "%25", ".", "%2E", "@", "%40")

// SyntheticEmail derives the lookup key of the internal account for an
// external identity: <tenant>.<externalUser>@<domain>. The tenant part is
// escaped so the first '.' always separates tenant from user.
func SyntheticEmail(tenantID, externalUserID, domain string) string {
	return tenantEscaper.Replace(tenantID) + "." + externalUserID + "@" + domain
}
