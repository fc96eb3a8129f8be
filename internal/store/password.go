package store

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// argon2Params are process-wide Argon2id parameters (spec.md §6:
// "Password hashing uses Argon2id with process-wide parameters").
type argon2Params struct {
	memoryKiB  uint32
	iterations uint32
	threads    uint8
	saltLen    uint32
	keyLen     uint32
}

var defaultParams = argon2Params{
	memoryKiB:  64 * 1024,
	iterations: 3,
	threads:    2,
	saltLen:    16,
	keyLen:     32,
}

// HashPassword hashes password with Argon2id, encoding the salt and
// parameters alongside the derived key in the conventional
// `$argon2id$v=...$m=...,t=...,p=...$salt$hash` form so a later
// VerifyPassword call is self-describing even if defaultParams change.
func HashPassword(password string) (string, error) {
	salt := make([]byte, defaultParams.saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("store: generate salt: %w", err)
	}
	key := argon2.IDKey([]byte(password), salt, defaultParams.iterations, defaultParams.memoryKiB, defaultParams.threads, defaultParams.keyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		defaultParams.memoryKiB, defaultParams.iterations, defaultParams.threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// VerifyPassword reports whether password matches an encoded hash
// previously produced by HashPassword, in constant time.
func VerifyPassword(password, encoded string) (bool, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false, fmt.Errorf("store: unrecognized password hash format")
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return false, fmt.Errorf("store: parsing hash version: %w", err)
	}
	var memoryKiB, iterations uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memoryKiB, &iterations, &threads); err != nil {
		return false, fmt.Errorf("store: parsing hash parameters: %w", err)
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, fmt.Errorf("store: decoding salt: %w", err)
	}
	wantKey, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, fmt.Errorf("store: decoding key: %w", err)
	}

	gotKey := argon2.IDKey([]byte(password), salt, iterations, memoryKiB, threads, uint32(len(wantKey)))
	return subtle.ConstantTimeCompare(gotKey, wantKey) == 1, nil
}
