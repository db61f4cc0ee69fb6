// Package password hashes account passwords with Argon2id in the PHC string format.
package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	algorithm = "argon2id"
	saltLen   = 16
)

var errMalformed = errors.New("password: malformed hash")

// Params are the Argon2id cost settings stored alongside each hash.
type Params struct {
	Memory  uint32
	Time    uint32
	Threads uint8
	KeyLen  uint32
}

// Current is applied to every new hash. Older hashes keep verifying with the
// parameters they were created with.
var Current = Params{Memory: 64 * 1024, Time: 1, Threads: 4, KeyLen: 32}

type encodedHash struct {
	params Params
	salt   []byte
	key    []byte
}

func Hash(password string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	p := Current
	key := argon2.IDKey([]byte(password), salt, p.Time, p.Memory, p.Threads, p.KeyLen)
	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithm, argon2.Version, p.Memory, p.Time, p.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify reports whether password matches encoded. Malformed hashes never match.
func Verify(password, encoded string) bool {
	h, err := decode(encoded)
	if err != nil {
		return false
	}
	p := h.params
	check := argon2.IDKey([]byte(password), h.salt, p.Time, p.Memory, p.Threads, uint32(len(h.key)))
	return subtle.ConstantTimeCompare(h.key, check) == 1
}

// NeedsRehash reports whether encoded was produced with parameters other than Current.
func NeedsRehash(encoded string) bool {
	h, err := decode(encoded)
	if err != nil {
		return true
	}
	return h.params != Current
}

func decode(encoded string) (encodedHash, error) {
	var h encodedHash
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != algorithm {
		return h, errMalformed
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return h, errMalformed
	}
	p := &h.params
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Time, &p.Threads); err != nil {
		return h, errMalformed
	}

	var err error
	if h.salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil {
		return h, errMalformed
	}
	if h.key, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil || len(h.key) == 0 {
		return h, errMalformed
	}
	p.KeyLen = uint32(len(h.key))
	return h, nil
}
