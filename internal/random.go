package internal

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const derivedKeySize = 32

// NewOTP returns a uniformly random decimal code of the given length.
func NewOTP(digits int) (string, error) {
	if digits < 6 || digits > 10 {
		return "", errors.New("invalid otp digits")
	}

	var b strings.Builder
	b.Grow(digits)

	max := big.NewInt(10)
	for i := 0; i < digits; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}

	otp := b.String()
	if len(otp) != digits {
		return "", fmt.Errorf("invalid otp generation length")
	}
	return otp, nil
}

// HashOTP binds code to the challenge that issued it. Only the digest is
// ever persisted.
func HashOTP(key []byte, challengeID, code string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(challengeID))
	mac.Write([]byte{0})
	mac.Write([]byte(code))
	return mac.Sum(nil)
}

// VerifyOTP compares code against a digest from [HashOTP] in constant time.
func VerifyOTP(key []byte, challengeID, code string, digest []byte) bool {
	return hmac.Equal(HashOTP(key, challengeID, code), digest)
}

// DeriveKey expands master into a purpose-bound 32-byte key.
func DeriveKey(master []byte, info string) []byte {
	out := make([]byte, derivedKeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, []byte(info)), out); err != nil {
		// unreachable: hkdf fails only past 255 blocks.
		panic(err)
	}
	return out
}

// MaskDestination hides all but the last two characters of a phone number
// or address.
func MaskDestination(dest string) string {
	dest = strings.TrimSpace(dest)
	if len(dest) <= 2 {
		return strings.Repeat("*", len(dest))
	}
	return strings.Repeat("*", len(dest)-2) + dest[len(dest)-2:]
}
