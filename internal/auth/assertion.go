package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultAssertionTTL bounds how old issued_at may be.
const DefaultAssertionTTL = 5 * time.Minute

const maxClockSkew = time.Minute

// Identity is what the identity provider vouches for.
type Identity struct {
	UserID uuid.UUID
	Role   string
}

// VerifyAssertion checks a provider-signed assertion of the form
// "user_id=...&role=...&issued_at=...&hash=..." where hash is the hex
// HMAC-SHA256 of the sorted key=value lines under secret.
func VerifyAssertion(assertion, secret string, maxAge time.Duration) (Identity, error) {
	if maxAge <= 0 {
		maxAge = DefaultAssertionTTL
	}

	vals, err := url.ParseQuery(assertion)
	if err != nil {
		return Identity{}, fmt.Errorf("invalid assertion format: %w", err)
	}

	received := vals.Get("hash")
	if received == "" {
		return Identity{}, fmt.Errorf("hash is missing from assertion")
	}

	issuedStr := vals.Get("issued_at")
	if issuedStr == "" {
		return Identity{}, fmt.Errorf("issued_at is missing from assertion")
	}
	issuedUnix, err := strconv.ParseInt(issuedStr, 10, 64)
	if err != nil {
		return Identity{}, fmt.Errorf("issued_at is not a valid unix timestamp")
	}
	issued := time.Unix(issuedUnix, 0)
	if age := time.Since(issued); age > maxAge {
		return Identity{}, fmt.Errorf("assertion expired: issued %s ago (max %s)", age.Round(time.Second), maxAge)
	}
	if issued.After(time.Now().Add(maxClockSkew)) {
		return Identity{}, fmt.Errorf("issued_at is in the future")
	}

	expected := signValues(vals, secret)
	if !hmac.Equal([]byte(expected), []byte(received)) {
		return Identity{}, fmt.Errorf("invalid hash: assertion integrity check failed")
	}

	userID, err := uuid.Parse(vals.Get("user_id"))
	if err != nil || userID == uuid.Nil {
		return Identity{}, fmt.Errorf("user_id is missing or invalid")
	}
	role := vals.Get("role")
	if role == "" {
		return Identity{}, fmt.Errorf("role is missing from assertion")
	}
	return Identity{UserID: userID, Role: role}, nil
}

// SignAssertion builds an assertion the way the identity provider does.
func SignAssertion(id Identity, secret string, issuedAt time.Time) string {
	vals := url.Values{}
	vals.Set("user_id", id.UserID.String())
	vals.Set("role", id.Role)
	vals.Set("issued_at", strconv.FormatInt(issuedAt.Unix(), 10))
	vals.Set("hash", signValues(vals, secret))
	return vals.Encode()
}

func signValues(vals url.Values, secret string) string {
	var pairs []string
	for key, values := range vals {
		if key == "hash" {
			continue
		}
		for _, v := range values {
			pairs = append(pairs, key+"="+v)
		}
	}
	sort.Strings(pairs)
	return hex.EncodeToString(hmacSHA256([]byte(secret), []byte(strings.Join(pairs, "\n"))))
}

func hmacSHA256(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}
