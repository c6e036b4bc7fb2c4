package platform

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"

	"github.com/crawlkit/signbridge/internal/sigerr"
)

// HMACHex is the hex HMAC-SHA256 of parts joined by "|".
func HMACHex(key string, parts ...string) string {
	return hex.EncodeToString(hmacSum(key, parts))
}

// HMACBase64 is the URL-safe base64 HMAC-SHA256 of parts joined by "|".
func HMACBase64(key string, parts ...string) string {
	return base64.RawURLEncoding.EncodeToString(hmacSum(key, parts))
}

// MD5Hex is the hex MD5 of parts concatenated without separator.
func MD5Hex(parts ...string) string {
	sum := md5.Sum([]byte(strings.Join(parts, "")))
	return hex.EncodeToString(sum[:])
}

func hmacSum(key string, parts []string) []byte {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(strings.Join(parts, "|")))
	return mac.Sum(nil)
}

// BodyDigest returns the request's body digest, which must be hex encoded
// when present.
func BodyDigest(req Request) (string, error) {
	d := req.BodyDigest()
	if _, err := hex.DecodeString(d); err != nil {
		return "", sigerr.Newf(sigerr.KindSigningComputation, "body digest %q is not hex encoded", d)
	}
	return strings.ToLower(d), nil
}
