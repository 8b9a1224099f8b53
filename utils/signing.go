package utils

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// EmptyBodyHash is the SHA256 of an empty body
const EmptyBodyHash = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

// SignRequest returns the hex HMAC-SHA256 over METHOD\nPATH\nTIMESTAMP\nSHA256(body).
func SignRequest(secretKey, method, path string, timestamp int64, body []byte) string {
	stringToSign := fmt.Sprintf("%s\n%s\n%d\n%s", strings.ToUpper(method), path, timestamp, HashBodySHA256(body))
	mac := hmac.New(sha256.New, []byte(secretKey))
	mac.Write([]byte(stringToSign))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature compares in constant time.
func VerifySignature(secretKey, method, path string, timestamp int64, body []byte, signature string) bool {
	expected := SignRequest(secretKey, method, path, timestamp, body)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}

func HashBodySHA256(body []byte) string {
	if len(body) == 0 {
		return EmptyBodyHash
	}
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// DigestVersions hashes name=version pairs independent of input order.
// DigestNames is order independent.
func DigestNames(names []string) string {
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)

	h := sha256.New()
	for _, name := range sorted {
		fmt.Fprintf(h, "%s\n", name)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func DigestVersions(versions map[string]string) string {
	names := make([]string, 0, len(versions))
	for name := range versions {
		names = append(names, name)
	}
	sort.Strings(names)

	h := sha256.New()
	for _, name := range names {
		fmt.Fprintf(h, "%s=%s\n", name, versions[name])
	}
	return hex.EncodeToString(h.Sum(nil))
}
