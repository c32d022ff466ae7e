// Package sigv4 implements client-side AWS Signature Version 4 signing for
// S3 PUT requests without a vendor SDK.
package sigv4

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

const (
	Algorithm   = "AWS4-HMAC-SHA256"
	TimeFormat  = "20060102T150405Z"
	DateFormat  = "20060102"
	RequestType = "aws4_request"
	ServiceS3   = "s3"

	// EmptyPayloadHash is the SHA-256 of zero bytes.
	EmptyPayloadHash = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
)

// HashHex returns the lowercase hex SHA-256 digest of data.
func HashHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Header is a single canonical header. Order matters: the sequence passed to
// CanonicalRequest is baked into both the canonical headers block and the
// signed-headers list.
type Header struct {
	Name  string
	Value string
}

// Scope identifies the credential scope of one request.
type Scope struct {
	Date    string
	Region  string
	Service string
}

func (s Scope) String() string {
	return fmt.Sprintf("%s/%s/%s/%s", s.Date, s.Region, s.Service, RequestType)
}

// SignedHeaderNames joins the header names with semicolons, preserving order.
func SignedHeaderNames(headers []Header) string {
	names := make([]string, len(headers))
	for i, h := range headers {
		names[i] = strings.ToLower(h.Name)
	}
	return strings.Join(names, ";")
}

// CanonicalRequest assembles the deterministic request representation:
// method, URI, query string, canonical headers, signed-header list and the
// hex digest of the payload, newline-separated.
func CanonicalRequest(method, canonicalURI, canonicalQuery string, headers []Header, payloadHash string) string {
	var canonHeaders strings.Builder
	for _, h := range headers {
		canonHeaders.WriteString(strings.ToLower(h.Name))
		canonHeaders.WriteString(":")
		canonHeaders.WriteString(strings.TrimSpace(h.Value))
		canonHeaders.WriteString("\n")
	}

	return strings.Join([]string{
		method,
		canonicalURI,
		canonicalQuery,
		canonHeaders.String(),
		SignedHeaderNames(headers),
		payloadHash,
	}, "\n")
}

// CanonicalURI returns "/" followed by the object key with each path segment
// percent-encoded per the SigV4 canonicalization rules. Keys produced by the
// gateway are already path-safe, so for those this is the identity.
func CanonicalURI(key string) string {
	segments := strings.Split(key, "/")
	for i, seg := range segments {
		segments[i] = uriEncode(seg)
	}
	return "/" + strings.Join(segments, "/")
}

// StringToSign combines the algorithm, the request timestamp, the credential
// scope and the digest of the canonical request.
func StringToSign(canonicalRequest, timestamp string, scope Scope) string {
	return strings.Join([]string{
		Algorithm,
		timestamp,
		scope.String(),
		HashHex([]byte(canonicalRequest)),
	}, "\n")
}

// DeriveSigningKey derives the per-request signing key from the secret
// through four chained MACs scoped to date, region, service and the fixed
// request-type terminator. Each step's raw output keys the next step.
func DeriveSigningKey(secret, dateStamp, region, service string) []byte {
	kDate := HMACSHA256([]byte("AWS4"+secret), []byte(dateStamp))
	kRegion := HMACSHA256(kDate, []byte(region))
	kService := HMACSHA256(kRegion, []byte(service))
	return HMACSHA256(kService, []byte(RequestType))
}

// Signature computes the final hex signature for a canonical request. The
// timestamp and dateStamp must come from the same captured instant; skew
// between them invalidates the signature.
func Signature(canonicalRequest, timestamp string, scope Scope, secret string) string {
	stringToSign := StringToSign(canonicalRequest, timestamp, scope)
	signingKey := DeriveSigningKey(secret, scope.Date, scope.Region, scope.Service)
	return hex.EncodeToString(HMACSHA256(signingKey, []byte(stringToSign)))
}

// AuthorizationHeader renders the Authorization header value for a signed
// request.
func AuthorizationHeader(accessKey string, scope Scope, signedHeaders, signature string) string {
	return fmt.Sprintf("%s Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		Algorithm, accessKey, scope, signedHeaders, signature)
}

// FormatTime renders t as the SigV4 UTC timestamp.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// FormatDate renders t as the SigV4 UTC date stamp.
func FormatDate(t time.Time) string {
	return t.UTC().Format(DateFormat)
}

func uriEncode(s string) string {
	var buf strings.Builder
	for _, b := range []byte(s) {
		if (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9') || b == '-' || b == '_' || b == '.' || b == '~' {
			buf.WriteByte(b)
		} else {
			fmt.Fprintf(&buf, "%%%02X", b)
		}
	}
	return buf.String()
}
