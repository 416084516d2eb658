// Package httpsig implements C4: signing outbound requests and verifying
// inbound ones per the HTTP Signatures draft AP federation relies on,
// wrapping code.superseriousbusiness.org/httpsig (the fork of go-fed/httpsig
// GoToSocial ships, named directly in the teacher's go.mod even though the
// file that would have wired it in was missing from the retrieved pack —
// see DESIGN.md's retrieval-gap note). Key PEM parsing is grounded on
// gnp-x-stegodon/util.go's PKCS1/PKCS8 dual-format tolerance.
package httpsig

import (
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"

	"code.superseriousbusiness.org/httpsig"
)

// Sentinel errors for the failure modes this package distinguishes: missing
// signature header, unparseable signature header, digest mismatch,
// cryptographic verification failure, and an unparseable PEM key. There is
// no separate sentinel for an unknown keyId or a failed key fetch; key
// lookup happens outside this package.
var (
	ErrMissingSignature = errors.New("httpsig: request has no Signature header")
	ErrMalformedHeader  = errors.New("httpsig: Signature header is malformed")
	ErrDigestMismatch   = errors.New("httpsig: Digest header does not match body")
	ErrVerifyFailed     = errors.New("httpsig: signature verification failed")
	ErrBadKey           = errors.New("httpsig: could not parse PEM key")
)

var signHeaders = []string{httpsig.RequestTarget, "host", "date", "digest"}

// Sign signs r in place with privateKey under keyId, adding Date, Digest
// (over body) and Signature headers. r.Method/r.URL/r.Header must already
// be set; body is the exact bytes that will be sent.
func Sign(r *http.Request, privateKey *rsa.PrivateKey, keyId string, body []byte) error {
	signer, _, err := httpsig.NewSigner(
		[]httpsig.Algorithm{httpsig.RSA_SHA256},
		httpsig.DigestSha256,
		signHeaders,
		httpsig.Signature,
		0,
	)
	if err != nil {
		return fmt.Errorf("httpsig: new signer: %w", err)
	}
	if err := signer.SignRequest(privateKey, keyId, r, body); err != nil {
		return fmt.Errorf("httpsig: sign request: %w", err)
	}
	return nil
}

// ExtractKeyId returns the keyId claimed by r's Signature header without
// verifying anything, so the caller can fetch/resolve the matching actor's
// public key before calling Verify.
func ExtractKeyId(r *http.Request) (string, error) {
	if r.Header.Get("Signature") == "" {
		return "", ErrMissingSignature
	}
	verifier, err := httpsig.NewVerifier(r)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedHeader, err)
	}
	return verifier.KeyId(), nil
}

// Verify checks r's Signature header against publicKeyPem, returning the
// keyId on success. Callers must separately validate the Digest header
// against the actual body bytes read (see VerifyDigest) since httpsig's
// verifier only checks the signature over the headers it covers.
func Verify(r *http.Request, publicKeyPem string) (keyId string, err error) {
	if r.Header.Get("Signature") == "" {
		return "", ErrMissingSignature
	}
	verifier, err := httpsig.NewVerifier(r)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedHeader, err)
	}

	pubKey, err := ParsePublicKey(publicKeyPem)
	if err != nil {
		return "", err
	}

	if err := verifier.Verify(pubKey, httpsig.RSA_SHA256); err != nil {
		return "", fmt.Errorf("%w: %v", ErrVerifyFailed, err)
	}
	return verifier.KeyId(), nil
}

// ComputeDigest returns the "SHA-256=<base64>" Digest header value for body.
func ComputeDigest(body []byte) string {
	sum := sha256.Sum256(body)
	return "SHA-256=" + base64.StdEncoding.EncodeToString(sum[:])
}

// VerifyDigest reports whether r's Digest header matches the actual body
// bytes read off the wire, guarding against a signature that covers a
// Digest header the attacker forged to not match the resent body.
func VerifyDigest(r *http.Request, body []byte) error {
	got := r.Header.Get("Digest")
	if got == "" {
		return nil // some implementations omit Digest on GET/empty-body requests
	}
	if got != ComputeDigest(body) {
		return ErrDigestMismatch
	}
	return nil
}

// ParsePrivateKey parses an RSA private key PEM block in either PKCS1 or
// PKCS8 form, matching the two encodings stored in actors.private_key_pem
// across the lifetime of the deployment (see MigrateKeysToPKCS8-style
// upgrades in the teacher's app initialization).
func ParsePrivateKey(pemStr string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, ErrBadKey
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadKey, err)
	}
	rsaKey, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an RSA key", ErrBadKey)
	}
	return rsaKey, nil
}

// ParsePublicKey parses an RSA public key PEM block (PKIX form, the only
// form AP actor documents carry).
func ParsePublicKey(pemStr string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, ErrBadKey
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadKey, err)
	}
	rsaKey, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an RSA key", ErrBadKey)
	}
	return rsaKey, nil
}
