package httpsig

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"net/http"
	"testing"
)

func generateTestKeyPair(t *testing.T) (*rsa.PrivateKey, string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	pubBytes, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubBytes})
	return key, string(pubPEM)
}

func TestParsePrivateKeyPKCS8(t *testing.T) {
	key, _ := generateTestKeyPair(t)
	bytes8, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("marshal pkcs8: %v", err)
	}
	pemStr := string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: bytes8}))

	parsed, err := ParsePrivateKey(pemStr)
	if err != nil {
		t.Fatalf("ParsePrivateKey: %v", err)
	}
	if parsed.N.Cmp(key.N) != 0 {
		t.Error("parsed key does not match original")
	}
}

func TestParsePrivateKeyPKCS1(t *testing.T) {
	key, _ := generateTestKeyPair(t)
	pemStr := string(pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}))

	parsed, err := ParsePrivateKey(pemStr)
	if err != nil {
		t.Fatalf("ParsePrivateKey: %v", err)
	}
	if parsed.N.Cmp(key.N) != 0 {
		t.Error("parsed key does not match original")
	}
}

func TestParsePrivateKeyInvalidPEM(t *testing.T) {
	if _, err := ParsePrivateKey("not a pem"); err == nil {
		t.Error("expected error for invalid PEM")
	}
}

func TestSignAndVerifyRoundTrip(t *testing.T) {
	key, pubPEM := generateTestKeyPair(t)
	keyId := "https://example.test/user/alice#main-key"
	body := []byte(`{"type":"Follow"}`)

	req, err := http.NewRequest(http.MethodPost, "https://remote.test/inbox", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Host", "remote.test")
	req.Header.Set("Digest", ComputeDigest(body))

	if err := Sign(req, key, keyId, body); err != nil {
		t.Fatalf("Sign: %v", err)
	}

	got, err := Verify(req, pubPEM)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if got != keyId {
		t.Errorf("got keyId %q, want %q", got, keyId)
	}

	if err := VerifyDigest(req, body); err != nil {
		t.Errorf("VerifyDigest: %v", err)
	}
	if err := VerifyDigest(req, []byte("tampered")); err == nil {
		t.Error("expected digest mismatch for tampered body")
	}
}

func TestVerifyMissingSignature(t *testing.T) {
	req, _ := http.NewRequest(http.MethodPost, "https://remote.test/inbox", nil)
	if _, err := Verify(req, "whatever"); err != ErrMissingSignature {
		t.Errorf("got %v, want ErrMissingSignature", err)
	}
}

func TestVerifyWrongKey(t *testing.T) {
	key, _ := generateTestKeyPair(t)
	_, otherPubPEM := generateTestKeyPair(t)
	body := []byte(`{"type":"Follow"}`)

	req, _ := http.NewRequest(http.MethodPost, "https://remote.test/inbox", bytes.NewReader(body))
	req.Header.Set("Host", "remote.test")
	req.Header.Set("Digest", ComputeDigest(body))
	if err := Sign(req, key, "https://example.test/user/alice#main-key", body); err != nil {
		t.Fatalf("Sign: %v", err)
	}

	if _, err := Verify(req, otherPubPEM); !errors.Is(err, ErrVerifyFailed) {
		t.Errorf("got %v, want ErrVerifyFailed", err)
	}
}
