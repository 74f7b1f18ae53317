package sshauth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"
)

func testRSAPem(t *testing.T) []byte {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa.GenerateKey: %v", err)
	}
	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}
	return pem.EncodeToMemory(block)
}

func TestPublicKeyMethodFromPem(t *testing.T) {
	cred := Credential{Kind: CredPrivateKeyPem, PrivateKeyPem: testRSAPem(t)}
	method, err := PublicKeyMethod(cred, nil)
	if err != nil {
		t.Fatalf("PublicKeyMethod: %v", err)
	}
	if method == nil {
		t.Fatal("expected a non-nil AuthMethod")
	}
}

func TestPublicKeyMethodNoCredential(t *testing.T) {
	_, err := PublicKeyMethod(Credential{}, nil)
	if err == nil {
		t.Fatal("expected error with no credential")
	}
}

func TestPublicKeyMethodAgentProxyWithoutDialer(t *testing.T) {
	_, err := PublicKeyMethod(Credential{Kind: CredAgentProxy}, nil)
	if err == nil {
		t.Fatal("expected error when agent credential has no dialer")
	}
}
