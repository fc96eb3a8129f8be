package sslv3

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"time"
)

// ServerIdentity is the RSA key pair and matching self-signed
// certificate a Conn presents during the server role's Certificate
// message. ME3 clients never validate the chain against a CA, only
// that it parses and the RSA key exchange succeeds, so a fresh
// self-signed leaf is sufficient, generalizing the teacher's
// GenerateRSAKeyPair (which pre-computes an L2-specific scrambled
// modulus) into a real X.509 leaf instead.
type ServerIdentity struct {
	PrivateKey  *rsa.PrivateKey
	Certificate []byte // DER-encoded, self-signed
}

// GenerateServerIdentity creates a fresh 2048-bit RSA key and a
// self-signed certificate for commonName, valid for 20 years.
func GenerateServerIdentity(commonName string) (*ServerIdentity, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("sslv3: generate server key: %w", err)
	}
	key.Precompute()

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("sslv3: generate serial: %w", err)
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: commonName},
		NotBefore:             now,
		NotAfter:              now.AddDate(20, 0, 0),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("sslv3: create certificate: %w", err)
	}
	return &ServerIdentity{PrivateKey: key, Certificate: der}, nil
}
