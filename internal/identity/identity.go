// Package identity holds the local peer certificate and fingerprint pinning.
//
// Peers never trust a certificate authority. Each side generates a
// self-signed certificate once per process, publishes its fingerprint
// through signaling, and accepts only the exact certificate whose
// fingerprint it was told to expect.
package identity

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"
)

const certValidity = 100 * 365 * 24 * time.Hour

var (
	// ErrNoPeerCertificate is returned when the remote side presented nothing.
	ErrNoPeerCertificate = errors.New("peer presented no certificate")
	// ErrFingerprintMismatch is returned when the remote certificate is not the pinned one.
	ErrFingerprintMismatch = errors.New("peer certificate fingerprint mismatch")
)

// Identity is the local self-signed certificate and its fingerprint.
type Identity struct {
	Certificate tls.Certificate
	fingerprint string
}

// New generates a fresh ECDSA P-256 identity.
func New() (*Identity, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("generate serial: %w", err)
	}

	now := time.Now()
	template := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{Organization: []string{"quicshare"}},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(certValidity),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("create certificate: %w", err)
	}

	return &Identity{
		Certificate: tls.Certificate{
			Certificate: [][]byte{der},
			PrivateKey:  key,
		},
		fingerprint: Fingerprint(der),
	}, nil
}

// Fingerprint returns the identity token published to the peer.
func (id *Identity) Fingerprint() string {
	return id.fingerprint
}

// Fingerprint computes the uppercase hex SHA-256 of a DER certificate.
func Fingerprint(der []byte) string {
	sum := sha256.Sum256(der)
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// Match compares two fingerprints, ignoring case and surrounding space.
func Match(a, b string) bool {
	a = strings.TrimSpace(a)
	b = strings.TrimSpace(b)
	return a != "" && strings.EqualFold(a, b)
}

// VerifyPinned returns a tls.Config.VerifyPeerCertificate callback that
// accepts only a leaf certificate with the expected fingerprint. onReject,
// if non-nil, observes every rejection before it is returned.
func VerifyPinned(expected string, onReject func(error)) func([][]byte, [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		var err error
		switch {
		case len(rawCerts) == 0:
			err = ErrNoPeerCertificate
		case !Match(Fingerprint(rawCerts[0]), expected):
			err = fmt.Errorf("%w: got %s", ErrFingerprintMismatch, Fingerprint(rawCerts[0]))
		}
		if err != nil && onReject != nil {
			onReject(err)
		}
		return err
	}
}
