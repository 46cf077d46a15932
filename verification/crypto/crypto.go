// Package crypto implements common crypto operations used to verify SGX attestations.
package crypto

import (
	"crypto"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/crypto/cryptobyte"
	cryptobyte_asn1 "golang.org/x/crypto/cryptobyte/asn1"
)

const (
	pemBeginCertificate = "-----BEGIN CERTIFICATE-----"
	pemEndCertificate   = "-----END CERTIFICATE-----"
)

// BuildECDSAPublicKey builds a P-256 public key from its raw (x || y) representation.
// The point is checked to be on the curve.
func BuildECDSAPublicKey(rawPublicKey [64]byte) (*ecdsa.PublicKey, error) {
	// uncompressed SEC 1 encoding: 0x04 || x || y
	uncompressed := make([]byte, 0, 65)
	uncompressed = append(uncompressed, 0x04)
	uncompressed = append(uncompressed, rawPublicKey[:]...)
	if _, err := ecdh.P256().NewPublicKey(uncompressed); err != nil {
		return nil, fmt.Errorf("invalid P-256 public key: %w", err)
	}

	key := new(ecdsa.PublicKey)
	key.Curve = elliptic.P256()
	key.X = new(big.Int).SetBytes(rawPublicKey[:32])
	key.Y = new(big.Int).SetBytes(rawPublicKey[32:64])

	return key, nil
}

// VerifyECDSASignature verifies a raw (r || s) ECDSA signature over the SHA-256 digest of data.
func VerifyECDSASignature(publicKey crypto.PublicKey, data, signature []byte) error {
	signingKey, ok := publicKey.(*ecdsa.PublicKey)
	if !ok {
		return errors.New("signing public key is not an ECDSA key")
	}
	if len(signature) != 64 {
		return fmt.Errorf("invalid ECDSA signature: expected 64 bytes but got %d bytes", len(signature))
	}
	r := new(big.Int).SetBytes(signature[:32])
	s := new(big.Int).SetBytes(signature[32:64])

	toVerify := sha256.Sum256(data)
	if !ecdsa.Verify(signingKey, toVerify[:], r, s) {
		return errors.New("failed to verify signature using ECDSA public key")
	}
	return nil
}

// RawToASN1 converts a raw (r || s) ECDSA P-256 signature into an ASN.1 SEQUENCE of two INTEGERs,
// the form expected when verifying with an X.509 certificate.
func RawToASN1(signature []byte) ([]byte, error) {
	if len(signature) != 64 {
		return nil, fmt.Errorf("invalid ECDSA signature: expected 64 bytes but got %d bytes", len(signature))
	}
	r := new(big.Int).SetBytes(signature[:32])
	s := new(big.Int).SetBytes(signature[32:])

	var b cryptobyte.Builder
	b.AddASN1(cryptobyte_asn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1BigInt(r)
		b.AddASN1BigInt(s)
	})
	return b.Bytes()
}

// ASN1ToRaw converts an ASN.1 encoded ECDSA P-256 signature into its raw (r || s) form.
func ASN1ToRaw(signature []byte) ([64]byte, error) {
	var raw [64]byte
	r, s := new(big.Int), new(big.Int)

	input := cryptobyte.String(signature)
	var inner cryptobyte.String
	if !input.ReadASN1(&inner, cryptobyte_asn1.SEQUENCE) ||
		!input.Empty() ||
		!inner.ReadASN1Integer(r) ||
		!inner.ReadASN1Integer(s) ||
		!inner.Empty() {
		return raw, errors.New("malformed ASN.1 ECDSA signature")
	}
	if r.Sign() < 0 || s.Sign() < 0 || r.BitLen() > 256 || s.BitLen() > 256 {
		return raw, errors.New("ECDSA signature values out of range for P-256")
	}

	r.FillBytes(raw[:32])
	s.FillBytes(raw[32:])
	return raw, nil
}

// ExtractCertificates splits a concatenation of PEM certificates into DER certificates, in input order.
//
// Parsing is lenient: invalid UTF-8 is tolerated and fragments that are not valid base64
// (such as the terminating null byte of a PCK certificate chain) are skipped.
// Certificate verification fails later on if the input was garbage.
func ExtractCertificates(certChain []byte) [][]byte {
	concat := strings.ToValidUTF8(string(certChain), "\uFFFD")
	concat = strings.ReplaceAll(concat, "\n", "")
	concat = strings.ReplaceAll(concat, pemBeginCertificate, "")

	var certs [][]byte
	for _, part := range strings.Split(concat, pemEndCertificate) {
		if part == "" {
			continue
		}
		der, err := base64.StdEncoding.DecodeString(part)
		if err != nil || len(der) == 0 {
			continue
		}
		certs = append(certs, der)
	}
	return certs
}

// ParsePEMCertificateChain parses a certificate chain from a PEM-encoded byte slice.
func ParsePEMCertificateChain(certChainPEM []byte) ([]*x509.Certificate, error) {
	var signingChain []*x509.Certificate
	for block, rest := pem.Decode(certChainPEM); block != nil; block, rest = pem.Decode(rest) {
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parsing certificate from PEM: %w", err)
		}

		signingChain = append(signingChain, cert)
	}
	return signingChain, nil
}

// MustParsePEMCertificate parses a single certificate from a PEM-encoded byte slice.
// If multiple certificates are present, only the first one is returned.
// It panics if the certificate is invalid or the PEM data contains no certificates.
func MustParsePEMCertificate(certPEM []byte) *x509.Certificate {
	certs, err := ParsePEMCertificateChain(certPEM)
	if err != nil {
		panic(err)
	}
	if len(certs) == 0 {
		panic("expected at least one certificate")
	}
	return certs[0]
}
