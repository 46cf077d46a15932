package crypto

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/x509"
	"errors"
	"fmt"
	"slices"
	"time"

	"golang.org/x/crypto/cryptobyte"
	cryptobyte_asn1 "golang.org/x/crypto/cryptobyte/asn1"
)

// TrustAnchor is a trusted root, identified by its subject and public key only.
// Both fields hold the DER contents of the respective SEQUENCE, without the outer tag and length.
type TrustAnchor struct {
	Subject []byte
	SPKI    []byte
}

// TrustAnchorFromCertificate derives a trust anchor from a (root) certificate.
func TrustAnchorFromCertificate(cert *x509.Certificate) (TrustAnchor, error) {
	subject, err := sequenceContents(cert.RawSubject)
	if err != nil {
		return TrustAnchor{}, fmt.Errorf("reading subject: %w", err)
	}
	spki, err := sequenceContents(cert.RawSubjectPublicKeyInfo)
	if err != nil {
		return TrustAnchor{}, fmt.Errorf("reading subject public key info: %w", err)
	}
	return TrustAnchor{Subject: subject, SPKI: spki}, nil
}

// PublicKey parses the public key of the trust anchor.
func (a TrustAnchor) PublicKey() (crypto.PublicKey, error) {
	var b cryptobyte.Builder
	b.AddASN1(cryptobyte_asn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddBytes(a.SPKI)
	})
	spki, err := b.Bytes()
	if err != nil {
		return nil, fmt.Errorf("encoding subject public key info: %w", err)
	}
	return x509.ParsePKIXPublicKey(spki)
}

// SignatureAlgorithm is a signature algorithm together with the keys it may be used with.
type SignatureAlgorithm struct {
	name       string
	algorithm  x509.SignatureAlgorithm
	curve      elliptic.Curve // nil for RSA
	minRSABits int
	maxRSABits int
}

func (a *SignatureAlgorithm) String() string {
	return a.name
}

// Signature algorithms accepted when verifying attestation evidence.
var (
	// ECDSAP256SHA256 is ECDSA with a P-256 key and SHA-256. Signatures are ASN.1 encoded.
	ECDSAP256SHA256 = &SignatureAlgorithm{name: "ECDSA_P256_SHA256", algorithm: x509.ECDSAWithSHA256, curve: elliptic.P256()}

	// RSAPKCS1SHA256 is RSA PKCS #1 v1.5 with a 2048 to 8192 bit key and SHA-256.
	RSAPKCS1SHA256 = &SignatureAlgorithm{name: "RSA_PKCS1_2048_8192_SHA256", algorithm: x509.SHA256WithRSA, minRSABits: 2048, maxRSABits: 8192}

	// RSAPKCS1SHA384 is RSA PKCS #1 v1.5 with a 2048 to 8192 bit key and SHA-384.
	RSAPKCS1SHA384 = &SignatureAlgorithm{name: "RSA_PKCS1_2048_8192_SHA384", algorithm: x509.SHA384WithRSA, minRSABits: 2048, maxRSABits: 8192}

	// RSAPKCS1SHA512 is RSA PKCS #1 v1.5 with a 2048 to 8192 bit key and SHA-512.
	RSAPKCS1SHA512 = &SignatureAlgorithm{name: "RSA_PKCS1_2048_8192_SHA512", algorithm: x509.SHA512WithRSA, minRSABits: 2048, maxRSABits: 8192}

	// RSAPKCS1SHA384Min3072 is RSA PKCS #1 v1.5 with a 3072 to 8192 bit key and SHA-384.
	RSAPKCS1SHA384Min3072 = &SignatureAlgorithm{name: "RSA_PKCS1_3072_8192_SHA384", algorithm: x509.SHA384WithRSA, minRSABits: 3072, maxRSABits: 8192}
)

// VerifySignature verifies the signature over data using the public key of cert.
func VerifySignature(cert *x509.Certificate, data, signature []byte, algorithm *SignatureAlgorithm) error {
	return algorithm.verify(cert.PublicKey, data, signature)
}

func (a *SignatureAlgorithm) verify(publicKey crypto.PublicKey, data, signature []byte) error {
	if err := a.checkKey(publicKey); err != nil {
		return err
	}
	// CheckSignature only looks at the public key of the certificate.
	if err := (&x509.Certificate{PublicKey: publicKey}).CheckSignature(a.algorithm, data, signature); err != nil {
		return fmt.Errorf("verifying %s signature: %w", a.name, err)
	}
	return nil
}

func (a *SignatureAlgorithm) checkKey(publicKey crypto.PublicKey) error {
	switch key := publicKey.(type) {
	case *ecdsa.PublicKey:
		if a.curve == nil || key.Curve != a.curve {
			return fmt.Errorf("ECDSA key on curve %s cannot be used with %s", key.Curve.Params().Name, a.name)
		}
	case *rsa.PublicKey:
		if a.curve != nil {
			return fmt.Errorf("RSA key cannot be used with %s", a.name)
		}
		if bits := key.N.BitLen(); bits < a.minRSABits || bits > a.maxRSABits {
			return fmt.Errorf("RSA key size %d is out of range for %s", bits, a.name)
		}
	default:
		return fmt.Errorf("unsupported public key type %T", publicKey)
	}
	return nil
}

// VerifyChain verifies that leaf chains up to one of the anchors through the given intermediates.
//
// The path is built by matching issuer and subject names; intermediates not needed for the path are ignored.
// Every certificate on the path must be valid at the given time, and every signature on the path
// must use one of the given algorithms. Certificates with unhandled critical extensions are rejected,
// and path length constraints of intermediates are enforced. Trust anchors carry no validity period
// and no constraints.
func VerifyChain(leaf *x509.Certificate, intermediates []*x509.Certificate, anchors []TrustAnchor, at time.Time, algorithms []*SignatureAlgorithm) error {
	if leaf.BasicConstraintsValid && leaf.IsCA {
		return errors.New("CA certificate used as end-entity certificate")
	}

	used := make([]bool, len(intermediates))
	current := leaf
	// number of intermediates between the current certificate and the leaf
	depth := 0
	for {
		if err := checkValidity(current, at); err != nil {
			return err
		}
		if len(current.UnhandledCriticalExtensions) > 0 {
			return fmt.Errorf("certificate %q has unhandled critical extensions %v", current.Subject, current.UnhandledCriticalExtensions)
		}

		issuerName, err := sequenceContents(current.RawIssuer)
		if err != nil {
			return fmt.Errorf("reading issuer of %q: %w", current.Subject, err)
		}
		for _, anchor := range anchors {
			if !bytes.Equal(issuerName, anchor.Subject) {
				continue
			}
			if err := verifyWithAnchor(current, anchor, algorithms); err == nil {
				return nil
			}
		}

		issuerIdx := slices.IndexFunc(intermediates, func(c *x509.Certificate) bool {
			return bytes.Equal(c.RawSubject, current.RawIssuer)
		})
		if issuerIdx < 0 || used[issuerIdx] {
			return fmt.Errorf("no path from %q to a trust anchor", current.Subject)
		}
		used[issuerIdx] = true
		issuer := intermediates[issuerIdx]

		if !issuer.BasicConstraintsValid || !issuer.IsCA {
			return fmt.Errorf("issuer %q is not a CA", issuer.Subject)
		}
		if issuer.MaxPathLen >= 0 && depth > issuer.MaxPathLen {
			return fmt.Errorf("path length constraint of %q exceeded", issuer.Subject)
		}
		if err := verifyCertificateSignature(current, issuer.PublicKey, algorithms); err != nil {
			return fmt.Errorf("verifying signature of %q: %w", current.Subject, err)
		}
		current = issuer
		depth++
	}
}

func verifyWithAnchor(cert *x509.Certificate, anchor TrustAnchor, algorithms []*SignatureAlgorithm) error {
	publicKey, err := anchor.PublicKey()
	if err != nil {
		return err
	}
	return verifyCertificateSignature(cert, publicKey, algorithms)
}

// verifyCertificateSignature verifies the signature of cert with the key of its issuer,
// if the signature algorithm of cert is one of algorithms.
func verifyCertificateSignature(cert *x509.Certificate, issuerKey crypto.PublicKey, algorithms []*SignatureAlgorithm) error {
	var errs []error
	for _, algorithm := range algorithms {
		if algorithm.algorithm != cert.SignatureAlgorithm {
			continue
		}
		err := algorithm.verify(issuerKey, cert.RawTBSCertificate, cert.Signature)
		if err == nil {
			return nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return fmt.Errorf("signature algorithm %s is not allowed", cert.SignatureAlgorithm)
	}
	return errors.Join(errs...)
}

func checkValidity(cert *x509.Certificate, at time.Time) error {
	if at.Before(cert.NotBefore) {
		return fmt.Errorf("certificate %q is not valid before %s", cert.Subject, cert.NotBefore.UTC().Format(time.RFC3339))
	}
	if at.After(cert.NotAfter) {
		return fmt.Errorf("certificate %q expired at %s", cert.Subject, cert.NotAfter.UTC().Format(time.RFC3339))
	}
	return nil
}

// sequenceContents returns the contents of a DER SEQUENCE.
func sequenceContents(der []byte) ([]byte, error) {
	input := cryptobyte.String(der)
	var contents cryptobyte.String
	if !input.ReadASN1(&contents, cryptobyte_asn1.SEQUENCE) || !input.Empty() {
		return nil, errors.New("malformed DER SEQUENCE")
	}
	return contents, nil
}
