/*
Package blobs provides attestation fixtures for tests.

Collateral fixtures are embedded JSON as served by Intel's PCS.
Quotes and attestation certificates are generated on demand: they are signed
by a synthetic PKI shaped like Intel's, whose root is passed to the verifier as trust anchor.

This package must not import packages of this module, since their tests import it.
*/
package blobs

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	_ "embed"
	"encoding/pem"
	"fmt"
	"math/big"
	"time"
)

var (
	// TCBInfoV2JSON is a v2 TCB Info for FMSPC 00A065510000 with 10 TCB levels.
	//go:embed tcb_info_v2.json
	TCBInfoV2JSON []byte

	// TCBInfoV3JSON is the v3 representation of TCBInfoV2JSON.
	//go:embed tcb_info_v3.json
	TCBInfoV3JSON []byte

	// QEIdentityJSON is a QE Identity matching QEMRSigner.
	//go:embed qe_identity.json
	QEIdentityJSON []byte
)

var (
	// CollateralIssueDate is the issue date of the embedded TCB Info.
	CollateralIssueDate = time.Date(2023, 6, 20, 11, 2, 18, 0, time.UTC)

	// VerificationTime lies within the validity of all fixtures.
	VerificationTime = time.Date(2023, 6, 25, 0, 0, 0, 0, time.UTC)

	// CertificatesNotBefore and CertificatesNotAfter bound the validity of the generated DCAP certificates.
	CertificatesNotBefore = time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	CertificatesNotAfter  = time.Date(2033, 1, 1, 0, 0, 0, 0, time.UTC)
)

// PEM encodes certificates as a PEM chain.
func PEM(certs ...*x509.Certificate) []byte {
	var out []byte
	for _, cert := range certs {
		out = append(out, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})...)
	}
	return out
}

type certTemplate struct {
	commonName string
	isCA       bool
	notBefore  time.Time
	notAfter   time.Time
	extensions []pkix.Extension
}

func createCertificate(tmpl certTemplate, publicKey, parentKey any, parent *x509.Certificate) (*x509.Certificate, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, err
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:   tmpl.commonName,
			Organization: []string{"Intel Corporation"},
			Locality:     []string{"Santa Clara"},
			Province:     []string{"CA"},
			Country:      []string{"US"},
		},
		NotBefore:             tmpl.notBefore,
		NotAfter:              tmpl.notAfter,
		BasicConstraintsValid: true,
		IsCA:                  tmpl.isCA,
		ExtraExtensions:       tmpl.extensions,
	}
	if tmpl.isCA {
		template.KeyUsage = x509.KeyUsageCertSign | x509.KeyUsageCRLSign
	} else {
		template.KeyUsage = x509.KeyUsageDigitalSignature | x509.KeyUsageContentCommitment
	}
	if parent == nil {
		parent = template
	}

	der, err := x509.CreateCertificate(rand.Reader, template, parent, publicKey, parentKey)
	if err != nil {
		return nil, fmt.Errorf("creating certificate %q: %w", tmpl.commonName, err)
	}
	return x509.ParseCertificate(der)
}

func newECDSAKey() (*ecdsa.PrivateKey, error) {
	return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
}

// signRaw signs the SHA-256 digest with key and returns the raw (r || s) signature.
func signRaw(key *ecdsa.PrivateKey, digest []byte) ([64]byte, error) {
	var signature [64]byte
	r, s, err := ecdsa.Sign(rand.Reader, key, digest)
	if err != nil {
		return signature, err
	}
	r.FillBytes(signature[:32])
	s.FillBytes(signature[32:])
	return signature, nil
}

func rawPublicKey(key *ecdsa.PublicKey) [64]byte {
	var raw [64]byte
	key.X.FillBytes(raw[:32])
	key.Y.FillBytes(raw[32:])
	return raw
}
