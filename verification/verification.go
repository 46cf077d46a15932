/*
# Intel SGX Remote Attestation Verification

This package verifies the two flavors of SGX remote attestation evidence and
summarizes the attested enclave as [types.EnclaveSummary].

IAS (EPID) attestation certificates are verified as follows:

  - Extract the Netscape Comment extension of the certificate.
    It holds the attestation report JSON, the report signature, and the IAS report signing certificate.

  - Verify the report signing certificate against the IAS Report Signing CA.

  - Verify the RSA signature of the attestation report.

  - Parse the report and the EPID quote it contains.

DCAP (ECDSA) quotes are verified as follows:

  - Check quote version, attestation key type, and certification data type.

  - Check the MRSIGNER of the Quoting Enclave (QE) against the expected QE identity.

  - Verify the PCK certificate chain embedded in the quote against the Intel SGX Root CA.

  - Verify that the QE report binds the attestation key.

  - Verify the signature of the ISV enclave report using the attestation key.

  - Verify the signature of the QE report using the PCK certificate.

Verification never performs I/O. Time is always passed by the caller.
Collateral (TCB Info, QE Identity) is verified by package pcs.
*/
package verification

import (
	"crypto/x509"
	"time"

	"github.com/edgelesssys/go-sgx-qvl/verification/crypto"
	"github.com/edgelesssys/go-sgx-qvl/verification/trust"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("service", "sgx-verifier")

var (
	dcapAlgorithms = []*crypto.SignatureAlgorithm{crypto.ECDSAP256SHA256}
	iasAlgorithms  = []*crypto.SignatureAlgorithm{
		crypto.RSAPKCS1SHA256,
		crypto.RSAPKCS1SHA384,
		crypto.RSAPKCS1SHA512,
		crypto.RSAPKCS1SHA384Min3072,
	}
)

// Config configures an [SGXVerifier].
// Zero fields use the pinned Intel defaults.
type Config struct {
	// IASAnchors are the trusted IAS Report Signing CAs.
	IASAnchors []crypto.TrustAnchor
	// DCAPAnchors are the trusted roots of the PCK and TCB signing certificate chains.
	DCAPAnchors []crypto.TrustAnchor
	// IASValidUntil is the instant at which the IAS report signing certificate is checked.
	IASValidUntil time.Time
}

// SGXVerifier is used to verify SGX attestation evidence.
// It holds no mutable state and may be used concurrently.
type SGXVerifier struct {
	iasAnchors    []crypto.TrustAnchor
	dcapAnchors   []crypto.TrustAnchor
	iasValidUntil time.Time
}

// New creates a new SGXVerifier trusting Intel's pinned roots.
func New() *SGXVerifier {
	return NewWithConfig(Config{})
}

// NewWithConfig creates a new SGXVerifier using the given configuration.
func NewWithConfig(cfg Config) *SGXVerifier {
	v := &SGXVerifier{
		iasAnchors:    cfg.IASAnchors,
		dcapAnchors:   cfg.DCAPAnchors,
		iasValidUntil: cfg.IASValidUntil,
	}
	if len(v.iasAnchors) == 0 {
		v.iasAnchors = []crypto.TrustAnchor{trust.IASReportSigningCA()}
	}
	if len(v.dcapAnchors) == 0 {
		v.dcapAnchors = []crypto.TrustAnchor{trust.IntelSGXRootCA()}
	}
	if v.iasValidUntil.IsZero() {
		v.iasValidUntil = trust.DefaultIASValidUntil
	}
	return v
}

// VerifyCertificateChain verifies that leaf chains up to one of the DCAP trust anchors
// at the given time in Unix milliseconds. Only ECDSA P-256 with SHA-256 signatures are accepted.
func (v *SGXVerifier) VerifyCertificateChain(leaf *x509.Certificate, intermediates []*x509.Certificate, timeMillis uint64) error {
	at := millisToTime(timeMillis)
	log.Tracef("Verifying certificate chain of %q at %s", leaf.Subject, at.Format(time.RFC3339))
	return crypto.VerifyChain(leaf, intermediates, v.dcapAnchors, at, dcapAlgorithms)
}

// millisToTime converts Unix milliseconds to a time with second precision.
func millisToTime(millis uint64) time.Time {
	return time.Unix(int64(millis/1000), 0).UTC()
}
