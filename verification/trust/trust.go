/*
Package trust holds the trust anchors pinned for SGX attestation.

The anchors are derived from the embedded certificates at package initialization.
When Intel rotates one of its CAs, replace the corresponding PEM file.
*/
package trust

import (
	_ "embed"
	"time"

	"github.com/edgelesssys/go-sgx-qvl/verification/crypto"
)

var (
	//go:embed intel_sgx_root_ca.pem
	intelSGXRootCAPEM []byte

	//go:embed ias_report_signing_ca.pem
	iasReportSigningCAPEM []byte
)

// DefaultIASValidUntil is the instant at which IAS signing certificates are checked
// against the Intel SGX Attestation Report Signing CA.
var DefaultIASValidUntil = time.Unix(1573419050, 0).UTC()

var (
	intelSGXRootCA     = mustTrustAnchor(intelSGXRootCAPEM)
	iasReportSigningCA = mustTrustAnchor(iasReportSigningCAPEM)
)

// IntelSGXRootCA returns the Intel SGX Root CA, the root of every DCAP PCK certificate chain.
func IntelSGXRootCA() crypto.TrustAnchor {
	return clone(intelSGXRootCA)
}

// IASReportSigningCA returns the Intel SGX Attestation Report Signing CA, the root of IAS report signing certificates.
func IASReportSigningCA() crypto.TrustAnchor {
	return clone(iasReportSigningCA)
}

// IntelSGXRootCAPEM returns the PEM encoded Intel SGX Root CA certificate.
func IntelSGXRootCAPEM() []byte {
	return append([]byte(nil), intelSGXRootCAPEM...)
}

func mustTrustAnchor(certPEM []byte) crypto.TrustAnchor {
	anchor, err := crypto.TrustAnchorFromCertificate(crypto.MustParsePEMCertificate(certPEM))
	if err != nil {
		panic(err)
	}
	return anchor
}

func clone(anchor crypto.TrustAnchor) crypto.TrustAnchor {
	return crypto.TrustAnchor{
		Subject: append([]byte(nil), anchor.Subject...),
		SPKI:    append([]byte(nil), anchor.SPKI...),
	}
}
