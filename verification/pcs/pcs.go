/*
Package pcs verifies collateral served by Intel's Provisioning Certification Service (PCS).

Collateral is not retrieved by this package. Callers pass the response bodies and
issuer chains as obtained from the PCS:
  - TCB Info, signed by the TCB Signing certificate
  - QE Identity, signed by the TCB Signing certificate
  - PCK CRL, signed by the PCK Platform/Processor CA

The signing certificates are verified using the Intel SGX certificate hierarchy:

	    	                 ┌───────────────┐
	    	                 │ Intel Root CA │
	    	                 └───────┬───────┘
	    	                         │
	    	                       Signs
	    	                         │
	        ┌────────────────────────┴───────────────────────┐
	        │                                                │
	        ▼                                                ▼
	┌───────────────┐                              ┌──────────────────┐
	│  PCK CA Cert  │                              │ TCB Signing Cert │
	└───────┬───────┘                              └────────┬─────────┘
	        │                                               │
	      Signs                                           Signs
	        │                                               │
	        ├────────────────────┐                 ┌────────┴─────────┐
	        │                    │                 │                  │
	        ▼                    ▼                 ▼                  ▼
	  ┌──────────┐          ┌─────────┐      ┌──────────┐      ┌─────────────┐
	  │ PCK Cert │◄─────────┤ PCK CRL │      │ TCB Info │      │ QE Identity │
	  └──────────┘  Revokes └─────────┘      └──────────┘      └─────────────┘

The PCS returns issuer chains in the response headers listed below, URL-escaped.
Use [ParseIssuerChain] to decode them.
*/
package pcs

import (
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/url"

	"github.com/edgelesssys/go-sgx-qvl/verification/crypto"
	"github.com/edgelesssys/go-sgx-qvl/verification/types"
	"github.com/sirupsen/logrus"
)

const (
	// TCBInfoIssuerChainHeader is the PCS response header containing the TCB Info issuer chain.
	TCBInfoIssuerChainHeader = "TCB-Info-Issuer-Chain"
	// EnclaveIdentityIssuerChainHeader is the PCS response header containing the QE Identity issuer chain.
	EnclaveIdentityIssuerChainHeader = "SGX-Enclave-Identity-Issuer-Chain"
	// PCKCRLIssuerChainHeader is the PCS response header containing the PCK CRL issuer chain.
	PCKCRLIssuerChainHeader = "SGX-PCK-CRL-Issuer-Chain"
)

var log = logrus.WithField("service", "sgx-collateral")

// ChainVerifier verifies that a certificate chains up to a trusted root at a time in Unix milliseconds.
type ChainVerifier interface {
	VerifyCertificateChain(leaf *x509.Certificate, intermediates []*x509.Certificate, timeMillis uint64) error
}

// CollateralVerifier verifies signed PCS collateral.
type CollateralVerifier struct {
	chains ChainVerifier
}

// New returns a new CollateralVerifier verifying issuer chains with chains.
func New(chains ChainVerifier) *CollateralVerifier {
	return &CollateralVerifier{chains: chains}
}

// TCBInfoSigned is the TCB Info response body of the PCS.
type TCBInfoSigned struct {
	TCBInfo   pcsJSONBody `json:"tcbInfo"`
	Signature string      `json:"signature"`
}

// EnclaveIdentitySigned is the QE Identity response body of the PCS.
type EnclaveIdentitySigned struct {
	EnclaveIdentity pcsJSONBody `json:"enclaveIdentity"`
	Signature       string      `json:"signature"`
}

// VerifyTCBInfo verifies a signed TCB Info and returns its accepted TCB levels.
//
// The TCB Info must be signed by the leaf of issuerChain, the chain must be valid at timeMillis,
// and the TCB Info must have been issued before and expire after timeMillis.
// Errors are of type [*types.ValidationError].
func (c *CollateralVerifier) VerifyTCBInfo(body []byte, issuerChain []*x509.Certificate, timeMillis uint64) (types.FMSPC, types.TCBInfoOnChain, error) {
	var signed TCBInfoSigned
	if err := json.Unmarshal(body, &signed); err != nil {
		return types.FMSPC{}, types.TCBInfoOnChain{}, types.ErrDeserialization.Wrap(fmt.Errorf("unmarshaling TCB Info response: %w", err))
	}
	signature, err := hex.DecodeString(signed.Signature)
	if err != nil {
		return types.FMSPC{}, types.TCBInfoOnChain{}, types.ErrDeserialization.Wrap(fmt.Errorf("decoding TCB Info signature: %w", err))
	}

	signingCert, err := c.verifyIssuerChain(issuerChain, timeMillis)
	if err != nil {
		return types.FMSPC{}, types.TCBInfoOnChain{}, err
	}

	tcbInfo, err := DeserializeTCBInfo(signed.TCBInfo, signature, signingCert)
	if err != nil {
		return types.FMSPC{}, types.TCBInfoOnChain{}, err
	}
	if !isValidAt(tcbInfo, timeMillis) {
		return types.FMSPC{}, types.TCBInfoOnChain{}, types.ErrInvalidCollateral.Wrap(errors.New("TCB Info is not valid at the given time"))
	}

	fmspc, onChain := tcbInfo.ToChainTCBInfo()
	log.Debugf("Verified TCB Info for FMSPC %s with %d accepted TCB levels", fmspc, len(onChain.TCBLevels))
	return fmspc, onChain, nil
}

// VerifyEnclaveIdentity verifies a signed QE Identity and returns the accepted Quoting Enclave identity.
//
// The same rules as for [CollateralVerifier.VerifyTCBInfo] apply.
func (c *CollateralVerifier) VerifyEnclaveIdentity(body []byte, issuerChain []*x509.Certificate, timeMillis uint64) (types.QuotingEnclave, error) {
	var signed EnclaveIdentitySigned
	if err := json.Unmarshal(body, &signed); err != nil {
		return types.QuotingEnclave{}, types.ErrDeserialization.Wrap(fmt.Errorf("unmarshaling QE Identity response: %w", err))
	}
	signature, err := hex.DecodeString(signed.Signature)
	if err != nil {
		return types.QuotingEnclave{}, types.ErrDeserialization.Wrap(fmt.Errorf("decoding QE Identity signature: %w", err))
	}

	signingCert, err := c.verifyIssuerChain(issuerChain, timeMillis)
	if err != nil {
		return types.QuotingEnclave{}, err
	}

	identity, err := DeserializeEnclaveIdentity(signed.EnclaveIdentity, signature, signingCert)
	if err != nil {
		return types.QuotingEnclave{}, err
	}
	if !isValidAt(&identity, timeMillis) {
		return types.QuotingEnclave{}, types.ErrInvalidCollateral.Wrap(errors.New("QE Identity is not valid at the given time"))
	}

	qe := identity.ToQuotingEnclave()
	log.Debugf("Verified QE Identity with %d accepted TCB levels", len(qe.TCB))
	return qe, nil
}

// verifyIssuerChain verifies the issuer chain of collateral and returns its signing certificate.
// The signing certificate is the first certificate of the chain that is not a CA.
func (c *CollateralVerifier) verifyIssuerChain(chain []*x509.Certificate, timeMillis uint64) (*x509.Certificate, error) {
	signingIdx := -1
	for i, cert := range chain {
		if !cert.IsCA {
			signingIdx = i
			break
		}
	}
	if signingIdx < 0 {
		return nil, types.ErrInvalidCertChain.Wrap(fmt.Errorf("issuer chain of %d certificates has no signing certificate", len(chain)))
	}

	signingCert := chain[signingIdx]
	intermediates := make([]*x509.Certificate, 0, len(chain)-1)
	intermediates = append(intermediates, chain[:signingIdx]...)
	intermediates = append(intermediates, chain[signingIdx+1:]...)

	if err := c.chains.VerifyCertificateChain(signingCert, intermediates, timeMillis); err != nil {
		return nil, types.ErrInvalidCertChain.Wrap(err)
	}
	return signingCert, nil
}

// DeserializeTCBInfo verifies the raw (r || s) ECDSA signature of cert over data and parses data as TCB Info.
// cert must have been verified by the caller.
func DeserializeTCBInfo(data, rawSignature []byte, cert *x509.Certificate) (types.TCBInfo, error) {
	if err := verifyCollateralSignature(data, rawSignature, cert); err != nil {
		return nil, err
	}
	tcbInfo, err := types.ParseTCBInfo(data)
	if err != nil {
		return nil, types.ErrDeserialization.Wrap(err)
	}
	return tcbInfo, nil
}

// DeserializeEnclaveIdentity verifies the raw (r || s) ECDSA signature of cert over data and parses data as QE Identity.
// cert must have been verified by the caller.
func DeserializeEnclaveIdentity(data, rawSignature []byte, cert *x509.Certificate) (types.EnclaveIdentity, error) {
	if err := verifyCollateralSignature(data, rawSignature, cert); err != nil {
		return types.EnclaveIdentity{}, err
	}
	identity, err := types.ParseEnclaveIdentity(data)
	if err != nil {
		return types.EnclaveIdentity{}, types.ErrDeserialization.Wrap(err)
	}
	return identity, nil
}

func verifyCollateralSignature(data, rawSignature []byte, cert *x509.Certificate) error {
	signature, err := crypto.RawToASN1(rawSignature)
	if err != nil {
		return types.ErrBadSignature.Wrap(err)
	}
	if err := crypto.VerifySignature(cert, data, signature, crypto.ECDSAP256SHA256); err != nil {
		return types.ErrBadSignature.Wrap(err)
	}
	return nil
}

// ParseCRL decodes a hex encoded DER CRL and returns the number of revoked certificates it lists.
// The signature of the CRL is not verified.
func ParseCRL(hexDER []byte) (int, error) {
	der := make([]byte, hex.DecodedLen(len(hexDER)))
	if _, err := hex.Decode(der, hexDER); err != nil {
		return 0, types.ErrDeserialization.Wrap(fmt.Errorf("decoding CRL: %w", err))
	}
	crl, err := x509.ParseRevocationList(der)
	if err != nil {
		return 0, types.ErrDeserialization.Wrap(fmt.Errorf("parsing CRL: %w", err))
	}
	return len(crl.RevokedCertificateEntries), nil
}

// ParseIssuerChain parses a certificate chain from a PCS response header.
// Intel's PCS returns the chain URL-escaped and PEM encoded.
func ParseIssuerChain(header string) ([]*x509.Certificate, error) {
	certChain, err := url.QueryUnescape(header)
	if err != nil {
		return nil, fmt.Errorf("decoding certificate chain from PCS response header: %w", err)
	}

	return crypto.ParsePEMCertificateChain([]byte(certChain))
}

type timeValidity interface {
	IsValid(timestampMillis int64) bool
}

func isValidAt(collateral timeValidity, timeMillis uint64) bool {
	if timeMillis > math.MaxInt64 {
		return false
	}
	return collateral.IsValid(int64(timeMillis))
}

// pcsJSONBody is used to unmarshal the response body of a PCS JSON into a byte slice.
// This is necessary because we need to verify the signature of the response body.
type pcsJSONBody []byte

func (b *pcsJSONBody) UnmarshalJSON(data []byte) error {
	*b = append((*b)[:0], data...)
	return nil
}
