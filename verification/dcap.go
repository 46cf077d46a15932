package verification

import (
	"bytes"
	"crypto/sha256"
	"crypto/x509"
	"fmt"

	"github.com/edgelesssys/go-sgx-qvl/verification/crypto"
	"github.com/edgelesssys/go-sgx-qvl/verification/status"
	"github.com/edgelesssys/go-sgx-qvl/verification/types"
)

// VerifyDCAPQuote verifies an SGX DCAP quote (version 3, ECDSA-256) at the given time in Unix milliseconds.
// expectedQE is the accepted identity of the Quoting Enclave, as derived from Intel's QE Identity.
//
// The returned summary always has status Ok and timeMillis as timestamp:
// the TCB status of the platform is not derived from the quote and must be checked separately.
// Errors are of type [*types.ValidationError].
func (v *SGXVerifier) VerifyDCAPQuote(rawQuote []byte, timeMillis uint64, expectedQE types.QuotingEnclave) (types.EnclaveSummary, error) {
	quote, consumed, err := types.DecodeDCAPQuote(rawQuote)
	if err != nil {
		return types.EnclaveSummary{}, types.ErrDecodeReport.Wrap(err)
	}

	if quote.Header.Version != types.QuoteVersion3 {
		return types.EnclaveSummary{}, types.ErrUnsupportedVersion.Wrap(fmt.Errorf("quote version is %d", quote.Header.Version))
	}
	if quote.Header.AttestationKeyType != types.AttestationKeyTypeECDSA256 {
		return types.EnclaveSummary{}, types.ErrUnsupportedKeyType.Wrap(fmt.Errorf("attestation key type is %d", quote.Header.AttestationKeyType))
	}
	signature := quote.Signature
	if signature.QECertificationData.Type != types.PCK_ID_PCK_CERT_CHAIN {
		return types.EnclaveSummary{}, types.ErrUnsupportedCertData.Wrap(fmt.Errorf("certification data type is %d", signature.QECertificationData.Type))
	}
	if expectedQE.MRSIGNER != signature.QEReport.MRSIGNER {
		return types.EnclaveSummary{}, types.ErrQEMRSignerMismatch.Wrap(fmt.Errorf("QE MRSIGNER is %x, expected %x", signature.QEReport.MRSIGNER, expectedQE.MRSIGNER))
	}

	pckCert, err := v.verifyPCKCertChain(signature.QECertificationData.Data, timeMillis)
	if err != nil {
		return types.EnclaveSummary{}, err
	}
	log.Tracef("PCK certificate chain of %q is valid", pckCert.Subject)

	// The QE report data binds the attestation key.
	if len(signature.QEAuthData.Data) != types.QEAuthDataSize {
		return types.EnclaveSummary{}, types.ErrQEAuthDataSize.Wrap(fmt.Errorf("QE authentication data has %d bytes", len(signature.QEAuthData.Data)))
	}
	binding := sha256.Sum256(append(signature.AttestationKey[:], signature.QEAuthData.Data...))
	if !bytes.Equal(binding[:], signature.QEReport.ReportData[:32]) {
		return types.EnclaveSummary{}, types.ErrHashMismatch
	}

	// ISV enclave report: header and body as found in the quote, signed by the attestation key.
	attestationKey, err := crypto.BuildECDSAPublicKey(signature.AttestationKey)
	if err != nil {
		return types.EnclaveSummary{}, types.ErrReportSignature.Wrap(err)
	}
	isvReport := rawQuote[:types.QuoteHeaderSize+types.ReportBodySize]
	if err := crypto.VerifyECDSASignature(attestationKey, isvReport, signature.ISVEnclaveReportSignature[:]); err != nil {
		return types.EnclaveSummary{}, types.ErrReportSignature.Wrap(err)
	}

	// QE report, signed by the PCK.
	qeReportSignature, err := crypto.RawToASN1(signature.QEReportSignature[:])
	if err != nil {
		return types.EnclaveSummary{}, types.ErrBadSignature.Wrap(err)
	}
	qeReport := rawQuote[types.QEReportOffset : types.QEReportOffset+types.ReportBodySize]
	if err := crypto.VerifySignature(pckCert, qeReport, qeReportSignature, crypto.ECDSAP256SHA256); err != nil {
		return types.EnclaveSummary{}, types.ErrBadSignature.Wrap(err)
	}

	if consumed != len(rawQuote) {
		return types.EnclaveSummary{}, types.ErrTrailingBytes.Wrap(fmt.Errorf("%d bytes left", len(rawQuote)-consumed))
	}

	summary := types.NewEnclaveSummary(&quote.Body, status.Ok, timeMillis)
	log.Debugf("Verified DCAP quote of enclave %x (%s)", summary.MREnclave, summary.BuildMode)
	return summary, nil
}

// verifyPCKCertChain extracts the PCK certificate chain (PCK, Platform CA, Root CA)
// from the certification data and verifies it. It returns the PCK certificate.
func (v *SGXVerifier) verifyPCKCertChain(certData []byte, timeMillis uint64) (*x509.Certificate, error) {
	ders := crypto.ExtractCertificates(certData)
	if len(ders) != 3 {
		return nil, types.ErrCertChainLength.Wrap(fmt.Errorf("found %d certificates", len(ders)))
	}

	pckCert, err := x509.ParseCertificate(ders[0])
	if err != nil {
		return nil, types.ErrParseLeafCert.Wrap(err)
	}
	intermediates := make([]*x509.Certificate, 0, len(ders)-1)
	for _, der := range ders[1:] {
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, types.ErrInvalidCertChain.Wrap(err)
		}
		intermediates = append(intermediates, cert)
	}

	if err := v.VerifyCertificateChain(pckCert, intermediates, timeMillis); err != nil {
		return nil, types.ErrInvalidCertChain.Wrap(err)
	}
	return pckCert, nil
}
