package verification

import (
	"bytes"
	"crypto/x509"
	"encoding/asn1"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/edgelesssys/go-sgx-qvl/verification/crypto"
	"github.com/edgelesssys/go-sgx-qvl/verification/status"
	"github.com/edgelesssys/go-sgx-qvl/verification/types"
	"golang.org/x/crypto/cryptobyte"
	cryptobyte_asn1 "golang.org/x/crypto/cryptobyte/asn1"
)

// iasTimestampLayout parses IAS timestamps after appending "+0000".
// IAS reports them in UTC without zone, with optional fractional seconds.
const iasTimestampLayout = "2006-01-02T15:04:05.999999999-0700"

var netscapeCommentOID = asn1.ObjectIdentifier{2, 16, 840, 1, 113730, 1, 13}

// netscapeComment is the content of the Netscape Comment extension of an IAS attestation certificate.
type netscapeComment struct {
	report      []byte
	signature   []byte
	signingCert []byte
}

// VerifyIASReport verifies an IAS attestation certificate, given as DER.
//
// The certificate itself is not verified: it is expected to be self-signed by the enclave
// and only transports the attestation report signed by IAS.
// Errors are of type [*types.ValidationError].
func (v *SGXVerifier) VerifyIASReport(certDER []byte) (types.EnclaveSummary, error) {
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return types.EnclaveSummary{}, types.ErrBadDER.Wrap(err)
	}
	comment, err := parseNetscapeComment(cert)
	if err != nil {
		return types.EnclaveSummary{}, types.ErrNetscapeComment.Wrap(err)
	}
	signingCert, err := x509.ParseCertificate(comment.signingCert)
	if err != nil {
		return types.EnclaveSummary{}, types.ErrBadDER.Wrap(err)
	}

	log.Tracef("Verifying IAS report signing certificate %q at %s", signingCert.Subject, v.iasValidUntil.Format(time.RFC3339))
	if err := crypto.VerifyChain(signingCert, nil, v.iasAnchors, v.iasValidUntil, iasAlgorithms); err != nil {
		return types.EnclaveSummary{}, types.ErrCAVerification.Wrap(err)
	}
	if err := crypto.VerifySignature(signingCert, comment.report, comment.signature, crypto.RSAPKCS1SHA256); err != nil {
		return types.EnclaveSummary{}, types.ErrBadSignature.Wrap(err)
	}

	summary, err := parseIASReport(comment.report)
	if err != nil {
		return types.EnclaveSummary{}, err
	}
	log.Debugf("Verified IAS report of enclave %x (%s, %s)", summary.MREnclave, summary.Status, summary.BuildMode)
	return summary, nil
}

// parseNetscapeComment extracts report, signature, and signing certificate from
// the Netscape Comment extension: report|base64(signature)|base64(certificate).
func parseNetscapeComment(cert *x509.Certificate) (netscapeComment, error) {
	var value []byte
	found := false
	for _, ext := range cert.Extensions {
		if ext.Id.Equal(netscapeCommentOID) {
			value = commentString(ext.Value)
			found = true
			break
		}
	}
	if !found {
		return netscapeComment{}, errors.New("certificate has no Netscape Comment extension")
	}

	parts := bytes.Split(value, []byte("|"))
	if len(parts) != 3 {
		return netscapeComment{}, fmt.Errorf("expected 3 fields, got %d", len(parts))
	}
	signature, err := base64.StdEncoding.DecodeString(string(parts[1]))
	if err != nil {
		return netscapeComment{}, fmt.Errorf("decoding signature: %w", err)
	}
	certs := crypto.ExtractCertificates(parts[2])
	if len(certs) == 0 {
		return netscapeComment{}, errors.New("no signing certificate")
	}

	return netscapeComment{
		report:      parts[0],
		signature:   signature,
		signingCert: certs[0],
	}, nil
}

// commentString returns the content of a DER string, or value itself if it is not one.
func commentString(value []byte) []byte {
	for _, tag := range []cryptobyte_asn1.Tag{cryptobyte_asn1.IA5String, cryptobyte_asn1.UTF8String, cryptobyte_asn1.OCTET_STRING} {
		input := cryptobyte.String(value)
		var content cryptobyte.String
		if input.ReadASN1(&content, tag) && input.Empty() {
			return content
		}
	}
	return value
}

func parseIASReport(rawReport []byte) (types.EnclaveSummary, error) {
	var decoded any
	if err := json.Unmarshal(rawReport, &decoded); err != nil {
		return types.EnclaveSummary{}, types.ErrReportParsing.Wrap(err)
	}
	// Fields of a report that is not an object are treated as missing.
	report, _ := decoded.(map[string]any)

	rawTimestamp, ok := report["timestamp"].(string)
	if !ok {
		return types.EnclaveSummary{}, types.ErrMissingTimestamp
	}
	timestamp, err := time.Parse(iasTimestampLayout, rawTimestamp+"+0000")
	if err != nil {
		return types.EnclaveSummary{}, types.ErrTimestampParsing.Wrap(err)
	}
	seconds := timestamp.Unix()
	if seconds < 0 {
		return types.EnclaveSummary{}, types.ErrTimestampRange.Wrap(fmt.Errorf("timestamp %s is before the Unix epoch", rawTimestamp))
	}

	rawStatus, ok := report["isvEnclaveQuoteStatus"].(string)
	if !ok {
		return types.EnclaveSummary{}, types.ErrMissingQuoteStatus
	}
	quoteStatus := status.ParseQuoteStatus(rawStatus)

	rawQuote, ok := report["isvEnclaveQuoteBody"].(string)
	if !ok {
		return types.EnclaveSummary{}, types.ErrMissingQuoteBody
	}
	quoteBytes, err := base64.StdEncoding.DecodeString(rawQuote)
	if err != nil {
		return types.EnclaveSummary{}, types.ErrQuoteBodyDecoding.Wrap(err)
	}
	quote, err := types.ParseEPIDQuote(quoteBytes)
	if err != nil {
		return types.EnclaveSummary{}, types.ErrQuoteDecoding.Wrap(err)
	}

	return types.NewEnclaveSummary(&quote.Body, quoteStatus, uint64(seconds)*1000), nil
}
