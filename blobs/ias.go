package blobs

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"time"
)

const (
	// IASTimestamp is the timestamp of generated IAS reports, formatted the way IAS does (UTC, no zone).
	IASTimestamp = "2019-11-05T10:11:12.123456"

	// IASTimestampMillis is IASTimestamp in Unix milliseconds, truncated to full seconds.
	IASTimestampMillis = 1572948672000
)

var netscapeCommentOID = asn1.ObjectIdentifier{2, 16, 840, 1, 113730, 1, 13}

// IASPKI is a certificate hierarchy shaped like the one of the Intel Attestation Service.
type IASPKI struct {
	CAKey      *rsa.PrivateKey
	CA         *x509.Certificate
	SigningKey *rsa.PrivateKey
	Signing    *x509.Certificate
}

// NewIASPKI generates a new IAS PKI. The signing certificate is valid at the default IAS valid-until instant.
func NewIASPKI() (*IASPKI, error) {
	var err error
	p := &IASPKI{}

	if p.CAKey, err = rsa.GenerateKey(rand.Reader, 2048); err != nil {
		return nil, err
	}
	if p.CA, err = createCertificate(certTemplate{
		commonName: "Test SGX Attestation Report Signing CA",
		isCA:       true,
		notBefore:  time.Date(2016, 11, 14, 15, 37, 31, 0, time.UTC),
		notAfter:   time.Date(2049, 12, 31, 23, 59, 59, 0, time.UTC),
	}, &p.CAKey.PublicKey, p.CAKey, nil); err != nil {
		return nil, err
	}

	if p.SigningKey, err = rsa.GenerateKey(rand.Reader, 2048); err != nil {
		return nil, err
	}
	if p.Signing, err = createCertificate(certTemplate{
		commonName: "Test SGX Attestation Report Signing",
		notBefore:  time.Date(2016, 11, 22, 9, 36, 58, 0, time.UTC),
		notAfter:   time.Date(2026, 11, 20, 9, 36, 58, 0, time.UTC),
	}, &p.SigningKey.PublicKey, p.CAKey, p.CA); err != nil {
		return nil, err
	}
	return p, nil
}

// EPIDQuote returns an EPID quote (without signature) of the enclave described by MREnclave and ReportData.
func EPIDQuote(debug bool) []byte {
	quote := make([]byte, 0, quoteHeaderSize+reportBodySize)
	quote = binary.LittleEndian.AppendUint16(quote, 2) // version
	quote = binary.LittleEndian.AppendUint16(quote, 1) // linkable
	quote = binary.LittleEndian.AppendUint32(quote, 0x00000b9c)
	quote = binary.LittleEndian.AppendUint16(quote, 11) // QE SVN
	quote = binary.LittleEndian.AppendUint16(quote, 10) // PCE SVN
	quote = binary.LittleEndian.AppendUint32(quote, 0)
	quote = append(quote, make([]byte, 32)...) // basename

	flags := uint64(0x05)
	if debug {
		flags |= 0x02
	}
	return append(quote, reportBody(flags, MREnclave, MRSigner, 0, 1, ReportData)...)
}

// IASReportJSON returns an IAS attestation verification report.
func IASReportJSON(quoteStatus string, quote []byte) []byte {
	report, err := json.Marshal(map[string]any{
		"id":                    "142090828149453720542199954221331392599",
		"timestamp":             IASTimestamp,
		"version":               3,
		"isvEnclaveQuoteStatus": quoteStatus,
		"isvEnclaveQuoteBody":   base64.StdEncoding.EncodeToString(quote),
	})
	if err != nil {
		panic(err)
	}
	return report
}

// SignReport signs an IAS report with RSA PKCS #1 v1.5 and SHA-256.
func (p *IASPKI) SignReport(report []byte) ([]byte, error) {
	digest := sha256.Sum256(report)
	return rsa.SignPKCS1v15(rand.Reader, p.SigningKey, crypto.SHA256, digest[:])
}

// NetscapeComment returns the comment IAS attestation certificates carry: report|signature|signing certificate.
func (p *IASPKI) NetscapeComment(report []byte) ([]byte, error) {
	signature, err := p.SignReport(report)
	if err != nil {
		return nil, err
	}
	comment := append([]byte(nil), report...)
	comment = append(comment, '|')
	comment = base64.StdEncoding.AppendEncode(comment, signature)
	comment = append(comment, '|')
	return base64.StdEncoding.AppendEncode(comment, p.Signing.Raw), nil
}

// AttestationCertificate returns the DER of a self-signed enclave certificate carrying the signed report.
func (p *IASPKI) AttestationCertificate(report []byte) ([]byte, error) {
	comment, err := p.NetscapeComment(report)
	if err != nil {
		return nil, err
	}
	return AttestationCertificateWithComment(comment)
}

// AttestationCertificateWithComment returns the DER of a self-signed enclave certificate
// carrying the given Netscape comment as IA5String. If comment is nil, the extension is omitted.
func AttestationCertificateWithComment(comment []byte) ([]byte, error) {
	key, err := newECDSAKey()
	if err != nil {
		return nil, err
	}

	var extensions []pkix.Extension
	if comment != nil {
		value, err := asn1.MarshalWithParams(string(comment), "ia5")
		if err != nil {
			return nil, err
		}
		extensions = append(extensions, pkix.Extension{Id: netscapeCommentOID, Value: value})
	}

	cert, err := createCertificate(certTemplate{
		commonName: "Enclave",
		notBefore:  time.Date(2019, 11, 5, 0, 0, 0, 0, time.UTC),
		notAfter:   time.Date(2029, 11, 5, 0, 0, 0, 0, time.UTC),
		extensions: extensions,
	}, &key.PublicKey, key, nil)
	if err != nil {
		return nil, err
	}
	return cert.Raw, nil
}
