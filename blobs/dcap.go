package blobs

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"golang.org/x/crypto/cryptobyte"
	cryptobyte_asn1 "golang.org/x/crypto/cryptobyte/asn1"
)

const (
	quoteHeaderSize = 48
	reportBodySize  = 384
	isvReportSize   = quoteHeaderSize + reportBodySize

	// QEAuthDataOffset is the offset of the QE authentication data size in a generated quote.
	QEAuthDataOffset = isvReportSize + 4 + 64 + 64 + reportBodySize + 64
)

var (
	// MREnclave is the MRENCLAVE of the enclave in generated quotes.
	MREnclave = [32]byte{
		0x4b, 0x8e, 0x3a, 0x1c, 0x6d, 0x27, 0x90, 0xf2, 0x15, 0xa8, 0x3e, 0x77, 0x0c, 0xd1, 0x62, 0x99,
		0x2e, 0x53, 0xbf, 0x08, 0x41, 0xee, 0x7a, 0x36, 0xc4, 0x19, 0x85, 0x5d, 0xf0, 0x2a, 0x6b, 0x13,
	}

	// MRSigner is the MRSIGNER of the enclave in generated quotes.
	MRSigner = [32]byte{
		0x83, 0xd7, 0x19, 0xe7, 0x7d, 0xea, 0xca, 0x14, 0x70, 0xf6, 0xba, 0xf6, 0x2a, 0x4d, 0x77, 0x43,
		0x03, 0xc8, 0x99, 0xdb, 0x69, 0x02, 0x0f, 0x9c, 0x70, 0xee, 0x1d, 0xfc, 0x08, 0xc7, 0xce, 0x9e,
	}

	// ReportData is the report data of the enclave in generated quotes.
	// The first 32 bytes are the attested public key.
	ReportData = func() [64]byte {
		var data [64]byte
		copy(data[:], "ephemeral enclave public key...!")
		copy(data[32:], "carried but not interpreted.....")
		return data
	}()

	// QEMRSigner is the MRSIGNER of Intel's Quoting Enclave.
	QEMRSigner = mustDecode32("8C4F5775D796503E96137F77C68A829A0056AC8DED70140B081B094490C57BFF")

	// QEVendorID is Intel's QE vendor ID.
	QEVendorID = [16]byte{0x93, 0x9a, 0x72, 0x33, 0xf7, 0x9c, 0x4c, 0xa9, 0x94, 0x0a, 0x0d, 0xb3, 0x95, 0x7f, 0x06, 0x07}

	// PCKFMSPC, PCKPCEID, PCKTCBComponents, and PCKPCESVN are the values of the SGX extension
	// of generated PCK certificates. They match the first TCB level of TCBInfoV2JSON.
	PCKFMSPC         = [6]byte{0x00, 0xa0, 0x65, 0x51, 0x00, 0x00}
	PCKPCEID         = [2]byte{0x00, 0x00}
	PCKTCBComponents = [16]uint8{14, 14, 2, 2, 2, 128, 12}
	PCKPCESVN        = uint16(13)
)

var sgxExtensionOID = asn1.ObjectIdentifier{1, 2, 840, 113741, 1, 13, 1}

// DCAPPKI is a certificate hierarchy shaped like Intel's DCAP PKI.
type DCAPPKI struct {
	RootKey       *ecdsa.PrivateKey
	Root          *x509.Certificate
	PlatformCAKey *ecdsa.PrivateKey
	PlatformCA    *x509.Certificate
	PCKKey        *ecdsa.PrivateKey
	PCK           *x509.Certificate
	TCBSigningKey *ecdsa.PrivateKey
	TCBSigning    *x509.Certificate

	// AttestationKey is the key of the Quoting Enclave that signs ISV reports.
	AttestationKey *ecdsa.PrivateKey
}

// NewDCAPPKI generates a new DCAP PKI.
func NewDCAPPKI() (*DCAPPKI, error) {
	var err error
	p := &DCAPPKI{}

	if p.RootKey, err = newECDSAKey(); err != nil {
		return nil, err
	}
	if p.Root, err = createCertificate(certTemplate{
		commonName: "Test SGX Root CA",
		isCA:       true,
		notBefore:  CertificatesNotBefore,
		notAfter:   CertificatesNotAfter,
	}, &p.RootKey.PublicKey, p.RootKey, nil); err != nil {
		return nil, err
	}

	if p.PlatformCAKey, err = newECDSAKey(); err != nil {
		return nil, err
	}
	if p.PlatformCA, err = createCertificate(certTemplate{
		commonName: "Test SGX PCK Platform CA",
		isCA:       true,
		notBefore:  CertificatesNotBefore,
		notAfter:   CertificatesNotAfter,
	}, &p.PlatformCAKey.PublicKey, p.RootKey, p.Root); err != nil {
		return nil, err
	}

	if p.PCKKey, err = newECDSAKey(); err != nil {
		return nil, err
	}
	sgxExtension, err := SGXExtension(PCKFMSPC, PCKPCEID, PCKTCBComponents, PCKPCESVN)
	if err != nil {
		return nil, err
	}
	if p.PCK, err = createCertificate(certTemplate{
		commonName: "Test SGX PCK Certificate",
		notBefore:  CertificatesNotBefore,
		notAfter:   CertificatesNotAfter,
		extensions: []pkix.Extension{{Id: sgxExtensionOID, Value: sgxExtension}},
	}, &p.PCKKey.PublicKey, p.PlatformCAKey, p.PlatformCA); err != nil {
		return nil, err
	}

	if p.TCBSigningKey, err = newECDSAKey(); err != nil {
		return nil, err
	}
	if p.TCBSigning, err = createCertificate(certTemplate{
		commonName: "Test SGX TCB Signing",
		notBefore:  CertificatesNotBefore,
		notAfter:   CertificatesNotAfter,
	}, &p.TCBSigningKey.PublicKey, p.RootKey, p.Root); err != nil {
		return nil, err
	}

	if p.AttestationKey, err = newECDSAKey(); err != nil {
		return nil, err
	}
	return p, nil
}

// PCKChain returns the PCK certificate chain as embedded in quotes: PCK, Platform CA, Root CA.
func (p *DCAPPKI) PCKChain() []*x509.Certificate {
	return []*x509.Certificate{p.PCK, p.PlatformCA, p.Root}
}

// QuoteOptions customizes a generated quote.
type QuoteOptions struct {
	// Debug sets the debug flag in the attributes of the ISV enclave.
	Debug bool
	// QEAuthData defaults to the bytes 0 to 31.
	QEAuthData []byte
	// CertChain defaults to [DCAPPKI.PCKChain].
	CertChain []*x509.Certificate
}

// NewQuote generates a valid SGX DCAP quote (version 3, ECDSA-256, PEM PCK cert chain).
func (p *DCAPPKI) NewQuote(opts QuoteOptions) ([]byte, error) {
	authData := opts.QEAuthData
	if authData == nil {
		authData = make([]byte, 32)
		for i := range authData {
			authData[i] = byte(i)
		}
	}
	certChain := opts.CertChain
	if certChain == nil {
		certChain = p.PCKChain()
	}
	certData := append(PEM(certChain...), 0x00)
	attestationKey := rawPublicKey(&p.AttestationKey.PublicKey)

	// header
	quote := make([]byte, 0, 4096)
	quote = binary.LittleEndian.AppendUint16(quote, 3) // version
	quote = binary.LittleEndian.AppendUint16(quote, 2) // ECDSA-256-with-P-256
	quote = binary.LittleEndian.AppendUint32(quote, 0)
	quote = binary.LittleEndian.AppendUint16(quote, 8)  // QE SVN
	quote = binary.LittleEndian.AppendUint16(quote, 13) // PCE SVN
	quote = append(quote, QEVendorID[:]...)
	quote = append(quote, make([]byte, 20)...)

	// ISV enclave report
	flags := uint64(0x05) // INIT | MODE64BIT
	if opts.Debug {
		flags |= 0x02
	}
	quote = append(quote, reportBody(flags, MREnclave, MRSigner, 0, 1, ReportData)...)

	// QE report, binding the attestation key
	var qeReportData [64]byte
	binding := sha256.Sum256(append(attestationKey[:], authData...))
	copy(qeReportData[:], binding[:])
	qeReport := reportBody(0x15, [32]byte{0x01}, QEMRSigner, 1, 8, qeReportData)

	isvDigest := sha256.Sum256(quote[:isvReportSize])
	isvSignature, err := signRaw(p.AttestationKey, isvDigest[:])
	if err != nil {
		return nil, err
	}
	qeDigest := sha256.Sum256(qeReport)
	qeSignature, err := signRaw(p.PCKKey, qeDigest[:])
	if err != nil {
		return nil, err
	}

	signatureData := make([]byte, 0, 1024+len(certData))
	signatureData = append(signatureData, isvSignature[:]...)
	signatureData = append(signatureData, attestationKey[:]...)
	signatureData = append(signatureData, qeReport...)
	signatureData = append(signatureData, qeSignature[:]...)
	signatureData = binary.LittleEndian.AppendUint16(signatureData, uint16(len(authData)))
	signatureData = append(signatureData, authData...)
	signatureData = binary.LittleEndian.AppendUint16(signatureData, 5) // PCK cert chain
	signatureData = binary.LittleEndian.AppendUint32(signatureData, uint32(len(certData)))
	signatureData = append(signatureData, certData...)

	quote = binary.LittleEndian.AppendUint32(quote, uint32(len(signatureData)))
	return append(quote, signatureData...), nil
}

// SignCollateral returns the raw (r || s) signature of the TCB Signing key over data.
func (p *DCAPPKI) SignCollateral(data []byte) ([64]byte, error) {
	digest := sha256.Sum256(data)
	return signRaw(p.TCBSigningKey, digest[:])
}

// SignedCollateral wraps collateral JSON into the envelope served by Intel's PCS,
// e.g. {"tcbInfo": {...}, "signature": "..."}.
func (p *DCAPPKI) SignedCollateral(field string, body []byte) ([]byte, error) {
	signature, err := p.SignCollateral(body)
	if err != nil {
		return nil, err
	}
	return fmt.Appendf(nil, `{"%s":%s,"signature":"%s"}`, field, body, hex.EncodeToString(signature[:])), nil
}

// TCBIssuerChain returns the PEM chain that signs collateral: TCB Signing, Root CA.
func (p *DCAPPKI) TCBIssuerChain() []byte {
	return PEM(p.TCBSigning, p.Root)
}

// PCKCRL returns a DER encoded CRL of the Platform CA revoking the given serial numbers.
func (p *DCAPPKI) PCKCRL(revoked ...*big.Int) ([]byte, error) {
	var entries []x509.RevocationListEntry
	for _, serial := range revoked {
		entries = append(entries, x509.RevocationListEntry{
			SerialNumber:   serial,
			RevocationTime: CollateralIssueDate,
		})
	}
	return x509.CreateRevocationList(rand.Reader, &x509.RevocationList{
		Number:                    big.NewInt(1),
		ThisUpdate:                CollateralIssueDate,
		NextUpdate:                CollateralIssueDate.Add(30 * 24 * time.Hour),
		RevokedCertificateEntries: entries,
	}, p.PlatformCA, p.PlatformCAKey)
}

// SGXExtension encodes the SGX extension of a PCK certificate.
func SGXExtension(fmspc [6]byte, pceID [2]byte, components [16]uint8, pcesvn uint16) ([]byte, error) {
	entryOID := func(arcs ...int) asn1.ObjectIdentifier {
		return append(append(asn1.ObjectIdentifier{}, sgxExtensionOID...), arcs...)
	}
	entry := func(b *cryptobyte.Builder, oid asn1.ObjectIdentifier, value cryptobyte.BuilderContinuation) {
		b.AddASN1(cryptobyte_asn1.SEQUENCE, func(b *cryptobyte.Builder) {
			b.AddASN1ObjectIdentifier(oid)
			value(b)
		})
	}
	octets := func(data []byte) cryptobyte.BuilderContinuation {
		return func(b *cryptobyte.Builder) { b.AddASN1OctetString(data) }
	}

	var cpusvn [16]byte
	copy(cpusvn[:], components[:])

	var b cryptobyte.Builder
	b.AddASN1(cryptobyte_asn1.SEQUENCE, func(b *cryptobyte.Builder) {
		entry(b, entryOID(1), octets(make([]byte, 16))) // PPID
		entry(b, entryOID(2), func(b *cryptobyte.Builder) {
			b.AddASN1(cryptobyte_asn1.SEQUENCE, func(b *cryptobyte.Builder) {
				for i, svn := range components {
					entry(b, entryOID(2, i+1), func(b *cryptobyte.Builder) { b.AddASN1Uint64(uint64(svn)) })
				}
				entry(b, entryOID(2, 17), func(b *cryptobyte.Builder) { b.AddASN1Uint64(uint64(pcesvn)) })
				entry(b, entryOID(2, 18), octets(cpusvn[:]))
			})
		})
		entry(b, entryOID(3), octets(pceID[:]))
		entry(b, entryOID(4), octets(fmspc[:]))
		entry(b, entryOID(5), func(b *cryptobyte.Builder) { b.AddASN1Enum(0) })
	})
	return b.Bytes()
}

func reportBody(flags uint64, mrEnclave, mrSigner [32]byte, isvProdID, isvSVN uint16, reportData [64]byte) []byte {
	body := make([]byte, reportBodySize)
	binary.LittleEndian.PutUint64(body[48:56], flags)
	binary.LittleEndian.PutUint64(body[56:64], 0x03) // XFRM
	copy(body[64:96], mrEnclave[:])
	copy(body[128:160], mrSigner[:])
	binary.LittleEndian.PutUint16(body[256:258], isvProdID)
	binary.LittleEndian.PutUint16(body[258:260], isvSVN)
	copy(body[320:384], reportData[:])
	return body
}

func mustDecode32(s string) [32]byte {
	decoded, err := hex.DecodeString(s)
	if err != nil || len(decoded) != 32 {
		panic(fmt.Sprintf("invalid 32 byte hex string %q", s))
	}
	return [32]byte(decoded)
}
