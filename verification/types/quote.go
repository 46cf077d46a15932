package types

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

/*
   SGX DCAP (Quote v3) and EPID quote parser
   Based on:
   https://github.com/intel/SGXDataCenterAttestationPrimitives/blob/master/QuoteGeneration/quote_wrapper/common/inc/sgx_quote_3.h
   https://github.com/intel/linux-sgx/blob/master/common/inc/sgx_report.h
   https://github.com/intel/linux-sgx/blob/master/common/inc/sgx_quote.h
*/

const (
	// QuoteHeaderSize is the size of a DCAP quote header in bytes.
	QuoteHeaderSize = 48

	// ReportBodySize is the size of an SGX report body in bytes.
	ReportBodySize = 384

	// EPIDQuoteSize is the size of an EPID quote without its signature in bytes.
	EPIDQuoteSize = 48 + ReportBodySize

	// ECDSASignatureSize is the size of a raw (r || s) ECDSA P-256 signature.
	ECDSASignatureSize = 64

	// ECDSAKeySize is the size of a raw (x || y) ECDSA P-256 public key.
	ECDSAKeySize = 64

	// QEAuthDataSize is the only supported size of the QE authentication data.
	QEAuthDataSize = 32

	// QuoteVersion3 is the only supported DCAP quote version.
	QuoteVersion3 = 3

	// AttestationKeyTypeECDSA256 is the attestation key type of an ECDSA-256-with-P-256 quote.
	AttestationKeyTypeECDSA256 = 2

	// PCK_ID_PCK_CERT_CHAIN is the CertificationData type holding the PCK cert chain (encoded in PEM, \0 byte terminated)
	PCK_ID_PCK_CERT_CHAIN = 5

	// SGXFlagsDebug is set in the attributes of enclaves running in debug mode.
	SGXFlagsDebug = 0x0000000000000002

	// SignatureDataOffset is the offset of the signature data in a DCAP quote.
	SignatureDataOffset = QuoteHeaderSize + ReportBodySize + 4

	// AttestationKeyOffset is the offset of the ECDSA attestation key in a DCAP quote.
	AttestationKeyOffset = SignatureDataOffset + ECDSASignatureSize

	// QEReportOffset is the offset of the QE report in a DCAP quote.
	QEReportOffset = AttestationKeyOffset + ECDSAKeySize

	// fixedSignatureSize is the size of the fixed length part of the signature data,
	// up to and including the size field of the QE authentication data.
	fixedSignatureSize = ECDSASignatureSize + ECDSAKeySize + ReportBodySize + ECDSASignatureSize + 2
)

// DCAPQuoteHeader is the header of an SGX DCAP quote.
type DCAPQuoteHeader struct {
	Version            uint16
	AttestationKeyType uint16
	Reserved           uint32
	QESVN              uint16
	PCESVN             uint16
	QEVendorID         [16]byte
	UserData           [20]byte
}

// Attributes of an SGX enclave.
type Attributes struct {
	Flags uint64
	XFRM  uint64
}

// ReportBody is the body of an SGX report, found in every quote and as the QE report.
type ReportBody struct {
	CPUSVN       [16]byte
	MiscSelect   [4]byte
	Reserved1    [12]byte
	ISVExtProdID [16]byte
	Attributes   Attributes
	MRENCLAVE    [32]byte
	Reserved2    [32]byte
	MRSIGNER     [32]byte
	Reserved3    [32]byte
	ConfigID     [64]byte
	ISVProdID    uint16
	ISVSVN       uint16
	ConfigSVN    uint16
	Reserved4    [42]byte
	ISVFamilyID  [16]byte
	ReportData   [64]byte
}

// BuildMode returns the build mode of the enclave the report belongs to.
func (r *ReportBody) BuildMode() BuildMode {
	if r.Attributes.Flags&SGXFlagsDebug != 0 {
		return BuildModeDebug
	}
	return BuildModeProduction
}

// DCAPQuote is an SGX ECDSA quote (version 3).
type DCAPQuote struct {
	Header              DCAPQuoteHeader
	Body                ReportBody
	SignatureDataLength uint32
	Signature           ECDSA256QuoteSignature
}

// ECDSA256QuoteSignature is the signature data of an SGX DCAP quote.
type ECDSA256QuoteSignature struct {
	ISVEnclaveReportSignature [64]byte // r || s
	AttestationKey            [64]byte // x || y
	QEReport                  ReportBody
	QEReportSignature         [64]byte // r || s
	QEAuthData                QEAuthData
	QECertificationData       CertificationData
}

// QEAuthData holds the Quoting Enclave (QE) authentication data.
type QEAuthData struct {
	ParsedDataSize uint16
	Data           []byte
}

// CertificationData holds the data required to verify the QE report signature.
// For PCK_ID_PCK_CERT_CHAIN, Data is the PEM encoded PCK certificate chain.
type CertificationData struct {
	Type           uint16
	ParsedDataSize uint32
	Data           []byte
}

// EPIDQuote is an SGX EPID quote as embedded in an IAS attestation report.
type EPIDQuote struct {
	Version     uint16
	SignType    uint16
	EPIDGroupID uint32
	QESVN       uint16
	PCESVN      uint16
	XEID        uint32
	Basename    [32]byte
	Body        ReportBody
}

// ParseDCAPQuote parses an SGX DCAP quote.
// Unlike [DecodeDCAPQuote], trailing bytes after the signature data are rejected.
func ParseDCAPQuote(rawQuote []byte) (DCAPQuote, error) {
	quote, consumed, err := DecodeDCAPQuote(rawQuote)
	if err != nil {
		return DCAPQuote{}, err
	}
	if consumed != len(rawQuote) {
		return DCAPQuote{}, fmt.Errorf("quote has %d trailing bytes", len(rawQuote)-consumed)
	}
	return quote, nil
}

// DecodeDCAPQuote decodes an SGX DCAP quote from the start of rawQuote.
// It returns the decoded quote and the number of bytes consumed.
// Header version, attestation key type, and certification data type are not validated.
func DecodeDCAPQuote(rawQuote []byte) (DCAPQuote, int, error) {
	quoteLength := len(rawQuote)
	if quoteLength < SignatureDataOffset {
		return DCAPQuote{}, 0, fmt.Errorf("quote structure is too short to be parsed (received: %d bytes)", quoteLength)
	}

	header := parseQuoteHeader([QuoteHeaderSize]byte(rawQuote[0:QuoteHeaderSize]))
	body := parseReportBody([ReportBodySize]byte(rawQuote[QuoteHeaderSize : QuoteHeaderSize+ReportBodySize]))
	signatureDataLength := binary.LittleEndian.Uint32(rawQuote[QuoteHeaderSize+ReportBodySize : SignatureDataOffset])

	signature, signatureSize, err := parseQuoteSignature(rawQuote[SignatureDataOffset:])
	if err != nil {
		return DCAPQuote{}, 0, fmt.Errorf("failed parsing quote signature: %w", err)
	}

	return DCAPQuote{
		Header:              header,
		Body:                body,
		SignatureDataLength: signatureDataLength,
		Signature:           signature,
	}, SignatureDataOffset + signatureSize, nil
}

// ParseEPIDQuote parses an SGX EPID quote. Bytes following the report body are ignored.
func ParseEPIDQuote(rawQuote []byte) (EPIDQuote, error) {
	if len(rawQuote) < EPIDQuoteSize {
		return EPIDQuote{}, fmt.Errorf("EPID quote is too short to be parsed (received: %d bytes)", len(rawQuote))
	}

	return EPIDQuote{
		Version:     binary.LittleEndian.Uint16(rawQuote[0:2]),
		SignType:    binary.LittleEndian.Uint16(rawQuote[2:4]),
		EPIDGroupID: binary.LittleEndian.Uint32(rawQuote[4:8]),
		QESVN:       binary.LittleEndian.Uint16(rawQuote[8:10]),
		PCESVN:      binary.LittleEndian.Uint16(rawQuote[10:12]),
		XEID:        binary.LittleEndian.Uint32(rawQuote[12:16]),
		Basename:    [32]byte(rawQuote[16:48]),
		Body:        parseReportBody([ReportBodySize]byte(rawQuote[48:EPIDQuoteSize])),
	}, nil
}

func parseQuoteHeader(rawHeader [QuoteHeaderSize]byte) DCAPQuoteHeader {
	return DCAPQuoteHeader{
		Version:            binary.LittleEndian.Uint16(rawHeader[0:2]),
		AttestationKeyType: binary.LittleEndian.Uint16(rawHeader[2:4]),
		Reserved:           binary.LittleEndian.Uint32(rawHeader[4:8]),
		QESVN:              binary.LittleEndian.Uint16(rawHeader[8:10]),
		PCESVN:             binary.LittleEndian.Uint16(rawHeader[10:12]),
		QEVendorID:         [16]byte(rawHeader[12:28]),
		UserData:           [20]byte(rawHeader[28:48]),
	}
}

func parseReportBody(rawBody [ReportBodySize]byte) ReportBody {
	return ReportBody{
		CPUSVN:       [16]byte(rawBody[0:16]),
		MiscSelect:   [4]byte(rawBody[16:20]),
		Reserved1:    [12]byte(rawBody[20:32]),
		ISVExtProdID: [16]byte(rawBody[32:48]),
		Attributes: Attributes{
			Flags: binary.LittleEndian.Uint64(rawBody[48:56]),
			XFRM:  binary.LittleEndian.Uint64(rawBody[56:64]),
		},
		MRENCLAVE:   [32]byte(rawBody[64:96]),
		Reserved2:   [32]byte(rawBody[96:128]),
		MRSIGNER:    [32]byte(rawBody[128:160]),
		Reserved3:   [32]byte(rawBody[160:192]),
		ConfigID:    [64]byte(rawBody[192:256]),
		ISVProdID:   binary.LittleEndian.Uint16(rawBody[256:258]),
		ISVSVN:      binary.LittleEndian.Uint16(rawBody[258:260]),
		ConfigSVN:   binary.LittleEndian.Uint16(rawBody[260:262]),
		Reserved4:   [42]byte(rawBody[262:304]),
		ISVFamilyID: [16]byte(rawBody[304:320]),
		ReportData:  [64]byte(rawBody[320:384]),
	}
}

// parseQuoteSignature parses the signature data of a DCAP quote.
// It returns the number of bytes consumed.
func parseQuoteSignature(signature []byte) (ECDSA256QuoteSignature, int, error) {
	signatureLength := len(signature)
	if signatureLength < fixedSignatureSize {
		return ECDSA256QuoteSignature{}, 0, fmt.Errorf("signature is too short to be parsed (received: %d bytes)", signatureLength)
	}

	quoteSignature := ECDSA256QuoteSignature{
		ISVEnclaveReportSignature: [64]byte(signature[0:64]),
		AttestationKey:            [64]byte(signature[64:128]),
		QEReport:                  parseReportBody([ReportBodySize]byte(signature[128:512])),
		QEReportSignature:         [64]byte(signature[512:576]),
		QEAuthData: QEAuthData{
			ParsedDataSize: binary.LittleEndian.Uint16(signature[576:578]),
		},
	}

	// A uint16 size can never overflow an int.
	endQEAuthData := fixedSignatureSize + int(quoteSignature.QEAuthData.ParsedDataSize)
	if endQEAuthData > signatureLength {
		return ECDSA256QuoteSignature{}, 0, fmt.Errorf("QEAuthData.ParsedDataSize is either incorrect or data is truncated (requires at least: %d bytes, left: %d bytes)", quoteSignature.QEAuthData.ParsedDataSize, signatureLength-fixedSignatureSize)
	}
	quoteSignature.QEAuthData.Data = bytes.Clone(signature[fixedSignatureSize:endQEAuthData])

	certData, certDataSize, err := parseCertificationData(signature[endQEAuthData:])
	if err != nil {
		return ECDSA256QuoteSignature{}, 0, err
	}
	quoteSignature.QECertificationData = certData

	return quoteSignature, endQEAuthData + certDataSize, nil
}

// parseCertificationData parses the QE certification data.
// It returns the number of bytes consumed.
func parseCertificationData(certData []byte) (CertificationData, int, error) {
	certDataLength := len(certData)
	if certDataLength < 6 {
		return CertificationData{}, 0, fmt.Errorf("QECertificationData is too short to be parsed (received: %d bytes)", certDataLength)
	}

	data := CertificationData{
		Type:           binary.LittleEndian.Uint16(certData[0:2]),
		ParsedDataSize: binary.LittleEndian.Uint32(certData[2:6]),
	}

	// Upgrade to uint64 since we could overflow if ParsedDataSize is close to the top of uint32.
	endCertData := 6 + uint64(data.ParsedDataSize)
	if endCertData > uint64(certDataLength) {
		return CertificationData{}, 0, fmt.Errorf("QECertificationData.ParsedDataSize is either incorrect or data is truncated (requires at least: %d bytes, left: %d bytes)", data.ParsedDataSize, certDataLength-6)
	}
	data.Data = bytes.Clone(certData[6:endCertData])

	return data, int(endCertData), nil
}
