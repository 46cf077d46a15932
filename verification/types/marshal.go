package types

import (
	"encoding/binary"
)

// Marshal serializes a ReportBody into its binary representation found in quotes and QE reports.
func (r *ReportBody) Marshal() [ReportBodySize]byte {
	var result [ReportBodySize]byte
	copy(result[0:16], r.CPUSVN[:])
	copy(result[16:20], r.MiscSelect[:])
	copy(result[20:32], r.Reserved1[:])
	copy(result[32:48], r.ISVExtProdID[:])
	binary.LittleEndian.PutUint64(result[48:56], r.Attributes.Flags)
	binary.LittleEndian.PutUint64(result[56:64], r.Attributes.XFRM)
	copy(result[64:96], r.MRENCLAVE[:])
	copy(result[96:128], r.Reserved2[:])
	copy(result[128:160], r.MRSIGNER[:])
	copy(result[160:192], r.Reserved3[:])
	copy(result[192:256], r.ConfigID[:])
	binary.LittleEndian.PutUint16(result[256:258], r.ISVProdID)
	binary.LittleEndian.PutUint16(result[258:260], r.ISVSVN)
	binary.LittleEndian.PutUint16(result[260:262], r.ConfigSVN)
	copy(result[262:304], r.Reserved4[:])
	copy(result[304:320], r.ISVFamilyID[:])
	copy(result[320:384], r.ReportData[:])

	return result
}

// Marshal serializes a DCAPQuoteHeader into its binary representation typically found in a raw quote.
func (h *DCAPQuoteHeader) Marshal() [QuoteHeaderSize]byte {
	var result [QuoteHeaderSize]byte
	binary.LittleEndian.PutUint16(result[0:2], h.Version)
	binary.LittleEndian.PutUint16(result[2:4], h.AttestationKeyType)
	binary.LittleEndian.PutUint32(result[4:8], h.Reserved)
	binary.LittleEndian.PutUint16(result[8:10], h.QESVN)
	binary.LittleEndian.PutUint16(result[10:12], h.PCESVN)
	copy(result[12:28], h.QEVendorID[:])
	copy(result[28:48], h.UserData[:])

	return result
}

// Marshal serializes the signature data of a DCAP quote.
// The size fields are taken from the struct as is, so the caller is responsible for keeping them consistent with the data.
func (s *ECDSA256QuoteSignature) Marshal() []byte {
	result := make([]byte, 0, fixedSignatureSize+len(s.QEAuthData.Data)+6+len(s.QECertificationData.Data))
	qeReport := s.QEReport.Marshal()

	result = append(result, s.ISVEnclaveReportSignature[:]...)
	result = append(result, s.AttestationKey[:]...)
	result = append(result, qeReport[:]...)
	result = append(result, s.QEReportSignature[:]...)
	result = binary.LittleEndian.AppendUint16(result, s.QEAuthData.ParsedDataSize)
	result = append(result, s.QEAuthData.Data...)
	result = binary.LittleEndian.AppendUint16(result, s.QECertificationData.Type)
	result = binary.LittleEndian.AppendUint32(result, s.QECertificationData.ParsedDataSize)
	result = append(result, s.QECertificationData.Data...)

	return result
}

// Marshal serializes a DCAPQuote into its raw binary representation.
func (q *DCAPQuote) Marshal() []byte {
	header := q.Header.Marshal()
	body := q.Body.Marshal()
	signature := q.Signature.Marshal()

	result := make([]byte, 0, SignatureDataOffset+len(signature))
	result = append(result, header[:]...)
	result = append(result, body[:]...)
	result = binary.LittleEndian.AppendUint32(result, q.SignatureDataLength)
	return append(result, signature...)
}

// Marshal serializes an EPIDQuote into its binary representation, as found in an IAS attestation report.
func (q *EPIDQuote) Marshal() [EPIDQuoteSize]byte {
	var result [EPIDQuoteSize]byte
	binary.LittleEndian.PutUint16(result[0:2], q.Version)
	binary.LittleEndian.PutUint16(result[2:4], q.SignType)
	binary.LittleEndian.PutUint32(result[4:8], q.EPIDGroupID)
	binary.LittleEndian.PutUint16(result[8:10], q.QESVN)
	binary.LittleEndian.PutUint16(result[10:12], q.PCESVN)
	binary.LittleEndian.PutUint32(result[12:16], q.XEID)
	copy(result[16:48], q.Basename[:])
	body := q.Body.Marshal()
	copy(result[48:EPIDQuoteSize], body[:])

	return result
}
