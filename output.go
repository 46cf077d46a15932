package main

import (
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/edgelesssys/go-sgx-qvl/verification/crypto"
	"github.com/edgelesssys/go-sgx-qvl/verification/types"
)

type summaryJSON struct {
	MREnclave string `json:"mrEnclave"`
	PubKey    string `json:"pubKey"`
	Status    string `json:"status"`
	Timestamp uint64 `json:"timestamp"`
	BuildMode string `json:"buildMode"`
}

func newSummaryJSON(s types.EnclaveSummary) summaryJSON {
	return summaryJSON{
		MREnclave: hex.EncodeToString(s.MREnclave[:]),
		PubKey:    hex.EncodeToString(s.PubKey[:]),
		Status:    s.Status.String(),
		Timestamp: s.Timestamp,
		BuildMode: s.BuildMode.String(),
	}
}

type dcapJSON struct {
	Summary summaryJSON `json:"summary"`
	// FMSPC is set if the platform TCB was checked.
	FMSPC string `json:"fmspc,omitempty"`
}

type tcbLevelJSON struct {
	SGXTCBComponents [16]uint8 `json:"sgxTcbComponents"`
	PCESVN           uint16    `json:"pcesvn"`
}

type tcbInfoJSON struct {
	FMSPC      string         `json:"fmspc"`
	IssueDate  uint64         `json:"issueDate"`
	NextUpdate uint64         `json:"nextUpdate"`
	TCBLevels  []tcbLevelJSON `json:"tcbLevels"`
}

func newTCBInfoJSON(fmspc types.FMSPC, tcbInfo types.TCBInfoOnChain) tcbInfoJSON {
	levels := make([]tcbLevelJSON, 0, len(tcbInfo.TCBLevels))
	for _, level := range tcbInfo.TCBLevels {
		levels = append(levels, tcbLevelJSON{SGXTCBComponents: level.CPUSVN, PCESVN: level.PCESVN})
	}
	return tcbInfoJSON{
		FMSPC:      fmspc.String(),
		IssueDate:  tcbInfo.IssueDate,
		NextUpdate: tcbInfo.NextUpdate,
		TCBLevels:  levels,
	}
}

type tcbInfoCBOR struct {
	FMSPC   types.FMSPC          `cbor:"fmspc"`
	TCBInfo types.TCBInfoOnChain `cbor:"tcb_info"`
}

type quotingEnclaveJSON struct {
	IssueDate      uint64   `json:"issueDate"`
	NextUpdate     uint64   `json:"nextUpdate"`
	MiscSelect     string   `json:"miscselect"`
	MiscSelectMask string   `json:"miscselectMask"`
	Attributes     string   `json:"attributes"`
	AttributesMask string   `json:"attributesMask"`
	MRSigner       string   `json:"mrsigner"`
	ISVProdID      uint16   `json:"isvprodid"`
	ISVSVNs        []uint16 `json:"isvsvns"`
}

func newQuotingEnclaveJSON(qe types.QuotingEnclave) quotingEnclaveJSON {
	svns := make([]uint16, 0, len(qe.TCB))
	for _, tcb := range qe.TCB {
		svns = append(svns, tcb.ISVSVN)
	}
	return quotingEnclaveJSON{
		IssueDate:      qe.IssueDate,
		NextUpdate:     qe.NextUpdate,
		MiscSelect:     hex.EncodeToString(qe.MiscSelect[:]),
		MiscSelectMask: hex.EncodeToString(qe.MiscSelectMask[:]),
		Attributes:     hex.EncodeToString(qe.Attributes[:]),
		AttributesMask: hex.EncodeToString(qe.AttributesMask[:]),
		MRSigner:       hex.EncodeToString(qe.MRSIGNER[:]),
		ISVProdID:      qe.ISVProdID,
		ISVSVNs:        svns,
	}
}

type crlJSON struct {
	Revoked int `json:"revoked"`
}

// checkPlatformTCB checks that the PCK certificate of a verified quote belongs to the FMSPC
// of the TCB Info and that its TCB is at or above an accepted TCB level.
func checkPlatformTCB(rawQuote []byte, fmspc types.FMSPC, tcbInfo types.TCBInfoOnChain) error {
	quote, err := types.ParseDCAPQuote(rawQuote)
	if err != nil {
		return fmt.Errorf("parsing quote: %w", err)
	}
	certs := crypto.ExtractCertificates(quote.Signature.QECertificationData.Data)
	if len(certs) == 0 {
		return errors.New("quote contains no PCK certificate")
	}
	pck, err := x509.ParseCertificate(certs[0])
	if err != nil {
		return fmt.Errorf("parsing PCK certificate: %w", err)
	}
	ext, err := types.ParsePCKExtensions(pck)
	if err != nil {
		return fmt.Errorf("parsing PCK certificate extensions: %w", err)
	}

	if ext.FMSPC != fmspc {
		return fmt.Errorf("PCK certificate is for FMSPC %s, TCB Info is for FMSPC %s", ext.FMSPC, fmspc)
	}
	if !tcbInfo.Accepts(ext.SGXTCBComponents, ext.PCESVN) {
		return fmt.Errorf("platform TCB (components %v, PCESVN %d) is not accepted", ext.SGXTCBComponents, ext.PCESVN)
	}
	log.Debugf("Platform TCB of FMSPC %s is accepted", fmspc)
	return nil
}
