package types

import (
	"encoding/hex"
	"strings"
)

// FMSPC identifies the family, model, stepping, platform type, and custom SKU of a platform.
type FMSPC [6]byte

func (f FMSPC) String() string {
	return strings.ToUpper(hex.EncodeToString(f[:]))
}

// QETCB is a TCB level of the Quoting Enclave.
type QETCB struct {
	ISVSVN uint16 `json:"isvsvn" cbor:"isvsvn"`
}

// QuotingEnclave is the accepted identity of the Quoting Enclave, as derived from Intel's QE Identity.
type QuotingEnclave struct {
	IssueDate      uint64   `cbor:"issue_date"`  // unix milliseconds
	NextUpdate     uint64   `cbor:"next_update"` // unix milliseconds
	MiscSelect     [4]byte  `cbor:"miscselect"`
	MiscSelectMask [4]byte  `cbor:"miscselect_mask"`
	Attributes     [16]byte `cbor:"attributes"`
	AttributesMask [16]byte `cbor:"attributes_mask"`
	MRSIGNER       [32]byte `cbor:"mrsigner"`
	ISVProdID      uint16   `cbor:"isvprodid"`
	TCB            []QETCB  `cbor:"tcb"` // only accepted levels
}

// TCBVersionStatus is an accepted TCB level of a platform.
type TCBVersionStatus struct {
	CPUSVN [16]uint8 `cbor:"cpusvn"` // SGX TCB component SVNs
	PCESVN uint16    `cbor:"pcesvn"`
}

// TCBInfoOnChain holds the accepted TCB levels of an FMSPC, as derived from Intel's TCB Info.
type TCBInfoOnChain struct {
	IssueDate  uint64             `cbor:"issue_date"`  // unix milliseconds
	NextUpdate uint64             `cbor:"next_update"` // unix milliseconds
	TCBLevels  []TCBVersionStatus `cbor:"tcb_levels"`
}

// Accepts reports whether a platform with the given TCB, as found in its PCK certificate,
// is at or above one of the accepted TCB levels.
func (t *TCBInfoOnChain) Accepts(components [16]uint8, pcesvn uint16) bool {
	for _, level := range t.TCBLevels {
		if level.isLowerOrEqual(components, pcesvn) {
			return true
		}
	}
	return false
}

func (l TCBVersionStatus) isLowerOrEqual(components [16]uint8, pcesvn uint16) bool {
	for i := range components {
		if components[i] < l.CPUSVN[i] {
			return false
		}
	}
	return pcesvn >= l.PCESVN
}
