package types

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/edgelesssys/go-sgx-qvl/verification/status"
)

const (
	// TCBInfoSGXID indicates that the TCB Info is for an SGX platform.
	TCBInfoSGXID = "SGX"

	// TCBInfoV2Version is the version of a v2 TCB Info.
	TCBInfoV2Version = 2

	// TCBInfoV3Version is the version of a v3 TCB Info.
	TCBInfoV3Version = 3

	// QEIdentityID indicates that the enclave identity is for the SGX Quoting Enclave.
	QEIdentityID = "QE"

	// QEIdentityVersion is the pinned version of the QE Identity.
	QEIdentityVersion = 2

	// MinQEISVSVN is the lowest QE ISVSVN that is accepted.
	// Everything older is outdated, Intel's DCAP libraries do the same check.
	MinQEISVSVN = 6
)

// EnclaveIdentity contains the expected identity of the SGX Quoting Enclave (QE).
type EnclaveIdentity struct {
	ID                      string
	Version                 uint16
	IssueDate               time.Time
	NextUpdate              time.Time
	TCBEvaluationDataNumber uint16
	MiscSelect              [4]byte
	MiscSelectMask          [4]byte
	Attributes              [16]byte
	AttributesMask          [16]byte
	MRSIGNER                [32]byte
	ISVProdID               uint16
	TCBLevels               []QETCBLevel
}

// ParseEnclaveIdentity parses the JSON representation of a QE Identity.
func ParseEnclaveIdentity(data []byte) (EnclaveIdentity, error) {
	var identity EnclaveIdentity
	if err := json.Unmarshal(data, &identity); err != nil {
		return EnclaveIdentity{}, err
	}
	return identity, nil
}

// UnmarshalJSON parses a JSON representation of the QE Identity into an EnclaveIdentity.
func (e *EnclaveIdentity) UnmarshalJSON(data []byte) error {
	var identity enclaveIdentityJSON
	if err := json.Unmarshal(data, &identity); err != nil {
		return fmt.Errorf("unmarshaling QE Identity JSON: %w", err)
	}
	if err := requireFields(
		field{"id", identity.ID != nil},
		field{"version", identity.Version != nil},
		field{"issueDate", identity.IssueDate != nil},
		field{"nextUpdate", identity.NextUpdate != nil},
		field{"tcbEvaluationDataNumber", identity.TCBEvaluationDataNumber != nil},
		field{"miscselect", identity.MiscSelect != nil},
		field{"miscselectMask", identity.MiscSelectMask != nil},
		field{"attributes", identity.Attributes != nil},
		field{"attributesMask", identity.AttributesMask != nil},
		field{"mrsigner", identity.MRSIGNER != nil},
		field{"isvprodid", identity.ISVProdID != nil},
		field{"tcbLevels", identity.TCBLevels != nil},
	); err != nil {
		return fmt.Errorf("QE Identity: %w", err)
	}

	var err error
	e.ID = *identity.ID
	e.Version = *identity.Version
	if e.IssueDate, err = parseDate(*identity.IssueDate); err != nil {
		return fmt.Errorf("parsing QE Identity issue date: %w", err)
	}
	if e.NextUpdate, err = parseDate(*identity.NextUpdate); err != nil {
		return fmt.Errorf("parsing QE Identity next update date: %w", err)
	}
	e.TCBEvaluationDataNumber = *identity.TCBEvaluationDataNumber

	if err := decodeHexInto(e.MiscSelect[:], *identity.MiscSelect); err != nil {
		return fmt.Errorf("decoding MiscSelect: %w", err)
	}
	if err := decodeHexInto(e.MiscSelectMask[:], *identity.MiscSelectMask); err != nil {
		return fmt.Errorf("decoding MiscSelectMask: %w", err)
	}
	if err := decodeHexInto(e.Attributes[:], *identity.Attributes); err != nil {
		return fmt.Errorf("decoding Attributes: %w", err)
	}
	if err := decodeHexInto(e.AttributesMask[:], *identity.AttributesMask); err != nil {
		return fmt.Errorf("decoding AttributesMask: %w", err)
	}
	if err := decodeHexInto(e.MRSIGNER[:], *identity.MRSIGNER); err != nil {
		return fmt.Errorf("decoding MRSIGNER: %w", err)
	}

	e.ISVProdID = *identity.ISVProdID
	e.TCBLevels = identity.TCBLevels
	return nil
}

// IsValid reports whether the identity is a QE Identity of the supported version,
// issued before and not yet superseded at the given time.
func (e *EnclaveIdentity) IsValid(timestampMillis int64) bool {
	return e.ID == QEIdentityID &&
		e.Version == QEIdentityVersion &&
		e.IssueDate.UnixMilli() < timestampMillis &&
		timestampMillis < e.NextUpdate.UnixMilli()
}

// ToQuotingEnclave extracts the accepted Quoting Enclave identity.
func (e *EnclaveIdentity) ToQuotingEnclave() QuotingEnclave {
	validTCBs := []QETCB{}
	for _, level := range e.TCBLevels {
		if level.IsValid() {
			validTCBs = append(validTCBs, level.TCB)
		}
	}

	return QuotingEnclave{
		// Dates before the epoch are rejected while parsing.
		IssueDate:      uint64(e.IssueDate.UnixMilli()),
		NextUpdate:     uint64(e.NextUpdate.UnixMilli()),
		MiscSelect:     e.MiscSelect,
		MiscSelectMask: e.MiscSelectMask,
		Attributes:     e.Attributes,
		AttributesMask: e.AttributesMask,
		MRSIGNER:       e.MRSIGNER,
		ISVProdID:      e.ISVProdID,
		TCB:            validTCBs,
	}
}

type enclaveIdentityJSON struct {
	ID                      *string      `json:"id"`
	Version                 *uint16      `json:"version"`
	IssueDate               *string      `json:"issueDate"`
	NextUpdate              *string      `json:"nextUpdate"`
	TCBEvaluationDataNumber *uint16      `json:"tcbEvaluationDataNumber"`
	MiscSelect              *string      `json:"miscselect"`
	MiscSelectMask          *string      `json:"miscselectMask"`
	Attributes              *string      `json:"attributes"`
	AttributesMask          *string      `json:"attributesMask"`
	MRSIGNER                *string      `json:"mrsigner"`
	ISVProdID               *uint16      `json:"isvprodid"`
	TCBLevels               []QETCBLevel `json:"tcbLevels"`
}

// QETCBLevel is a TCB level of the Quoting Enclave.
type QETCBLevel struct {
	TCB QETCB
	// TCBDate is not verified, neither Intel's code nor its API documentation require it.
	TCBDate     time.Time
	TCBStatus   status.TCBStatus
	AdvisoryIDs []string
}

// IsValid reports whether the QE TCB level is accepted.
// Only UpToDate levels with an ISVSVN of at least [MinQEISVSVN] are accepted.
func (l *QETCBLevel) IsValid() bool {
	return l.TCB.ISVSVN >= MinQEISVSVN && l.TCBStatus == status.TCBUpToDate
}

// UnmarshalJSON parses a JSON representation of a QE TCB level.
func (l *QETCBLevel) UnmarshalJSON(data []byte) error {
	var level struct {
		TCB *struct {
			ISVSVN *uint16 `json:"isvsvn"`
		} `json:"tcb"`
		TCBDate     *string  `json:"tcbDate"`
		TCBStatus   *string  `json:"tcbStatus"`
		AdvisoryIDs []string `json:"advisoryIDs"`
	}
	if err := json.Unmarshal(data, &level); err != nil {
		return fmt.Errorf("unmarshaling QE TCB level JSON: %w", err)
	}
	if err := requireFields(
		field{"tcb", level.TCB != nil},
		field{"tcb.isvsvn", level.TCB != nil && level.TCB.ISVSVN != nil},
		field{"tcbDate", level.TCBDate != nil},
		field{"tcbStatus", level.TCBStatus != nil},
	); err != nil {
		return fmt.Errorf("QE TCB level: %w", err)
	}

	tcbDate, err := parseDate(*level.TCBDate)
	if err != nil {
		return fmt.Errorf("parsing TCB date: %w", err)
	}

	l.TCB = QETCB{ISVSVN: *level.TCB.ISVSVN}
	l.TCBDate = tcbDate
	l.TCBStatus = status.TCBStatus(*level.TCBStatus)
	l.AdvisoryIDs = level.AdvisoryIDs
	return nil
}

// TCBInfo is either a [TCBInfoV2] or a [TCBInfoV3].
type TCBInfo interface {
	// IsValid reports whether the TCB Info is of the supported id and version,
	// issued before and not yet superseded at the given time.
	IsValid(timestampMillis int64) bool
	// ToChainTCBInfo extracts the FMSPC and the accepted TCB levels.
	ToChainTCBInfo() (FMSPC, TCBInfoOnChain)

	isTCBInfo()
}

// ParseTCBInfo parses the JSON representation of a TCB Info.
// The v2 layout is tried first, then the v3 layout.
func ParseTCBInfo(data []byte) (TCBInfo, error) {
	var v2 TCBInfoV2
	errV2 := json.Unmarshal(data, &v2)
	if errV2 == nil {
		return &v2, nil
	}

	var v3 TCBInfoV3
	errV3 := json.Unmarshal(data, &v3)
	if errV3 == nil {
		return &v3, nil
	}

	return nil, fmt.Errorf("TCB Info is neither v2 nor v3: %w", errors.Join(errV2, errV3))
}

// tcbInfoCommon holds the fields shared by all TCB Info versions.
type tcbInfoCommon struct {
	Version                 uint8
	IssueDate               time.Time
	NextUpdate              time.Time
	FMSPC                   FMSPC
	PCEID                   string
	TCBType                 uint16
	TCBEvaluationDataNumber uint16
}

func (t *tcbInfoCommon) inIssueWindow(timestampMillis int64) bool {
	return t.IssueDate.UnixMilli() < timestampMillis && timestampMillis < t.NextUpdate.UnixMilli()
}

func (t *tcbInfoCommon) toChain(levels []TCBVersionStatus) (FMSPC, TCBInfoOnChain) {
	return t.FMSPC, TCBInfoOnChain{
		// Dates before the epoch are rejected while parsing.
		IssueDate:  uint64(t.IssueDate.UnixMilli()),
		NextUpdate: uint64(t.NextUpdate.UnixMilli()),
		TCBLevels:  levels,
	}
}

// tcbInfoCommonJSON is the JSON representation of the fields shared by all TCB Info versions.
type tcbInfoCommonJSON struct {
	Version                 *uint8  `json:"version"`
	IssueDate               *string `json:"issueDate"`
	NextUpdate              *string `json:"nextUpdate"`
	FMSPC                   *string `json:"fmspc"`
	PCEID                   *string `json:"pceId"`
	TCBType                 *uint16 `json:"tcbType"`
	TCBEvaluationDataNumber *uint16 `json:"tcbEvaluationDataNumber"`
}

func (j *tcbInfoCommonJSON) decode() (tcbInfoCommon, error) {
	if err := requireFields(
		field{"version", j.Version != nil},
		field{"issueDate", j.IssueDate != nil},
		field{"nextUpdate", j.NextUpdate != nil},
		field{"fmspc", j.FMSPC != nil},
		field{"pceId", j.PCEID != nil},
		field{"tcbType", j.TCBType != nil},
		field{"tcbEvaluationDataNumber", j.TCBEvaluationDataNumber != nil},
	); err != nil {
		return tcbInfoCommon{}, err
	}

	var t tcbInfoCommon
	var err error
	t.Version = *j.Version
	if t.IssueDate, err = parseDate(*j.IssueDate); err != nil {
		return tcbInfoCommon{}, fmt.Errorf("parsing TCB Info issue date: %w", err)
	}
	if t.NextUpdate, err = parseDate(*j.NextUpdate); err != nil {
		return tcbInfoCommon{}, fmt.Errorf("parsing TCB Info next update date: %w", err)
	}
	if err := decodeHexInto(t.FMSPC[:], *j.FMSPC); err != nil {
		return tcbInfoCommon{}, fmt.Errorf("decoding FMSPC: %w", err)
	}
	t.PCEID = *j.PCEID
	t.TCBType = *j.TCBType
	t.TCBEvaluationDataNumber = *j.TCBEvaluationDataNumber
	return t, nil
}

// TCBInfoV2 is a version 2 TCB Info.
type TCBInfoV2 struct {
	tcbInfoCommon
	TCBLevels []TCBLevelV2
}

func (*TCBInfoV2) isTCBInfo() {}

// IsValid implements [TCBInfo].
func (t *TCBInfoV2) IsValid(timestampMillis int64) bool {
	return t.Version == TCBInfoV2Version && t.inIssueWindow(timestampMillis)
}

// ToChainTCBInfo implements [TCBInfo].
func (t *TCBInfoV2) ToChainTCBInfo() (FMSPC, TCBInfoOnChain) {
	levels := []TCBVersionStatus{}
	for _, level := range t.TCBLevels {
		if level.IsValid() {
			levels = append(levels, TCBVersionStatus{CPUSVN: level.TCB.SGXTCBComponents, PCESVN: level.TCB.PCESVN})
		}
	}
	return t.toChain(levels)
}

// UnmarshalJSON parses a JSON representation of a v2 TCB Info.
func (t *TCBInfoV2) UnmarshalJSON(data []byte) error {
	var tcbInfo struct {
		tcbInfoCommonJSON
		TCBLevels []TCBLevelV2 `json:"tcbLevels"`
	}
	if err := json.Unmarshal(data, &tcbInfo); err != nil {
		return fmt.Errorf("unmarshaling TCB Info v2 JSON: %w", err)
	}
	if tcbInfo.TCBLevels == nil {
		return errors.New("TCB Info v2: missing field \"tcbLevels\"")
	}

	common, err := tcbInfo.decode()
	if err != nil {
		return fmt.Errorf("TCB Info v2: %w", err)
	}
	t.tcbInfoCommon = common
	t.TCBLevels = tcbInfo.TCBLevels
	return nil
}

// TCBInfoV3 is a version 3 TCB Info.
type TCBInfoV3 struct {
	ID string
	tcbInfoCommon
	TCBLevels []TCBLevelV3
}

func (*TCBInfoV3) isTCBInfo() {}

// IsValid implements [TCBInfo].
func (t *TCBInfoV3) IsValid(timestampMillis int64) bool {
	return t.ID == TCBInfoSGXID && t.Version == TCBInfoV3Version && t.inIssueWindow(timestampMillis)
}

// ToChainTCBInfo implements [TCBInfo].
func (t *TCBInfoV3) ToChainTCBInfo() (FMSPC, TCBInfoOnChain) {
	levels := []TCBVersionStatus{}
	for _, level := range t.TCBLevels {
		if !level.IsValid() {
			continue
		}
		var components [16]uint8
		for i, component := range level.TCB.SGXTCBComponents {
			components[i] = component.SVN
		}
		levels = append(levels, TCBVersionStatus{CPUSVN: components, PCESVN: level.TCB.PCESVN})
	}
	return t.toChain(levels)
}

// UnmarshalJSON parses a JSON representation of a v3 TCB Info.
func (t *TCBInfoV3) UnmarshalJSON(data []byte) error {
	var tcbInfo struct {
		ID *string `json:"id"`
		tcbInfoCommonJSON
		TCBLevels []TCBLevelV3 `json:"tcbLevels"`
	}
	if err := json.Unmarshal(data, &tcbInfo); err != nil {
		return fmt.Errorf("unmarshaling TCB Info v3 JSON: %w", err)
	}
	if err := requireFields(
		field{"id", tcbInfo.ID != nil},
		field{"tcbLevels", tcbInfo.TCBLevels != nil},
	); err != nil {
		return fmt.Errorf("TCB Info v3: %w", err)
	}

	common, err := tcbInfo.decode()
	if err != nil {
		return fmt.Errorf("TCB Info v3: %w", err)
	}
	t.ID = *tcbInfo.ID
	t.tcbInfoCommon = common
	t.TCBLevels = tcbInfo.TCBLevels
	return nil
}

// TCBLevelV2 is a TCB level of a v2 TCB Info.
type TCBLevelV2 struct {
	TCB struct {
		SGXTCBComponents [16]uint8
		PCESVN           uint16
	}
	TCBDate     time.Time
	TCBStatus   status.TCBStatus
	AdvisoryIDs []string
}

// IsValid reports whether the TCB level is accepted.
func (l *TCBLevelV2) IsValid() bool {
	return l.TCBStatus.Acceptable()
}

// UnmarshalJSON parses a JSON representation of a v2 TCB level.
func (l *TCBLevelV2) UnmarshalJSON(data []byte) error {
	var level struct {
		TCB *struct {
			SGXTCBComp01SVN *uint8  `json:"sgxtcbcomp01svn"`
			SGXTCBComp02SVN *uint8  `json:"sgxtcbcomp02svn"`
			SGXTCBComp03SVN *uint8  `json:"sgxtcbcomp03svn"`
			SGXTCBComp04SVN *uint8  `json:"sgxtcbcomp04svn"`
			SGXTCBComp05SVN *uint8  `json:"sgxtcbcomp05svn"`
			SGXTCBComp06SVN *uint8  `json:"sgxtcbcomp06svn"`
			SGXTCBComp07SVN *uint8  `json:"sgxtcbcomp07svn"`
			SGXTCBComp08SVN *uint8  `json:"sgxtcbcomp08svn"`
			SGXTCBComp09SVN *uint8  `json:"sgxtcbcomp09svn"`
			SGXTCBComp10SVN *uint8  `json:"sgxtcbcomp10svn"`
			SGXTCBComp11SVN *uint8  `json:"sgxtcbcomp11svn"`
			SGXTCBComp12SVN *uint8  `json:"sgxtcbcomp12svn"`
			SGXTCBComp13SVN *uint8  `json:"sgxtcbcomp13svn"`
			SGXTCBComp14SVN *uint8  `json:"sgxtcbcomp14svn"`
			SGXTCBComp15SVN *uint8  `json:"sgxtcbcomp15svn"`
			SGXTCBComp16SVN *uint8  `json:"sgxtcbcomp16svn"`
			PCESVN          *uint16 `json:"pcesvn"`
		} `json:"tcb"`
		TCBDate     *string  `json:"tcbDate"`
		TCBStatus   *string  `json:"tcbStatus"`
		AdvisoryIDs []string `json:"advisoryIDs"`
	}
	if err := json.Unmarshal(data, &level); err != nil {
		return fmt.Errorf("unmarshaling TCB level JSON: %w", err)
	}
	if err := requireFields(
		field{"tcb", level.TCB != nil},
		field{"tcbDate", level.TCBDate != nil},
		field{"tcbStatus", level.TCBStatus != nil},
	); err != nil {
		return fmt.Errorf("TCB level: %w", err)
	}

	tcb := level.TCB
	components := []*uint8{
		tcb.SGXTCBComp01SVN, tcb.SGXTCBComp02SVN, tcb.SGXTCBComp03SVN, tcb.SGXTCBComp04SVN,
		tcb.SGXTCBComp05SVN, tcb.SGXTCBComp06SVN, tcb.SGXTCBComp07SVN, tcb.SGXTCBComp08SVN,
		tcb.SGXTCBComp09SVN, tcb.SGXTCBComp10SVN, tcb.SGXTCBComp11SVN, tcb.SGXTCBComp12SVN,
		tcb.SGXTCBComp13SVN, tcb.SGXTCBComp14SVN, tcb.SGXTCBComp15SVN, tcb.SGXTCBComp16SVN,
	}
	for i, svn := range components {
		if svn == nil {
			return fmt.Errorf("TCB level: missing field \"sgxtcbcomp%02dsvn\"", i+1)
		}
		l.TCB.SGXTCBComponents[i] = *svn
	}
	if tcb.PCESVN == nil {
		return errors.New("TCB level: missing field \"pcesvn\"")
	}
	l.TCB.PCESVN = *tcb.PCESVN

	tcbDate, err := parseDate(*level.TCBDate)
	if err != nil {
		return fmt.Errorf("parsing TCB date: %w", err)
	}
	l.TCBDate = tcbDate
	l.TCBStatus = status.TCBStatus(*level.TCBStatus)
	l.AdvisoryIDs = level.AdvisoryIDs
	return nil
}

// TCBLevelV3 is a TCB level of a v3 TCB Info.
type TCBLevelV3 struct {
	TCB struct {
		SGXTCBComponents [16]TCBComponent
		PCESVN           uint16
	}
	TCBDate     time.Time
	TCBStatus   status.TCBStatus
	AdvisoryIDs []string
}

// IsValid reports whether the TCB level is accepted.
func (l *TCBLevelV3) IsValid() bool {
	return l.TCBStatus.Acceptable()
}

// UnmarshalJSON parses a JSON representation of a v3 TCB level.
func (l *TCBLevelV3) UnmarshalJSON(data []byte) error {
	var level struct {
		TCB *struct {
			SGXTCBComponents []TCBComponent `json:"sgxtcbcomponents"`
			PCESVN           *uint16        `json:"pcesvn"`
		} `json:"tcb"`
		TCBDate     *string  `json:"tcbDate"`
		TCBStatus   *string  `json:"tcbStatus"`
		AdvisoryIDs []string `json:"advisoryIDs"`
	}
	if err := json.Unmarshal(data, &level); err != nil {
		return fmt.Errorf("unmarshaling TCB level JSON: %w", err)
	}
	if err := requireFields(
		field{"tcb", level.TCB != nil},
		field{"tcb.pcesvn", level.TCB != nil && level.TCB.PCESVN != nil},
		field{"tcbDate", level.TCBDate != nil},
		field{"tcbStatus", level.TCBStatus != nil},
	); err != nil {
		return fmt.Errorf("TCB level: %w", err)
	}
	if len(level.TCB.SGXTCBComponents) != 16 {
		return fmt.Errorf("TCB level: expected 16 SGX TCB components, got %d", len(level.TCB.SGXTCBComponents))
	}

	tcbDate, err := parseDate(*level.TCBDate)
	if err != nil {
		return fmt.Errorf("parsing TCB date: %w", err)
	}

	l.TCB.SGXTCBComponents = [16]TCBComponent(level.TCB.SGXTCBComponents)
	l.TCB.PCESVN = *level.TCB.PCESVN
	l.TCBDate = tcbDate
	l.TCBStatus = status.TCBStatus(*level.TCBStatus)
	l.AdvisoryIDs = level.AdvisoryIDs
	return nil
}

// TCBComponent describes the SVN of an SGX TCB component.
type TCBComponent struct {
	SVN      uint8
	Category string
	Type     string
}

// UnmarshalJSON parses a JSON representation of a TCB component.
func (c *TCBComponent) UnmarshalJSON(data []byte) error {
	var component struct {
		SVN      *uint8 `json:"svn"`
		Category string `json:"category"`
		Type     string `json:"type"`
	}
	if err := json.Unmarshal(data, &component); err != nil {
		return fmt.Errorf("unmarshaling TCB component JSON: %w", err)
	}
	if component.SVN == nil {
		return errors.New("TCB component: missing field \"svn\"")
	}

	c.SVN = *component.SVN
	c.Category = component.Category
	c.Type = component.Type
	return nil
}

type field struct {
	name    string
	present bool
}

// requireFields returns an error naming the first field that is not present.
func requireFields(fields ...field) error {
	for _, f := range fields {
		if !f.present {
			return fmt.Errorf("missing field %q", f.name)
		}
	}
	return nil
}

// parseDate parses an RFC 3339 date. Dates before the Unix epoch are rejected.
func parseDate(in string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, in)
	if err != nil {
		return time.Time{}, err
	}
	if t.UnixMilli() < 0 {
		return time.Time{}, fmt.Errorf("date %s is before the Unix epoch", in)
	}
	return t.UTC(), nil
}

// decodeHexInto decodes a hex string into out.
// This function errors if the decoded string is not exactly len(out) bytes long,
// to save the caller from having to check the length when parsing into fixed-size arrays.
func decodeHexInto(out []byte, in string) error {
	decoded, err := hex.DecodeString(in)
	if err != nil {
		return fmt.Errorf("decoding hex string: %w", err)
	}

	if len(decoded) != len(out) {
		return fmt.Errorf("expected %d bytes, but got %d", len(out), len(decoded))
	}

	copy(out, decoded)
	return nil
}
