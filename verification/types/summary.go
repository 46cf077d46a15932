package types

import (
	"fmt"

	"github.com/edgelesssys/go-sgx-qvl/verification/status"
	"github.com/fxamacker/cbor/v2"
)

// BuildMode is the build mode of an enclave.
type BuildMode uint8

const (
	// BuildModeProduction is used for enclaves without the debug attribute.
	BuildModeProduction BuildMode = iota
	// BuildModeDebug is used for enclaves with the debug attribute set.
	BuildModeDebug
)

func (b BuildMode) String() string {
	if b == BuildModeDebug {
		return "Debug"
	}
	return "Production"
}

// EnclaveSummary is the result of a successful attestation verification.
type EnclaveSummary struct {
	MREnclave [32]byte `cbor:"mr_enclave"`
	// PubKey holds the first 32 bytes of the report data.
	PubKey    [32]byte         `cbor:"pubkey"`
	Status    status.SGXStatus `cbor:"status"`
	Timestamp uint64           `cbor:"timestamp"` // unix milliseconds
	BuildMode BuildMode        `cbor:"build_mode"`
}

// NewEnclaveSummary creates an EnclaveSummary for the given report body.
func NewEnclaveSummary(body *ReportBody, s status.SGXStatus, timestampMillis uint64) EnclaveSummary {
	summary := EnclaveSummary{
		MREnclave: body.MRENCLAVE,
		Status:    s,
		Timestamp: timestampMillis,
		BuildMode: body.BuildMode(),
	}
	copy(summary.PubKey[:], body.ReportData[:32])
	return summary
}

// EncodeCBOR encodes v using CBOR Core Deterministic Encoding,
// so equal values always produce equal bytes.
func EncodeCBOR(v any) ([]byte, error) {
	encMode, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("creating CBOR encoding mode: %w", err)
	}
	return encMode.Marshal(v)
}

// DecodeCBOR decodes CBOR data into v.
func DecodeCBOR(data []byte, v any) error {
	return cbor.Unmarshal(data, v)
}
