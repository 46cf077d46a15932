package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/edgelesssys/go-sgx-qvl/blobs"
	"github.com/edgelesssys/go-sgx-qvl/verification/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTCBInfoOnChainAccepts(t *testing.T) {
	tcbInfo, err := ParseTCBInfo(blobs.TCBInfoV2JSON)
	require.NoError(t, err)
	_, onChain := tcbInfo.ToChainTCBInfo()

	testCases := map[string]struct {
		components [16]uint8
		pcesvn     uint16
		want       bool
	}{
		"matching level": {
			components: blobs.PCKTCBComponents,
			pcesvn:     blobs.PCKPCESVN,
			want:       true,
		},
		"newer components": {
			components: [16]uint8{15, 15, 3, 3, 3, 255, 13, 1},
			pcesvn:     14,
			want:       true,
		},
		"older component": {
			components: [16]uint8{14, 14, 2, 2, 2, 128, 11},
			pcesvn:     blobs.PCKPCESVN,
			want:       false,
		},
		"older PCESVN": {
			components: blobs.PCKTCBComponents,
			pcesvn:     blobs.PCKPCESVN - 1,
			want:       false,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			assert.Equal(tc.want, onChain.Accepts(tc.components, tc.pcesvn))
		})
	}
}

func TestEncodeCBORDeterministic(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	summary := EnclaveSummary{
		MREnclave: blobs.MREnclave,
		Status:    status.Ok,
		Timestamp: blobs.IASTimestampMillis,
		BuildMode: BuildModeDebug,
	}
	copy(summary.PubKey[:], blobs.ReportData[:32])

	first, err := EncodeCBOR(summary)
	require.NoError(err)
	second, err := EncodeCBOR(summary)
	require.NoError(err)
	assert.Equal(first, second)

	var decoded EnclaveSummary
	require.NoError(DecodeCBOR(first, &decoded))
	assert.Equal(summary, decoded)
}

func TestEncodeCBORQuotingEnclave(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	identity, err := ParseEnclaveIdentity(blobs.QEIdentityJSON)
	require.NoError(err)
	qe := identity.ToQuotingEnclave()

	encoded, err := EncodeCBOR(qe)
	require.NoError(err)

	var decoded QuotingEnclave
	require.NoError(DecodeCBOR(encoded, &decoded))
	assert.Equal(qe, decoded)
}

func TestNewEnclaveSummary(t *testing.T) {
	assert := assert.New(t)

	body := ReportBody{
		MRENCLAVE:  blobs.MREnclave,
		ReportData: blobs.ReportData,
		Attributes: Attributes{Flags: 0x07},
	}
	summary := NewEnclaveSummary(&body, status.GroupOutOfDate, 42)

	assert.Equal(blobs.MREnclave, summary.MREnclave)
	assert.Equal(blobs.ReportData[:32], summary.PubKey[:])
	assert.Equal(status.GroupOutOfDate, summary.Status)
	assert.EqualValues(42, summary.Timestamp)
	assert.Equal(BuildModeDebug, summary.BuildMode)
}

func TestValidationError(t *testing.T) {
	assert := assert.New(t)

	cause := errors.New("x509: certificate has expired")
	err := fmt.Errorf("verifying quote: %w", ErrInvalidCertChain.Wrap(cause))

	assert.ErrorIs(err, ErrInvalidCertChain)
	assert.ErrorIs(err, cause)
	assert.NotErrorIs(err, ErrBadSignature)

	var validationErr *ValidationError
	assert.True(errors.As(err, &validationErr))
	assert.Equal(KindCryptographic, validationErr.Kind)
	assert.Equal("Invalid certificate chain", validationErr.Error())
	assert.Equal("cryptographic", validationErr.Kind.String())
}
