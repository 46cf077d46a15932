package verification

import (
	"crypto/x509"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/edgelesssys/go-sgx-qvl/blobs"
	"github.com/edgelesssys/go-sgx-qvl/verification/crypto"
	"github.com/edgelesssys/go-sgx-qvl/verification/trust"
	"github.com/edgelesssys/go-sgx-qvl/verification/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestNewUsesPinnedDefaults(t *testing.T) {
	assert := assert.New(t)

	verifier := New()
	assert.Equal([]crypto.TrustAnchor{trust.IntelSGXRootCA()}, verifier.dcapAnchors)
	assert.Equal([]crypto.TrustAnchor{trust.IASReportSigningCA()}, verifier.iasAnchors)
	assert.True(trust.DefaultIASValidUntil.Equal(verifier.iasValidUntil))

	validUntil := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	verifier = NewWithConfig(Config{IASValidUntil: validUntil})
	assert.True(validUntil.Equal(verifier.iasValidUntil))
	assert.Equal([]crypto.TrustAnchor{trust.IntelSGXRootCA()}, verifier.dcapAnchors)
}

func TestMillisToTime(t *testing.T) {
	assert := assert.New(t)
	assert.Equal(time.Unix(1687651200, 0).UTC(), millisToTime(1687651200999))
	assert.Equal(time.Unix(0, 0).UTC(), millisToTime(999))
}

func TestVerifyCertificateChain(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	pki, verifier, _ := setupDCAP(require)

	assert.NoError(verifier.VerifyCertificateChain(pki.PCK, []*x509.Certificate{pki.PlatformCA, pki.Root}, verificationMillis))
	assert.NoError(verifier.VerifyCertificateChain(pki.TCBSigning, []*x509.Certificate{pki.Root}, verificationMillis))
	assert.Error(verifier.VerifyCertificateChain(pki.PCK, []*x509.Certificate{pki.Root}, verificationMillis))
	assert.Error(New().VerifyCertificateChain(pki.PCK, []*x509.Certificate{pki.PlatformCA, pki.Root}, verificationMillis))
}

// setupDCAP returns a test PKI, a verifier trusting its root, and the expected QE identity.
func setupDCAP(require *require.Assertions) (*blobs.DCAPPKI, *SGXVerifier, types.QuotingEnclave) {
	pki, err := blobs.NewDCAPPKI()
	require.NoError(err)
	anchor, err := crypto.TrustAnchorFromCertificate(pki.Root)
	require.NoError(err)
	identity, err := types.ParseEnclaveIdentity(blobs.QEIdentityJSON)
	require.NoError(err)

	verifier := NewWithConfig(Config{DCAPAnchors: []crypto.TrustAnchor{anchor}})
	return pki, verifier, identity.ToQuotingEnclave()
}

// setupIAS returns a test IAS PKI and a verifier trusting its CA.
func setupIAS(require *require.Assertions) (*blobs.IASPKI, *SGXVerifier) {
	pki, err := blobs.NewIASPKI()
	require.NoError(err)
	anchor, err := crypto.TrustAnchorFromCertificate(pki.CA)
	require.NoError(err)

	return pki, NewWithConfig(Config{IASAnchors: []crypto.TrustAnchor{anchor}})
}

func assertValidationError(assert *assert.Assertions, err error, want *types.ValidationError) {
	assert.ErrorIs(err, want)
	var validationErr *types.ValidationError
	if assert.True(errors.As(err, &validationErr)) {
		assert.Equal(want.Error(), validationErr.Error())
		assert.Equal(want.Kind, validationErr.Kind)
	}
}

func putUint16(quote []byte, offset int, value uint16) []byte {
	binary.LittleEndian.PutUint16(quote[offset:offset+2], value)
	return quote
}

func flipByte(quote []byte, offset int) []byte {
	quote[offset] ^= 0x01
	return quote
}
