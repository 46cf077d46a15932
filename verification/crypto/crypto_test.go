package crypto

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/asn1"
	"math/big"
	"strings"
	"testing"

	"github.com/edgelesssys/go-sgx-qvl/blobs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestRawToASN1(t *testing.T) {
	repeat := func(b byte) []byte { return bytes.Repeat([]byte{b}, 32) }
	leadingZeros := append(make([]byte, 31), 0x01)

	testCases := map[string]struct {
		r, s []byte
	}{
		"small values":        {r: leadingZeros, s: leadingZeros},
		"high bit set":        {r: repeat(0x80), s: repeat(0xFF)},
		"mixed":               {r: repeat(0x7F), s: repeat(0x80)},
		"zero":                {r: make([]byte, 32), s: repeat(0x01)},
		"leading zero byte r": {r: append([]byte{0x00}, repeat(0x90)[:31]...), s: repeat(0x42)},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			raw := append(append([]byte(nil), tc.r...), tc.s...)
			encoded, err := RawToASN1(raw)
			require.NoError(err)
			assert.LessOrEqual(len(encoded), 72)

			var parsed struct{ R, S *big.Int }
			rest, err := asn1.Unmarshal(encoded, &parsed)
			require.NoError(err)
			assert.Empty(rest)
			assert.Zero(new(big.Int).SetBytes(tc.r).Cmp(parsed.R))
			assert.Zero(new(big.Int).SetBytes(tc.s).Cmp(parsed.S))

			decoded, err := ASN1ToRaw(encoded)
			require.NoError(err)
			assert.Equal(raw, decoded[:])
		})
	}
}

func TestRawToASN1InvalidLength(t *testing.T) {
	assert := assert.New(t)

	_, err := RawToASN1(make([]byte, 63))
	assert.Error(err)
	_, err = RawToASN1(nil)
	assert.Error(err)
}

func TestASN1ToRawErrors(t *testing.T) {
	tooLarge, err := asn1.Marshal(struct{ R, S *big.Int }{R: new(big.Int).Lsh(big.NewInt(1), 256), S: big.NewInt(1)})
	require.NoError(t, err)
	negative, err := asn1.Marshal(struct{ R, S *big.Int }{R: big.NewInt(-1), S: big.NewInt(1)})
	require.NoError(t, err)

	testCases := map[string][]byte{
		"empty":          nil,
		"not a sequence": {0x02, 0x01, 0x01},
		"one integer":    {0x30, 0x03, 0x02, 0x01, 0x01},
		"trailing data":  {0x30, 0x06, 0x02, 0x01, 0x01, 0x02, 0x01, 0x01, 0x00},
		"too large":      tooLarge,
		"negative":       negative,
	}

	for name, signature := range testCases {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			_, err := ASN1ToRaw(signature)
			assert.Error(err)
		})
	}
}

func TestECDSASignatureForms(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(err)
	data := []byte("Hello from Edgeless Systems!")
	digest := sha256.Sum256(data)

	asn1Signature, err := ecdsa.SignASN1(rand.Reader, key, digest[:])
	require.NoError(err)
	rawSignature, err := ASN1ToRaw(asn1Signature)
	require.NoError(err)

	var rawKey [64]byte
	key.X.FillBytes(rawKey[:32])
	key.Y.FillBytes(rawKey[32:])
	publicKey, err := BuildECDSAPublicKey(rawKey)
	require.NoError(err)
	assert.True(publicKey.Equal(&key.PublicKey))

	assert.NoError(VerifyECDSASignature(publicKey, data, rawSignature[:]))
	assert.Error(VerifyECDSASignature(publicKey, []byte("Hello from somewhere else"), rawSignature[:]))
	assert.Error(VerifyECDSASignature(publicKey, data, rawSignature[:63]))

	reencoded, err := RawToASN1(rawSignature[:])
	require.NoError(err)
	assert.True(ecdsa.VerifyASN1(&key.PublicKey, digest[:], reencoded))
}

func TestBuildECDSAPublicKeyNotOnCurve(t *testing.T) {
	assert := assert.New(t)

	_, err := BuildECDSAPublicKey([64]byte{})
	assert.Error(err)

	var offCurve [64]byte
	offCurve[31] = 1
	offCurve[63] = 1
	_, err = BuildECDSAPublicKey(offCurve)
	assert.Error(err)
}

func TestExtractCertificates(t *testing.T) {
	pki, err := blobs.NewDCAPPKI()
	require.NoError(t, err)
	chain := pki.PCKChain()
	chainPEM := blobs.PEM(chain...)

	testCases := map[string]struct {
		input     []byte
		wantCerts int
	}{
		"PCK cert chain": {
			input:     append(append([]byte(nil), chainPEM...), 0x00),
			wantCerts: 3,
		},
		"CRLF line endings": {
			input:     []byte(strings.ReplaceAll(string(chainPEM), "\n", "\r\n")),
			wantCerts: 3,
		},
		"invalid UTF-8 between certificates": {
			input:     append(append(blobs.PEM(chain[0]), 0xff, 0xfe, 0x00), blobs.PEM(chain[1])...),
			wantCerts: 1,
		},
		"base64 without markers": {
			input:     []byte("dGVzdA=="),
			wantCerts: 1,
		},
		"garbage": {
			input:     []byte("not a certificate chain"),
			wantCerts: 0,
		},
		"empty": {
			input:     nil,
			wantCerts: 0,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			certs := ExtractCertificates(tc.input)
			assert.Len(certs, tc.wantCerts)
		})
	}
}

func TestExtractCertificatesKeepsOrder(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	pki, err := blobs.NewDCAPPKI()
	require.NoError(err)
	chain := pki.PCKChain()

	certs := ExtractCertificates(append(blobs.PEM(chain...), 0x00))
	require.Len(certs, 3)
	for i, cert := range chain {
		assert.Equal(cert.Raw, certs[i])
	}
}

func TestParsePEMCertificateChain(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	pki, err := blobs.NewDCAPPKI()
	require.NoError(err)

	certs, err := ParsePEMCertificateChain(pki.TCBIssuerChain())
	require.NoError(err)
	require.Len(certs, 2)
	assert.Equal(pki.TCBSigning.Raw, certs[0].Raw)
	assert.Equal(pki.Root.Raw, MustParsePEMCertificate(blobs.PEM(pki.Root)).Raw)

	assert.Panics(func() { MustParsePEMCertificate([]byte("no PEM")) })
}

func FuzzExtractCertificates(f *testing.F) {
	f.Add([]byte("-----BEGIN CERTIFICATE-----\nMIIB\n-----END CERTIFICATE-----\n\x00"))
	f.Fuzz(func(t *testing.T, a []byte) {
		assert := assert.New(t)
		assert.NotPanics(func() { _ = ExtractCertificates(a) })
	})
}

func FuzzASN1ToRaw(f *testing.F) {
	f.Fuzz(func(t *testing.T, a []byte) {
		assert := assert.New(t)
		assert.NotPanics(func() { _, _ = ASN1ToRaw(a) })
	})
}
