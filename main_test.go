package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"math/big"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/edgelesssys/go-sgx-qvl/blobs"
	"github.com/edgelesssys/go-sgx-qvl/verification/crypto"
	"github.com/edgelesssys/go-sgx-qvl/verification/status"
	"github.com/edgelesssys/go-sgx-qvl/verification/trust"
	"github.com/edgelesssys/go-sgx-qvl/verification/types"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	testclock "k8s.io/utils/clock/testing"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// testFiles writes collateral and evidence of a test PKI to a temporary directory.
type testFiles struct {
	dir                string
	dcapRootCA         string
	iasRootCA          string
	quote              string
	qeIdentity         string
	tcbInfo            string
	issuerChain        string
	escapedIssuerChain string
	iasCert            string
	iasCertPEM         string
	crl                string
}

func newTestFiles(t *testing.T) testFiles {
	require := require.New(t)

	dcapPKI, err := blobs.NewDCAPPKI()
	require.NoError(err)
	iasPKI, err := blobs.NewIASPKI()
	require.NoError(err)

	f := testFiles{dir: t.TempDir()}
	write := func(name string, data []byte) string {
		path := filepath.Join(f.dir, name)
		require.NoError(os.WriteFile(path, data, 0o644))
		return path
	}

	quote, err := dcapPKI.NewQuote(blobs.QuoteOptions{})
	require.NoError(err)
	qeIdentity, err := dcapPKI.SignedCollateral("enclaveIdentity", blobs.QEIdentityJSON)
	require.NoError(err)
	tcbInfo, err := dcapPKI.SignedCollateral("tcbInfo", blobs.TCBInfoV2JSON)
	require.NoError(err)
	iasCert, err := iasPKI.AttestationCertificate(blobs.IASReportJSON("OK", blobs.EPIDQuote(false)))
	require.NoError(err)
	crl, err := dcapPKI.PCKCRL(big.NewInt(42))
	require.NoError(err)

	f.dcapRootCA = write("dcap_root_ca.pem", blobs.PEM(dcapPKI.Root))
	f.iasRootCA = write("ias_root_ca.pem", blobs.PEM(iasPKI.CA))
	f.quote = write("quote", quote)
	f.qeIdentity = write("qe_identity.json", qeIdentity)
	f.tcbInfo = write("tcb_info.json", tcbInfo)
	f.issuerChain = write("issuer_chain.pem", dcapPKI.TCBIssuerChain())
	f.escapedIssuerChain = write("issuer_chain.txt", []byte(url.QueryEscape(string(dcapPKI.TCBIssuerChain()))))
	f.iasCert = write("ias_cert.der", iasCert)
	f.iasCertPEM = write("ias_cert.pem", pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: iasCert}))
	f.crl = write("crl.hex", []byte(hex.EncodeToString(crl)+"\n"))

	// Collateral the platform of the generated quote does not match.
	otherFMSPC := bytes.Replace(blobs.TCBInfoV2JSON, []byte(`"fmspc":"00A065510000"`), []byte(`"fmspc":"00906EA10000"`), 1)
	tcbInfoOtherFMSPC, err := dcapPKI.SignedCollateral("tcbInfo", otherFMSPC)
	require.NoError(err)
	write("tcb_info_other_fmspc.json", tcbInfoOtherFMSPC)
	higherTCB := bytes.Replace(blobs.TCBInfoV2JSON, []byte(`"sgxtcbcomp07svn":12`), []byte(`"sgxtcbcomp07svn":13`), 1)
	tcbInfoHigherTCB, err := dcapPKI.SignedCollateral("tcbInfo", higherTCB)
	require.NoError(err)
	write("tcb_info_higher_tcb.json", tcbInfoHigherTCB)

	return f
}

func (f testFiles) path(name string) string {
	return filepath.Join(f.dir, name)
}

func run(clk *testclock.FakePassiveClock, args ...string) ([]byte, error) {
	var out bytes.Buffer
	a := &app{clock: clk, out: &out}
	err := a.command().Run(context.Background(), append([]string{"sgx-verify"}, args...))
	return out.Bytes(), err
}

func TestDCAP(t *testing.T) {
	f := newTestFiles(t)
	verificationMillis := uint64(blobs.VerificationTime.UnixMilli())

	testCases := map[string]struct {
		args      []string
		time      time.Time
		wantFMSPC string
		wantErr   bool
	}{
		"quote only": {
			args: []string{"--dcap-root-ca", f.dcapRootCA, "dcap", "--quote", f.quote, "--qe-identity", f.qeIdentity, "--issuer-chain", f.issuerChain},
			time: blobs.VerificationTime,
		},
		"with TCB check": {
			args:      []string{"--dcap-root-ca", f.dcapRootCA, "dcap", "--quote", f.quote, "--qe-identity", f.qeIdentity, "--issuer-chain", f.issuerChain, "--tcb-info", f.tcbInfo},
			time:      blobs.VerificationTime,
			wantFMSPC: "00A065510000",
		},
		"escaped issuer chain": {
			args: []string{"--dcap-root-ca", f.dcapRootCA, "dcap", "--quote", f.quote, "--qe-identity", f.qeIdentity, "--issuer-chain", f.escapedIssuerChain},
			time: blobs.VerificationTime,
		},
		"time flag": {
			args: []string{"--dcap-root-ca", f.dcapRootCA, "--time", "2023-06-25T00:00:00Z", "dcap", "--quote", f.quote, "--qe-identity", f.qeIdentity, "--issuer-chain", f.issuerChain},
			time: time.Date(2040, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		"Intel root": {
			args:    []string{"dcap", "--quote", f.quote, "--qe-identity", f.qeIdentity, "--issuer-chain", f.issuerChain},
			time:    blobs.VerificationTime,
			wantErr: true,
		},
		"QE Identity expired": {
			args:    []string{"--dcap-root-ca", f.dcapRootCA, "dcap", "--quote", f.quote, "--qe-identity", f.qeIdentity, "--issuer-chain", f.issuerChain},
			time:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			wantErr: true,
		},
		"QE Identity is TCB Info": {
			args:    []string{"--dcap-root-ca", f.dcapRootCA, "dcap", "--quote", f.quote, "--qe-identity", f.tcbInfo, "--issuer-chain", f.issuerChain},
			time:    blobs.VerificationTime,
			wantErr: true,
		},
		"TCB Info for other FMSPC": {
			args:    []string{"--dcap-root-ca", f.dcapRootCA, "dcap", "--quote", f.quote, "--qe-identity", f.qeIdentity, "--issuer-chain", f.issuerChain, "--tcb-info", f.path("tcb_info_other_fmspc.json")},
			time:    blobs.VerificationTime,
			wantErr: true,
		},
		"platform TCB not accepted": {
			args:    []string{"--dcap-root-ca", f.dcapRootCA, "dcap", "--quote", f.quote, "--qe-identity", f.qeIdentity, "--issuer-chain", f.issuerChain, "--tcb-info", f.path("tcb_info_higher_tcb.json")},
			time:    blobs.VerificationTime,
			wantErr: true,
		},
		"quote missing": {
			args:    []string{"--dcap-root-ca", f.dcapRootCA, "dcap", "--quote", f.path("missing"), "--qe-identity", f.qeIdentity, "--issuer-chain", f.issuerChain},
			time:    blobs.VerificationTime,
			wantErr: true,
		},
		"quote is not a quote": {
			args:    []string{"--dcap-root-ca", f.dcapRootCA, "dcap", "--quote", f.crl, "--qe-identity", f.qeIdentity, "--issuer-chain", f.issuerChain},
			time:    blobs.VerificationTime,
			wantErr: true,
		},
		"issuer chain flag missing": {
			args:    []string{"--dcap-root-ca", f.dcapRootCA, "dcap", "--quote", f.quote, "--qe-identity", f.qeIdentity},
			time:    blobs.VerificationTime,
			wantErr: true,
		},
		"issuer chain empty": {
			args:    []string{"--dcap-root-ca", f.dcapRootCA, "dcap", "--quote", f.quote, "--qe-identity", f.qeIdentity, "--issuer-chain", f.crl},
			time:    blobs.VerificationTime,
			wantErr: true,
		},
		"time before epoch": {
			args:    []string{"--dcap-root-ca", f.dcapRootCA, "--time", "1960-01-01T00:00:00Z", "dcap", "--quote", f.quote, "--qe-identity", f.qeIdentity, "--issuer-chain", f.issuerChain},
			time:    blobs.VerificationTime,
			wantErr: true,
		},
		"time not RFC 3339": {
			args:    []string{"--dcap-root-ca", f.dcapRootCA, "--time", "yesterday", "dcap", "--quote", f.quote, "--qe-identity", f.qeIdentity, "--issuer-chain", f.issuerChain},
			time:    blobs.VerificationTime,
			wantErr: true,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			out, err := run(testclock.NewFakePassiveClock(tc.time), tc.args...)
			if tc.wantErr {
				assert.Error(err)
				return
			}
			require.NoError(err)

			var result dcapJSON
			require.NoError(json.Unmarshal(out, &result))
			assert.Equal(hex.EncodeToString(blobs.MREnclave[:]), result.Summary.MREnclave)
			assert.Equal(hex.EncodeToString(blobs.ReportData[:32]), result.Summary.PubKey)
			assert.Equal("Ok", result.Summary.Status)
			assert.Equal("Production", result.Summary.BuildMode)
			assert.Equal(verificationMillis, result.Summary.Timestamp)
			assert.Equal(tc.wantFMSPC, result.FMSPC)
		})
	}
}

func TestDCAPCBOR(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	f := newTestFiles(t)

	out, err := run(testclock.NewFakePassiveClock(blobs.VerificationTime),
		"--dcap-root-ca", f.dcapRootCA, "--format", "cbor",
		"dcap", "--quote", f.quote, "--qe-identity", f.qeIdentity, "--issuer-chain", f.issuerChain,
	)
	require.NoError(err)

	var summary types.EnclaveSummary
	require.NoError(types.DecodeCBOR(out, &summary))
	assert.Equal(blobs.MREnclave, summary.MREnclave)
	assert.Equal(status.Ok, summary.Status)
	assert.Equal(uint64(blobs.VerificationTime.UnixMilli()), summary.Timestamp)

	encoded, err := types.EncodeCBOR(summary)
	require.NoError(err)
	assert.Equal(encoded, out)
}

func TestIAS(t *testing.T) {
	f := newTestFiles(t)

	testCases := map[string]struct {
		args    []string
		wantErr bool
	}{
		"DER": {
			args: []string{"--ias-root-ca", f.iasRootCA, "ias", "--cert", f.iasCert},
		},
		"PEM": {
			args: []string{"--ias-root-ca", f.iasRootCA, "ias", "--cert", f.iasCertPEM},
		},
		"valid until within signing certificate validity": {
			args: []string{"--ias-root-ca", f.iasRootCA, "--ias-valid-until", "2025-01-01T00:00:00Z", "ias", "--cert", f.iasCert},
		},
		"valid until after signing certificate expiry": {
			args:    []string{"--ias-root-ca", f.iasRootCA, "--ias-valid-until", "2030-01-01T00:00:00Z", "ias", "--cert", f.iasCert},
			wantErr: true,
		},
		"valid until not RFC 3339": {
			args:    []string{"--ias-root-ca", f.iasRootCA, "--ias-valid-until", "2030", "ias", "--cert", f.iasCert},
			wantErr: true,
		},
		"Intel IAS CA": {
			args:    []string{"ias", "--cert", f.iasCert},
			wantErr: true,
		},
		"root CA file without certificates": {
			args:    []string{"--ias-root-ca", f.crl, "ias", "--cert", f.iasCert},
			wantErr: true,
		},
		"root CA file missing": {
			args:    []string{"--ias-root-ca", f.path("missing"), "ias", "--cert", f.iasCert},
			wantErr: true,
		},
		"not a certificate": {
			args:    []string{"--ias-root-ca", f.iasRootCA, "ias", "--cert", f.quote},
			wantErr: true,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			out, err := run(testclock.NewFakePassiveClock(blobs.VerificationTime), tc.args...)
			if tc.wantErr {
				assert.Error(err)
				return
			}
			require.NoError(err)

			var result summaryJSON
			require.NoError(json.Unmarshal(out, &result))
			assert.Equal(hex.EncodeToString(blobs.MREnclave[:]), result.MREnclave)
			assert.Equal("Ok", result.Status)
			assert.Equal(uint64(blobs.IASTimestampMillis), result.Timestamp)
		})
	}
}

func TestTCBInfo(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	f := newTestFiles(t)
	clk := testclock.NewFakePassiveClock(blobs.VerificationTime)

	out, err := run(clk, "--dcap-root-ca", f.dcapRootCA, "tcb-info", "--tcb-info", f.tcbInfo, "--issuer-chain", f.escapedIssuerChain)
	require.NoError(err)

	var result tcbInfoJSON
	require.NoError(json.Unmarshal(out, &result))
	assert.Equal("00A065510000", result.FMSPC)
	assert.Equal(uint64(blobs.CollateralIssueDate.UnixMilli()), result.IssueDate)
	require.Len(result.TCBLevels, 1)
	assert.Equal(blobs.PCKTCBComponents, result.TCBLevels[0].SGXTCBComponents)
	assert.Equal(blobs.PCKPCESVN, result.TCBLevels[0].PCESVN)

	out, err = run(clk, "--dcap-root-ca", f.dcapRootCA, "--format", "cbor", "tcb-info", "--tcb-info", f.tcbInfo, "--issuer-chain", f.issuerChain)
	require.NoError(err)
	var onChain tcbInfoCBOR
	require.NoError(types.DecodeCBOR(out, &onChain))
	assert.Equal(types.FMSPC(blobs.PCKFMSPC), onChain.FMSPC)
	assert.Len(onChain.TCBInfo.TCBLevels, 1)

	_, err = run(clk, "--dcap-root-ca", f.dcapRootCA, "tcb-info", "--tcb-info", f.qeIdentity, "--issuer-chain", f.issuerChain)
	assert.Error(err)
}

func TestQEIdentity(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	f := newTestFiles(t)

	config, err := json.Marshal(Config{DCAPRootCA: f.dcapRootCA, LogLevel: "debug"})
	require.NoError(err)
	configPath := filepath.Join(f.dir, "config.json")
	require.NoError(os.WriteFile(configPath, config, 0o644))

	out, err := run(testclock.NewFakePassiveClock(blobs.VerificationTime), "--config", configPath, "qe-identity", "--qe-identity", f.qeIdentity, "--issuer-chain", f.issuerChain)
	require.NoError(err)

	var result quotingEnclaveJSON
	require.NoError(json.Unmarshal(out, &result))
	assert.Equal(hex.EncodeToString(blobs.QEMRSigner[:]), result.MRSigner)
	assert.Equal([]uint16{8}, result.ISVSVNs)
	assert.Equal(uint16(1), result.ISVProdID)
}

func TestCRL(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	f := newTestFiles(t)
	clk := testclock.NewFakePassiveClock(blobs.VerificationTime)

	out, err := run(clk, "crl", "--crl", f.crl)
	require.NoError(err)
	var result crlJSON
	require.NoError(json.Unmarshal(out, &result))
	assert.Equal(1, result.Revoked)

	_, err = run(clk, "crl", "--crl", f.quote)
	assert.Error(err)
}

func TestGetConfig(t *testing.T) {
	f := newTestFiles(t)
	writeConfig := func(t *testing.T, config string) string {
		path := filepath.Join(t.TempDir(), "config.json")
		require.NoError(t, os.WriteFile(path, []byte(config), 0o644))
		return path
	}

	testCases := map[string]struct {
		config    string
		args      []string
		wantLevel logrus.Level
		wantErr   bool
	}{
		"defaults": {
			wantLevel: logrus.InfoLevel,
		},
		"log level from config": {
			config:    `{"logLevel":"trace"}`,
			wantLevel: logrus.TraceLevel,
		},
		"flag overrides config": {
			config:    `{"logLevel":"trace"}`,
			args:      []string{"--log-level", "warn"},
			wantLevel: logrus.WarnLevel,
		},
		"unknown log level": {
			args:      []string{"--log-level", "verbose"},
			wantLevel: logrus.InfoLevel,
		},
		"config not JSON": {
			config:  `logLevel: trace`,
			wantErr: true,
		},
		"unknown format": {
			config:  `{"format":"yaml"}`,
			wantErr: true,
		},
		"format flag overrides config": {
			config:    `{"format":"yaml"}`,
			args:      []string{"--format", "json"},
			wantLevel: logrus.InfoLevel,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			args := tc.args
			if tc.config != "" {
				args = append([]string{"--config", writeConfig(t, tc.config)}, args...)
			}
			args = append(args, "crl", "--crl", f.crl)

			_, err := run(testclock.NewFakePassiveClock(blobs.VerificationTime), args...)
			if tc.wantErr {
				assert.Error(err)
				return
			}
			assert.NoError(err)
			assert.Equal(tc.wantLevel, logrus.GetLevel())
		})
	}
}

func TestReadIssuerChain(t *testing.T) {
	pki, err := blobs.NewDCAPPKI()
	require.NoError(t, err)
	chainPEM := pki.TCBIssuerChain()

	testCases := map[string]struct {
		data    []byte
		wantErr bool
	}{
		"PEM": {
			data: chainPEM,
		},
		"PEM with surrounding whitespace": {
			data: append(append([]byte("\n  "), chainPEM...), '\n'),
		},
		"header escaped with %20": {
			data: []byte(strings.ReplaceAll(url.QueryEscape(string(chainPEM)), "+", "%20")),
		},
		"header escaped with +": {
			data: []byte(url.QueryEscape(string(chainPEM))),
		},
		"header with trailing newline": {
			data: []byte(url.QueryEscape(string(chainPEM)) + "\n"),
		},
		"invalid escape": {
			data:    []byte("-----BEGIN%ZZ"),
			wantErr: true,
		},
		"no certificates": {
			data:    []byte("-----BEGIN%20PRIVATE%20KEY-----"),
			wantErr: true,
		},
		"empty": {
			wantErr: true,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			path := filepath.Join(t.TempDir(), "issuer_chain")
			require.NoError(os.WriteFile(path, tc.data, 0o644))

			chain, err := readIssuerChain(path)
			if tc.wantErr {
				assert.Error(err)
				return
			}
			require.NoError(err)
			require.Len(chain, 2)
			assert.Equal(pki.TCBSigning.Raw, chain[0].Raw)
			assert.Equal(pki.Root.Raw, chain[1].Raw)
		})
	}
}

func TestRootCA(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	f := newTestFiles(t)
	clk := testclock.NewFakePassiveClock(blobs.VerificationTime)

	out, err := run(clk, "root-ca")
	require.NoError(err)

	certs, err := crypto.ParsePEMCertificateChain(out)
	require.NoError(err)
	require.Len(certs, 1)
	anchor, err := crypto.TrustAnchorFromCertificate(certs[0])
	require.NoError(err)
	assert.Equal(trust.IntelSGXRootCA(), anchor)

	// The printed certificate is accepted as trust anchor, but does not anchor the test PKI.
	rootCA := filepath.Join(f.dir, "intel_sgx_root_ca.pem")
	require.NoError(os.WriteFile(rootCA, out, 0o644))
	_, err = run(clk, "--dcap-root-ca", rootCA, "tcb-info", "--tcb-info", f.tcbInfo, "--issuer-chain", f.issuerChain)
	assert.ErrorIs(err, types.ErrInvalidCertChain)
}
