// sgx-verify verifies SGX remote attestation evidence and Intel PCS collateral.
//
// Usage:
//
//	sgx-verify [global flags] dcap --quote <file> --qe-identity <file> --issuer-chain <file> [--tcb-info <file>]
//	sgx-verify [global flags] ias --cert <file>
//	sgx-verify [global flags] tcb-info --tcb-info <file> --issuer-chain <file>
//	sgx-verify [global flags] qe-identity --qe-identity <file> --issuer-chain <file>
//	sgx-verify [global flags] crl --crl <file>
//	sgx-verify root-ca
package main

import (
	"bytes"
	"context"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/edgelesssys/go-sgx-qvl/verification/crypto"
	"github.com/edgelesssys/go-sgx-qvl/verification/pcs"
	"github.com/edgelesssys/go-sgx-qvl/verification/trust"
	"github.com/edgelesssys/go-sgx-qvl/verification/types"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"
	"k8s.io/utils/clock"
)

const (
	quoteFlag       = "quote"
	certFlag        = "cert"
	tcbInfoFlag     = "tcb-info"
	qeIdentityFlag  = "qe-identity"
	issuerChainFlag = "issuer-chain"
	crlFlag         = "crl"
)

const pemCertificateBoundary = "-----BEGIN CERTIFICATE-----"

var log = logrus.WithField("service", "sgx-verify")

func main() {
	a := &app{clock: clock.RealClock{}, out: os.Stdout}
	if err := a.command().Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

// app holds the dependencies of the commands.
type app struct {
	clock clock.PassiveClock
	out   io.Writer
}

func (a *app) command() *cli.Command {
	return &cli.Command{
		Name:  "sgx-verify",
		Usage: "Verify SGX DCAP quotes, IAS attestation reports and Intel PCS collateral",
		Flags: globalFlags(),
		Commands: []*cli.Command{
			{
				Name:  "dcap",
				Usage: "Verify a DCAP quote against a signed QE Identity (and optionally the platform TCB)",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: quoteFlag, Usage: "binary DCAP quote", Required: true},
					&cli.StringFlag{Name: qeIdentityFlag, Usage: "QE Identity response body of the PCS", Required: true},
					&cli.StringFlag{Name: issuerChainFlag, Usage: "issuer chain of the collateral, PEM or URL-escaped as in the PCS response header", Required: true},
					&cli.StringFlag{Name: tcbInfoFlag, Usage: "TCB Info response body of the PCS, enables the platform TCB check"},
				},
				Action: a.verifyDCAP,
			},
			{
				Name:  "ias",
				Usage: "Verify an IAS attestation certificate",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: certFlag, Usage: "attestation certificate, DER or PEM", Required: true},
				},
				Action: a.verifyIAS,
			},
			{
				Name:  "tcb-info",
				Usage: "Verify a signed TCB Info and print the accepted TCB levels",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: tcbInfoFlag, Usage: "TCB Info response body of the PCS", Required: true},
					&cli.StringFlag{Name: issuerChainFlag, Usage: "issuer chain of the TCB Info", Required: true},
				},
				Action: a.verifyTCBInfo,
			},
			{
				Name:  "qe-identity",
				Usage: "Verify a signed QE Identity and print the accepted Quoting Enclave identity",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: qeIdentityFlag, Usage: "QE Identity response body of the PCS", Required: true},
					&cli.StringFlag{Name: issuerChainFlag, Usage: "issuer chain of the QE Identity", Required: true},
				},
				Action: a.verifyQEIdentity,
			},
			{
				Name:  "crl",
				Usage: "Count the revoked certificates of a hex encoded PCK CRL",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: crlFlag, Usage: "hex encoded DER CRL", Required: true},
				},
				Action: a.parseCRL,
			},
			{
				Name:   "root-ca",
				Usage:  "Print the pinned Intel SGX Root CA certificate, suitable for --" + dcapRootCAFlag,
				Action: a.printRootCA,
			},
		},
	}
}

func (a *app) verifyDCAP(_ context.Context, cmd *cli.Command) error {
	config, err := getConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to get config: %w", err)
	}
	verifier, err := config.verifier()
	if err != nil {
		return err
	}
	timeMillis, err := a.verificationTime(cmd)
	if err != nil {
		return err
	}

	rawQuote, err := os.ReadFile(cmd.String(quoteFlag))
	if err != nil {
		return fmt.Errorf("reading quote: %w", err)
	}
	qeIdentity, err := os.ReadFile(cmd.String(qeIdentityFlag))
	if err != nil {
		return fmt.Errorf("reading QE Identity: %w", err)
	}
	issuerChain, err := readIssuerChain(cmd.String(issuerChainFlag))
	if err != nil {
		return err
	}

	collateral := pcs.New(verifier)
	qe, err := collateral.VerifyEnclaveIdentity(qeIdentity, issuerChain, timeMillis)
	if err != nil {
		return fmt.Errorf("verifying QE Identity: %w", err)
	}
	summary, err := verifier.VerifyDCAPQuote(rawQuote, timeMillis, qe)
	if err != nil {
		return fmt.Errorf("verifying DCAP quote: %w", err)
	}
	out := dcapJSON{Summary: newSummaryJSON(summary)}

	if cmd.IsSet(tcbInfoFlag) {
		tcbInfo, err := os.ReadFile(cmd.String(tcbInfoFlag))
		if err != nil {
			return fmt.Errorf("reading TCB Info: %w", err)
		}
		fmspc, onChain, err := collateral.VerifyTCBInfo(tcbInfo, issuerChain, timeMillis)
		if err != nil {
			return fmt.Errorf("verifying TCB Info: %w", err)
		}
		if err := checkPlatformTCB(rawQuote, fmspc, onChain); err != nil {
			return err
		}
		out.FMSPC = fmspc.String()
	}

	log.Infof("DCAP quote of enclave %x verified", summary.MREnclave)
	return a.write(config.Format, out, summary)
}

func (a *app) verifyIAS(_ context.Context, cmd *cli.Command) error {
	config, err := getConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to get config: %w", err)
	}
	verifier, err := config.verifier()
	if err != nil {
		return err
	}

	cert, err := os.ReadFile(cmd.String(certFlag))
	if err != nil {
		return fmt.Errorf("reading attestation certificate: %w", err)
	}
	if block, _ := pem.Decode(cert); block != nil {
		cert = block.Bytes
	}

	summary, err := verifier.VerifyIASReport(cert)
	if err != nil {
		return fmt.Errorf("verifying IAS report: %w", err)
	}

	log.Infof("IAS report of enclave %x verified with status %s", summary.MREnclave, summary.Status)
	return a.write(config.Format, newSummaryJSON(summary), summary)
}

func (a *app) verifyTCBInfo(_ context.Context, cmd *cli.Command) error {
	config, err := getConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to get config: %w", err)
	}
	verifier, err := config.verifier()
	if err != nil {
		return err
	}
	timeMillis, err := a.verificationTime(cmd)
	if err != nil {
		return err
	}

	tcbInfo, err := os.ReadFile(cmd.String(tcbInfoFlag))
	if err != nil {
		return fmt.Errorf("reading TCB Info: %w", err)
	}
	issuerChain, err := readIssuerChain(cmd.String(issuerChainFlag))
	if err != nil {
		return err
	}

	fmspc, onChain, err := pcs.New(verifier).VerifyTCBInfo(tcbInfo, issuerChain, timeMillis)
	if err != nil {
		return fmt.Errorf("verifying TCB Info: %w", err)
	}

	return a.write(config.Format, newTCBInfoJSON(fmspc, onChain), tcbInfoCBOR{FMSPC: fmspc, TCBInfo: onChain})
}

func (a *app) verifyQEIdentity(_ context.Context, cmd *cli.Command) error {
	config, err := getConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to get config: %w", err)
	}
	verifier, err := config.verifier()
	if err != nil {
		return err
	}
	timeMillis, err := a.verificationTime(cmd)
	if err != nil {
		return err
	}

	qeIdentity, err := os.ReadFile(cmd.String(qeIdentityFlag))
	if err != nil {
		return fmt.Errorf("reading QE Identity: %w", err)
	}
	issuerChain, err := readIssuerChain(cmd.String(issuerChainFlag))
	if err != nil {
		return err
	}

	qe, err := pcs.New(verifier).VerifyEnclaveIdentity(qeIdentity, issuerChain, timeMillis)
	if err != nil {
		return fmt.Errorf("verifying QE Identity: %w", err)
	}

	return a.write(config.Format, newQuotingEnclaveJSON(qe), qe)
}

func (a *app) parseCRL(_ context.Context, cmd *cli.Command) error {
	config, err := getConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to get config: %w", err)
	}

	crl, err := os.ReadFile(cmd.String(crlFlag))
	if err != nil {
		return fmt.Errorf("reading CRL: %w", err)
	}
	revoked, err := pcs.ParseCRL(bytes.TrimSpace(crl))
	if err != nil {
		return fmt.Errorf("parsing CRL: %w", err)
	}

	return a.write(config.Format, crlJSON{Revoked: revoked}, revoked)
}

func (a *app) printRootCA(_ context.Context, _ *cli.Command) error {
	_, err := a.out.Write(trust.IntelSGXRootCAPEM())
	return err
}

// verificationTime returns the time given by the time flag, or now, in Unix milliseconds.
func (a *app) verificationTime(cmd *cli.Command) (uint64, error) {
	now := a.clock.Now()
	if cmd.IsSet(timeFlag) {
		var err error
		if now, err = time.Parse(time.RFC3339, cmd.String(timeFlag)); err != nil {
			return 0, fmt.Errorf("parsing verification time: %w", err)
		}
	}
	if now.Before(time.Unix(0, 0)) {
		return 0, fmt.Errorf("verification time %s is before the Unix epoch", now)
	}
	log.Debugf("Verifying at %s", now.UTC().Format(time.RFC3339))
	return uint64(now.UnixMilli()), nil
}

// write prints the JSON view or the CBOR encoding of a result.
func (a *app) write(format string, jsonView, onChain any) error {
	var out []byte
	var err error
	if format == formatCBOR {
		out, err = types.EncodeCBOR(onChain)
	} else {
		out, err = json.MarshalIndent(jsonView, "", "  ")
		out = append(out, '\n')
	}
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	_, err = a.out.Write(out)
	return err
}

// readIssuerChain reads a certificate chain from a file.
// The file may hold PEM certificates or the URL-escaped form of a PCS response header.
func readIssuerChain(path string) ([]*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading issuer chain: %w", err)
	}
	data = bytes.TrimSpace(data)

	// The escaped header form also starts with dashes, but never with the full PEM boundary.
	var chain []*x509.Certificate
	if bytes.HasPrefix(data, []byte(pemCertificateBoundary)) {
		chain, err = crypto.ParsePEMCertificateChain(data)
	} else {
		chain, err = pcs.ParseIssuerChain(string(data))
	}
	if err != nil {
		return nil, fmt.Errorf("parsing issuer chain: %w", err)
	}
	if len(chain) == 0 {
		return nil, errors.New("issuer chain contains no certificates")
	}
	return chain, nil
}
