// verify verifies the quote and collateral written by testing/generate.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/edgelesssys/go-sgx-qvl/blobs"
	"github.com/edgelesssys/go-sgx-qvl/verification"
	"github.com/edgelesssys/go-sgx-qvl/verification/crypto"
	"github.com/edgelesssys/go-sgx-qvl/verification/pcs"
)

func main() {
	dir := "."
	if len(os.Args) > 1 {
		dir = os.Args[1]
	}
	if err := testVerify(dir); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func testVerify(dir string) error {
	read := func(name string) ([]byte, error) {
		return os.ReadFile(filepath.Join(dir, name))
	}

	rootPEM, err := read("root_ca.pem")
	if err != nil {
		return err
	}
	anchor, err := crypto.TrustAnchorFromCertificate(crypto.MustParsePEMCertificate(rootPEM))
	if err != nil {
		return err
	}
	issuerChainPEM, err := read("issuer_chain.pem")
	if err != nil {
		return err
	}
	issuerChain, err := crypto.ParsePEMCertificateChain(issuerChainPEM)
	if err != nil {
		return err
	}
	qeIdentity, err := read("qe_identity.json")
	if err != nil {
		return err
	}
	quote, err := read("quote")
	if err != nil {
		return err
	}

	timeMillis := uint64(blobs.VerificationTime.UnixMilli())
	verifier := verification.NewWithConfig(verification.Config{DCAPAnchors: []crypto.TrustAnchor{anchor}})
	qe, err := pcs.New(verifier).VerifyEnclaveIdentity(qeIdentity, issuerChain, timeMillis)
	if err != nil {
		return err
	}
	summary, err := verifier.VerifyDCAPQuote(quote, timeMillis, qe)
	if err != nil {
		return err
	}

	fmt.Printf("Verified enclave %x (%s)\n", summary.MREnclave, summary.BuildMode)
	return nil
}
