// generate writes a synthetic DCAP quote together with signed collateral and the
// test root CA it chains up to, for use with sgx-verify.
package main

import (
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/edgelesssys/go-sgx-qvl/blobs"
)

func main() {
	dir := "."
	if len(os.Args) > 1 {
		dir = os.Args[1]
	}
	if err := generate(dir); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func generate(dir string) error {
	pki, err := blobs.NewDCAPPKI()
	if err != nil {
		return err
	}

	quote, err := pki.NewQuote(blobs.QuoteOptions{})
	if err != nil {
		return err
	}
	tcbInfo, err := pki.SignedCollateral("tcbInfo", blobs.TCBInfoV2JSON)
	if err != nil {
		return err
	}
	qeIdentity, err := pki.SignedCollateral("enclaveIdentity", blobs.QEIdentityJSON)
	if err != nil {
		return err
	}
	crl, err := pki.PCKCRL()
	if err != nil {
		return err
	}

	files := map[string][]byte{
		"quote":            quote,
		"tcb_info.json":    tcbInfo,
		"qe_identity.json": qeIdentity,
		"issuer_chain.pem": pki.TCBIssuerChain(),
		"root_ca.pem":      blobs.PEM(pki.Root),
		"pck_crl.hex":      []byte(hex.EncodeToString(crl)),
	}
	for name, data := range files {
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			return err
		}
	}
	log.Printf("Successfully written test collateral, verify at %s", blobs.VerificationTime.Format("2006-01-02T15:04:05Z07:00"))

	return nil
}
