package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/edgelesssys/go-sgx-qvl/verification/types"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s <quote>\n", os.Args[0])
		os.Exit(1)
	}
	if err := parseBlob(os.Args[1]); err != nil {
		panic(err)
	}
}

func parseBlob(path string) error {
	rawQuote, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	parsedQuote, consumed, err := types.DecodeDCAPQuote(rawQuote)
	if err != nil {
		return err
	}
	if consumed != len(rawQuote) {
		fmt.Fprintf(os.Stderr, "Warning: %d trailing bytes after quote\n", len(rawQuote)-consumed)
	}

	prettyPrint, err := json.MarshalIndent(parsedQuote, "", " ")
	if err != nil {
		return err
	}

	fmt.Println(string(prettyPrint))

	return nil
}
