package types

import (
	"crypto/x509"
	"encoding/asn1"
	"errors"
	"fmt"

	"golang.org/x/crypto/cryptobyte"
	cryptobyte_asn1 "golang.org/x/crypto/cryptobyte/asn1"
)

// SGXExtensionOID is the OID of Intel's custom x509 SGX extension found in PCK certificates.
var SGXExtensionOID = asn1.ObjectIdentifier{1, 2, 840, 113741, 1, 13, 1}

// Arcs of the SGX extension entries, relative to SGXExtensionOID.
const (
	sgxExtPPID    = 1
	sgxExtTCB     = 2
	sgxExtPCEID   = 3
	sgxExtFMSPC   = 4
	sgxExtSGXType = 5

	// TCB entries 1-16 are the SGX TCB components.
	sgxExtTCBPCESVN = 17
	sgxExtTCBCPUSVN = 18
)

// PCKExtensions are the SGX extensions of a PCK certificate.
type PCKExtensions struct {
	PPID             [16]byte
	SGXTCBComponents [16]uint8
	PCESVN           uint16
	CPUSVN           [16]byte
	PCEID            [2]byte
	FMSPC            FMSPC
	SGXType          int // 0 standard, 1 scalable
}

// ParsePCKExtensions parses the SGX extensions of a PCK certificate.
// Entries this package does not know about are skipped.
func ParsePCKExtensions(pckCert *x509.Certificate) (PCKExtensions, error) {
	var sgxExtension []byte
	for _, ext := range pckCert.Extensions {
		if ext.Id.Equal(SGXExtensionOID) {
			sgxExtension = ext.Value
			break
		}
	}
	if len(sgxExtension) == 0 {
		return PCKExtensions{}, errors.New("no SGX extension found in certificate")
	}

	input := cryptobyte.String(sgxExtension)
	var entries cryptobyte.String
	if !input.ReadASN1(&entries, cryptobyte_asn1.SEQUENCE) || !input.Empty() {
		return PCKExtensions{}, errors.New("malformed SGX extension")
	}

	var ext PCKExtensions
	var seen [sgxExtSGXType + 1]bool
	for !entries.Empty() {
		arc, value, err := readSGXEntry(&entries)
		if err != nil {
			return PCKExtensions{}, err
		}

		switch arc {
		case sgxExtPPID:
			err = readFixedOctetString(&value, ext.PPID[:])
		case sgxExtTCB:
			err = parseTCBEntry(&value, &ext)
		case sgxExtPCEID:
			err = readFixedOctetString(&value, ext.PCEID[:])
		case sgxExtFMSPC:
			err = readFixedOctetString(&value, ext.FMSPC[:])
		case sgxExtSGXType:
			if !value.ReadASN1Enum(&ext.SGXType) {
				err = errors.New("malformed SGX type")
			}
		default:
			continue
		}
		if err != nil {
			return PCKExtensions{}, fmt.Errorf("parsing SGX extension entry %d: %w", arc, err)
		}
		seen[arc] = true
	}

	for arc := sgxExtPPID; arc <= sgxExtSGXType; arc++ {
		if !seen[arc] {
			return PCKExtensions{}, fmt.Errorf("SGX extension entry %d is missing", arc)
		}
	}
	return ext, nil
}

// parseTCBEntry parses the TCB entry of the SGX extension: 16 component SVNs, the PCESVN, and the CPUSVN.
func parseTCBEntry(value *cryptobyte.String, ext *PCKExtensions) error {
	var components cryptobyte.String
	if !value.ReadASN1(&components, cryptobyte_asn1.SEQUENCE) {
		return errors.New("malformed TCB")
	}

	for !components.Empty() {
		arc, component, err := readSGXEntry(&components)
		if err != nil {
			return err
		}

		switch {
		case arc >= 1 && arc <= 16:
			var svn uint8
			if !component.ReadASN1Integer(&svn) {
				return fmt.Errorf("malformed TCB component %d", arc)
			}
			ext.SGXTCBComponents[arc-1] = svn
		case arc == sgxExtTCBPCESVN:
			if !component.ReadASN1Integer(&ext.PCESVN) {
				return errors.New("malformed PCESVN")
			}
		case arc == sgxExtTCBCPUSVN:
			if err := readFixedOctetString(&component, ext.CPUSVN[:]); err != nil {
				return fmt.Errorf("reading CPUSVN: %w", err)
			}
		}
	}
	return nil
}

// readSGXEntry reads a SEQUENCE { OBJECT IDENTIFIER, value } and returns the last arc of the OID.
func readSGXEntry(s *cryptobyte.String) (int, cryptobyte.String, error) {
	var entry cryptobyte.String
	var oid asn1.ObjectIdentifier
	if !s.ReadASN1(&entry, cryptobyte_asn1.SEQUENCE) || !entry.ReadASN1ObjectIdentifier(&oid) {
		return 0, nil, errors.New("malformed SGX extension entry")
	}
	if len(oid) <= len(SGXExtensionOID) || !asn1.ObjectIdentifier(oid[:len(SGXExtensionOID)]).Equal(SGXExtensionOID) {
		return 0, nil, fmt.Errorf("unexpected OID %s in SGX extension", oid)
	}
	return oid[len(oid)-1], entry, nil
}

func readFixedOctetString(s *cryptobyte.String, out []byte) error {
	var value cryptobyte.String
	if !s.ReadASN1(&value, cryptobyte_asn1.OCTET_STRING) {
		return errors.New("expected OCTET STRING")
	}
	if len(value) != len(out) {
		return fmt.Errorf("invalid length: expected %d bytes, got %d", len(out), len(value))
	}
	copy(out, value)
	return nil
}
