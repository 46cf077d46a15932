// Package status holds the status values reported for SGX attestations and TCB levels.
package status

// SGXStatus is the attestation status of an enclave.
type SGXStatus uint8

const (
	// Invalid is used for any quote status that is not understood.
	Invalid SGXStatus = iota
	// Ok indicates the attestation is fully trusted.
	Ok
	// GroupOutOfDate indicates the EPID group of the platform is out of date.
	GroupOutOfDate
	// GroupRevoked indicates the EPID group of the platform has been revoked.
	GroupRevoked
	// ConfigurationNeeded indicates the platform requires additional configuration.
	ConfigurationNeeded
)

// ParseQuoteStatus maps the isvEnclaveQuoteStatus of an IAS attestation report to an SGXStatus.
func ParseQuoteStatus(s string) SGXStatus {
	switch s {
	case "OK":
		return Ok
	case "GROUP_OUT_OF_DATE":
		return GroupOutOfDate
	case "GROUP_REVOKED":
		return GroupRevoked
	case "CONFIGURATION_NEEDED":
		return ConfigurationNeeded
	default:
		return Invalid
	}
}

func (s SGXStatus) String() string {
	switch s {
	case Ok:
		return "Ok"
	case GroupOutOfDate:
		return "GroupOutOfDate"
	case GroupRevoked:
		return "GroupRevoked"
	case ConfigurationNeeded:
		return "ConfigurationNeeded"
	default:
		return "Invalid"
	}
}

// TCBStatus is the status of a TCB level as reported in Intel's collateral.
type TCBStatus string

const (
	TCBUpToDate                          TCBStatus = "UpToDate"
	TCBSWHardeningNeeded                 TCBStatus = "SWHardeningNeeded"
	TCBConfigurationNeeded               TCBStatus = "ConfigurationNeeded"
	TCBConfigurationAndSWHardeningNeeded TCBStatus = "ConfigurationAndSWHardeningNeeded"
	TCBOutOfDate                         TCBStatus = "OutOfDate"
	TCBOutOfDateConfigurationNeeded      TCBStatus = "OutOfDateConfigurationNeeded"
	TCBRevoked                           TCBStatus = "Revoked"
)

// Acceptable reports whether a platform at this TCB level is trusted.
// ConfigurationAndSWHardeningNeeded is not accepted.
func (s TCBStatus) Acceptable() bool {
	return s == TCBUpToDate || s == TCBSWHardeningNeeded
}
