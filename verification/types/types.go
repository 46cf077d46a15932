/*
# SGX Attestation Data Types

This package contains data types and parsing functions used for SGX attestation,
as well as the JSON collateral types published by Intel's PCS and the
projections of that collateral which are kept by callers.

## DCAP Quote Format (version 3)

	All integers are little-endian. Offsets are relative to the start of the quote.

	        DCAPQuote                           ECDSA256QuoteSignature
	      ParseDCAPQuote                          parseQuoteSignature
	┌──────────────────────────┐ 0        ┌──────────────────────────────────────┐ 436
	│     DCAPQuoteHeader      │          │      ISVEnclaveReportSignature       │
	│        (48 bytes)        │          │         (64 bytes, r || s)           │
	├──────────────────────────┤ 48       ├──────────────────────────────────────┤ 500
	│                          │          │            AttestationKey            │
	│        ReportBody        │          │         (64 bytes, x || y)           │
	│       (384 bytes)        │          ├──────────────────────────────────────┤ 564
	│                          │          │                                      │
	├──────────────────────────┤ 432      │          QEReport (ReportBody)       │
	│   SignatureDataLength    │          │             (384 bytes)              │
	│        (4 bytes)         │          │                                      │
	├──────────────────────────┤ 436      ├──────────────────────────────────────┤ 948
	│                          │          │          QEReportSignature           │
	│        Signature         ├─────────►│         (64 bytes, r || s)           │
	│        (variable)        │          ├──────────────────────────────────────┤ 1012
	│                          │          │  QEAuthData                          │
	└──────────────────────────┘          │  ┌────────────────────────────────┐  │
	                                      │  │   ParsedDataSize (2 bytes)     │  │
	                                      │  ├────────────────────────────────┤  │
	                                      │  │   Data (variable, usually 32)  │  │
	                                      │  └────────────────────────────────┘  │
	                                      ├──────────────────────────────────────┤
	                                      │  CertificationData                   │
	                                      │  ┌────────────────────────────────┐  │
	                                      │  │   Type (2 bytes)               │  │
	                                      │  │   type == 5: PCK_ID_PCK_CERT_  │  │
	                                      │  │   CHAIN, PEM encoded, \0 ended │  │
	                                      │  ├────────────────────────────────┤  │
	                                      │  │   ParsedDataSize (4 bytes)     │  │
	                                      │  ├────────────────────────────────┤  │
	                                      │  │   Data (variable)              │  │
	                                      │  └────────────────────────────────┘  │
	                                      └──────────────────────────────────────┘

## EPID Quote Format (IAS)

	┌─────────┬──────────┬─────────────┬────────┬────────┬────────┬────────────┬────────────┐
	│ Version │ SignType │ EPIDGroupID │ QESVN  │ PCESVN │  XEID  │  Basename  │ ReportBody │
	│   (2)   │   (2)    │     (4)     │  (2)   │  (2)   │  (4)   │    (32)    │   (384)    │
	└─────────┴──────────┴─────────────┴────────┴────────┴────────┴────────────┴────────────┘
*/
package types
