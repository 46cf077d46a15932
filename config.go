package main

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/edgelesssys/go-sgx-qvl/verification"
	"github.com/edgelesssys/go-sgx-qvl/verification/crypto"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"
)

const (
	configFlag        = "config"
	logLevelFlag      = "log-level"
	formatFlag        = "format"
	timeFlag          = "time"
	iasRootCAFlag     = "ias-root-ca"
	dcapRootCAFlag    = "dcap-root-ca"
	iasValidUntilFlag = "ias-valid-until"

	formatJSON = "json"
	formatCBOR = "cbor"
)

var logLevels = map[string]logrus.Level{
	"panic": logrus.PanicLevel,
	"fatal": logrus.FatalLevel,
	"error": logrus.ErrorLevel,
	"warn":  logrus.WarnLevel,
	"info":  logrus.InfoLevel,
	"debug": logrus.DebugLevel,
	"trace": logrus.TraceLevel,
}

// Config is the configuration of sgx-verify.
// Values set on the command line take precedence over the configuration file.
type Config struct {
	// IASRootCA is the path to a PEM file with the trusted IAS Report Signing CA(s).
	IASRootCA string `json:"iasRootCA"`
	// DCAPRootCA is the path to a PEM file with the trusted SGX Root CA(s).
	DCAPRootCA string `json:"dcapRootCA"`
	// IASValidUntil is the RFC 3339 instant the IAS certificates are checked at.
	IASValidUntil string `json:"iasValidUntil"`
	LogLevel      string `json:"logLevel"`
	Format        string `json:"format"`
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  configFlag,
			Usage: "JSON configuration file",
		},
		&cli.StringFlag{
			Name:  logLevelFlag,
			Usage: fmt.Sprintf("set log level. Possible: %v", strings.Join(sortedLogLevels(), ",")),
		},
		&cli.StringFlag{
			Name:  formatFlag,
			Usage: "output format: json or cbor",
		},
		&cli.StringFlag{
			Name:  timeFlag,
			Usage: "verification time in RFC 3339 format (default: now)",
		},
		&cli.StringFlag{
			Name:  iasRootCAFlag,
			Usage: "PEM file with the trusted IAS Report Signing CA (default: Intel's)",
		},
		&cli.StringFlag{
			Name:  dcapRootCAFlag,
			Usage: "PEM file with the trusted SGX Root CA (default: Intel's)",
		},
		&cli.StringFlag{
			Name:  iasValidUntilFlag,
			Usage: "RFC 3339 instant at which IAS certificates must be valid",
		},
	}
}

func getConfig(cmd *cli.Command) (*Config, error) {
	c := &Config{}

	if cmd.IsSet(configFlag) {
		data, err := os.ReadFile(cmd.String(configFlag))
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := json.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("unmarshaling config file: %w", err)
		}
	}

	if cmd.IsSet(logLevelFlag) {
		c.LogLevel = cmd.String(logLevelFlag)
	}
	if cmd.IsSet(formatFlag) {
		c.Format = cmd.String(formatFlag)
	}
	if cmd.IsSet(iasRootCAFlag) {
		c.IASRootCA = cmd.String(iasRootCAFlag)
	}
	if cmd.IsSet(dcapRootCAFlag) {
		c.DCAPRootCA = cmd.String(dcapRootCAFlag)
	}
	if cmd.IsSet(iasValidUntilFlag) {
		c.IASValidUntil = cmd.String(iasValidUntilFlag)
	}

	if c.Format == "" {
		c.Format = formatJSON
	}
	if c.Format != formatJSON && c.Format != formatCBOR {
		return nil, fmt.Errorf("unknown output format %q", c.Format)
	}

	if c.LogLevel != "" {
		l, ok := logLevels[strings.ToLower(c.LogLevel)]
		if !ok {
			log.Warnf("LogLevel %v does not exist. Default to info level", c.LogLevel)
			l = logrus.InfoLevel
		}
		logrus.SetLevel(l)
	} else {
		logrus.SetLevel(logrus.InfoLevel)
	}

	printConfig(c)

	return c, nil
}

func printConfig(c *Config) {
	log.Debugf("Config")
	log.Debugf("\tIASRootCA     : %v", c.IASRootCA)
	log.Debugf("\tDCAPRootCA    : %v", c.DCAPRootCA)
	log.Debugf("\tIASValidUntil : %v", c.IASValidUntil)
	log.Debugf("\tLogLevel      : %v", c.LogLevel)
	log.Debugf("\tFormat        : %v", c.Format)
}

// verifier returns an SGX verifier with the configured trust anchors.
// Unset values fall back to Intel's pinned defaults.
func (c *Config) verifier() (*verification.SGXVerifier, error) {
	var cfg verification.Config
	var err error

	if c.IASRootCA != "" {
		if cfg.IASAnchors, err = loadTrustAnchors(c.IASRootCA); err != nil {
			return nil, fmt.Errorf("loading IAS root CA: %w", err)
		}
	}
	if c.DCAPRootCA != "" {
		if cfg.DCAPAnchors, err = loadTrustAnchors(c.DCAPRootCA); err != nil {
			return nil, fmt.Errorf("loading DCAP root CA: %w", err)
		}
	}
	if c.IASValidUntil != "" {
		if cfg.IASValidUntil, err = time.Parse(time.RFC3339, c.IASValidUntil); err != nil {
			return nil, fmt.Errorf("parsing IAS valid until: %w", err)
		}
	}

	return verification.NewWithConfig(cfg), nil
}

func loadTrustAnchors(path string) ([]crypto.TrustAnchor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	certs, err := crypto.ParsePEMCertificateChain(data)
	if err != nil {
		return nil, err
	}
	if len(certs) == 0 {
		return nil, fmt.Errorf("no certificates found in %s", path)
	}

	anchors := make([]crypto.TrustAnchor, 0, len(certs))
	for _, cert := range certs {
		anchor, err := crypto.TrustAnchorFromCertificate(cert)
		if err != nil {
			return nil, err
		}
		anchors = append(anchors, anchor)
	}
	return anchors, nil
}

func sortedLogLevels() []string {
	levels := make([]string, 0, len(logLevels))
	for level := range logLevels {
		levels = append(levels, level)
	}
	slices.Sort(levels)
	return levels
}
