// Package credentials builds the client TLS configuration used to
// authenticate against the push gateway.
package credentials

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/sideshow/apns2/certificate"
)

var (
	ErrMissingCertificate = errors.New("no client certificate was provided")
	ErrInsecureVersion    = errors.New("tls versions below 1.2 are not allowed")
)

type config struct {
	certPath string
	keyPath  string
	certPEM  string
	keyPEM   string
	p12Path  string
	password string

	minVersion uint16
}

type Option func(*config)

// WithCertificateFiles loads a PEM certificate and its private key. Both may
// live in the same file.
func WithCertificateFiles(certPath, keyPath string) Option {
	return func(c *config) {
		c.certPath = certPath
		c.keyPath = keyPath
	}
}

func WithCertificatePEM(cert, key string) Option {
	return func(c *config) {
		c.certPEM = cert
		c.keyPEM = key
	}
}

// WithPKCS12File loads a certificate exported from Keychain as .p12.
func WithPKCS12File(path string) Option {
	return func(c *config) {
		c.p12Path = path
	}
}

// WithPassword decrypts an encrypted private key or .p12 bundle.
func WithPassword(password string) Option {
	return func(c *config) {
		c.password = password
	}
}

func WithMinVersion(version uint16) Option {
	return func(c *config) {
		c.minVersion = version
	}
}

// NewTLSConfig returns a client TLS configuration that presents the given
// certificate and negotiates HTTP/2.
func NewTLSConfig(opts ...Option) (*tls.Config, error) {
	c := &config{minVersion: tls.VersionTLS12}
	for _, opt := range opts {
		opt(c)
	}
	if c.minVersion == 0 {
		c.minVersion = tls.VersionTLS12
	}

	if err := validation.Validate(c.minVersion, validation.Min(uint16(tls.VersionTLS12))); err != nil {
		return nil, fmt.Errorf("%w: %#04x", ErrInsecureVersion, c.minVersion)
	}

	cert, err := c.load()
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   c.minVersion,
		NextProtos:   []string{"h2"},
	}, nil
}

func (c *config) load() (tls.Certificate, error) {
	switch {
	case c.p12Path != "":
		cert, err := certificate.FromP12File(c.p12Path, c.password)
		if err != nil {
			return tls.Certificate{}, fmt.Errorf("loading %s: %w", c.p12Path, err)
		}
		return cert, nil

	case c.certPath != "":
		bb, err := os.ReadFile(c.certPath)
		if err != nil {
			return tls.Certificate{}, fmt.Errorf("reading certificate: %w", err)
		}
		if c.keyPath != "" && c.keyPath != c.certPath {
			key, err := os.ReadFile(c.keyPath)
			if err != nil {
				return tls.Certificate{}, fmt.Errorf("reading private key: %w", err)
			}
			bb = append(append(bb, '\n'), key...)
		}
		return c.fromPEM(bb)

	case c.certPEM != "":
		return c.fromPEM([]byte(c.certPEM + "\n" + c.keyPEM))
	}

	return tls.Certificate{}, ErrMissingCertificate
}

func (c *config) fromPEM(bb []byte) (tls.Certificate, error) {
	cert, err := certificate.FromPemBytes(bb, c.password)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("loading certificate: %w", err)
	}
	return cert, nil
}
