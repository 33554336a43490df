package credentials_test

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/christianselig/apns/internal/credentials"
)

type keyPair struct {
	cert string
	key  string
}

func newKeyPair(t *testing.T, password string) keyPair {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "Apple Development IOS Push Services: com.example.app"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}
	if password != "" {
		//nolint:staticcheck
		block, err = x509.EncryptPEMBlock(rand.Reader, block.Type, block.Bytes, []byte(password), x509.PEMCipherAES256)
		require.NoError(t, err)
	}

	return keyPair{
		cert: string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})),
		key:  string(pem.EncodeToMemory(block)),
	}
}

func writeFile(t *testing.T, name, contents string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestNewTLSConfig(t *testing.T) {
	t.Parallel()

	plain := newKeyPair(t, "")
	encrypted := newKeyPair(t, "hunter2")

	tests := map[string][]credentials.Option{
		"pem strings": {credentials.WithCertificatePEM(plain.cert, plain.key)},
		"separate files": {credentials.WithCertificateFiles(
			writeFile(t, "cert.pem", plain.cert),
			writeFile(t, "key.pem", plain.key),
		)},
		"combined file": {credentials.WithCertificateFiles(
			writeFile(t, "combined.pem", plain.cert+plain.key), "",
		)},
		"encrypted key": {
			credentials.WithCertificatePEM(encrypted.cert, encrypted.key),
			credentials.WithPassword("hunter2"),
		},
		"tls 1.3": {
			credentials.WithCertificatePEM(plain.cert, plain.key),
			credentials.WithMinVersion(tls.VersionTLS13),
		},
	}

	for scenario, opts := range tests {
		opts := opts

		t.Run(scenario, func(t *testing.T) {
			t.Parallel()

			cfg, err := credentials.NewTLSConfig(opts...)
			require.NoError(t, err)

			assert.Equal(t, []string{"h2"}, cfg.NextProtos)
			assert.GreaterOrEqual(t, cfg.MinVersion, uint16(tls.VersionTLS12))
			require.Len(t, cfg.Certificates, 1)
			assert.NotNil(t, cfg.Certificates[0].PrivateKey)
		})
	}
}

func TestNewTLSConfigErrors(t *testing.T) {
	t.Parallel()

	plain := newKeyPair(t, "")
	encrypted := newKeyPair(t, "hunter2")

	tests := map[string]struct {
		opts []credentials.Option
		err  error
	}{
		"nothing":        {nil, credentials.ErrMissingCertificate},
		"tls 1.1":        {[]credentials.Option{credentials.WithCertificatePEM(plain.cert, plain.key), credentials.WithMinVersion(tls.VersionTLS11)}, credentials.ErrInsecureVersion},
		"missing file":   {[]credentials.Option{credentials.WithCertificateFiles(filepath.Join(t.TempDir(), "nope.pem"), "")}, os.ErrNotExist},
		"wrong password": {[]credentials.Option{credentials.WithCertificatePEM(encrypted.cert, encrypted.key), credentials.WithPassword("nope")}, nil},
		"no key":         {[]credentials.Option{credentials.WithCertificatePEM(plain.cert, "")}, nil},
	}

	for scenario, tt := range tests {
		tt := tt

		t.Run(scenario, func(t *testing.T) {
			t.Parallel()

			cfg, err := credentials.NewTLSConfig(tt.opts...)
			assert.Nil(t, cfg)
			require.Error(t, err)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
			}
		})
	}
}
