package sshd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"golang.org/x/crypto/ssh"
)

// LoadHostSigner reads the PEM host key at keyPath. When certPath names an
// existing OpenSSH host certificate for that key, the certificate is
// presented instead of the bare key. A missing certificate is not an error.
func LoadHostSigner(keyPath, certPath string) (ssh.Signer, error) {
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read host key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(keyPEM)
	if err != nil {
		return nil, fmt.Errorf("parse host key %s: %w", keyPath, err)
	}

	if certPath == "" {
		return signer, nil
	}
	certData, err := os.ReadFile(certPath)
	if errors.Is(err, fs.ErrNotExist) {
		return signer, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read host certificate: %w", err)
	}

	pub, _, _, _, err := ssh.ParseAuthorizedKey(certData)
	if err != nil {
		return nil, fmt.Errorf("parse host certificate %s: %w", certPath, err)
	}
	cert, ok := pub.(*ssh.Certificate)
	if !ok {
		return nil, fmt.Errorf("host certificate %s: not an OpenSSH certificate", certPath)
	}
	certSigner, err := ssh.NewCertSigner(cert, signer)
	if err != nil {
		return nil, fmt.Errorf("host certificate %s: %w", certPath, err)
	}
	return certSigner, nil
}
