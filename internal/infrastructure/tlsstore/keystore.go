// Package tlsstore provisions and loads the agent's self-signed server
// certificate. The keystore is a PEM file holding the certificate and the
// private key sealed with a key derived from the keystore password.
package tlsstore

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	psnet "github.com/shirou/gopsutil/v3/net"

	"github.com/NimbleStorage/nimble-sap-hana-agent/internal/infrastructure/logger"
	"github.com/NimbleStorage/nimble-sap-hana-agent/pkg/utils/crypto"
)

const (
	certBlockType = "CERTIFICATE"
	keyBlockType  = "SEALED PRIVATE KEY"

	headerKDF        = "KDF"
	headerSalt       = "Salt"
	headerIterations = "Iterations"
	kdfName          = "pbkdf2-sha256"

	DefaultKeyBits  = 2048
	DefaultValidity = 3650 * 24 * time.Hour
)

var (
	ErrNoCertificate = errors.New("keystore: no certificate block")
	ErrNoPrivateKey  = errors.New("keystore: no private key block")
	ErrWrongPassword = errors.New("keystore: wrong password or corrupt key")
)

type Config struct {
	Path       string
	Password   string
	CommonName string
	Validity   time.Duration
	KeyBits    int
	ExtraHosts []string
	// Iterations of the key derivation; zero uses crypto.DefaultIterations.
	Iterations int
	Logger     *logger.Logger
}

// Provision loads the keystore at cfg.Path, generating and saving a new
// self-signed certificate first when the file does not exist.
func Provision(cfg Config) (tls.Certificate, error) {
	log := cfg.Logger
	if log == nil {
		log = logger.NewNop()
	}

	if _, err := os.Stat(cfg.Path); err == nil {
		cert, err := Load(cfg.Path, cfg.Password)
		if err != nil {
			return tls.Certificate{}, err
		}
		log.Infow("keystore_loaded", "path", cfg.Path)
		return cert, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return tls.Certificate{}, fmt.Errorf("keystore: stat %s: %w", cfg.Path, err)
	}

	if err := Create(cfg); err != nil {
		return tls.Certificate{}, err
	}
	log.Infow("keystore_created", "path", cfg.Path, "common_name", commonName(cfg))
	return Load(cfg.Path, cfg.Password)
}

// Create generates a key pair and self-signed certificate and writes them to
// cfg.Path, replacing any existing file.
func Create(cfg Config) error {
	if cfg.Password == "" {
		return crypto.ErrInvalidKey
	}
	bits := cfg.KeyBits
	if bits <= 0 {
		bits = DefaultKeyBits
	}

	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return fmt.Errorf("keystore: generate key: %w", err)
	}
	certDER, err := selfSign(cfg, key)
	if err != nil {
		return err
	}
	keyBlock, err := sealKey(key, cfg.Password, cfg.Iterations)
	if err != nil {
		return err
	}

	data := pem.EncodeToMemory(&pem.Block{Type: certBlockType, Bytes: certDER})
	data = append(data, pem.EncodeToMemory(keyBlock)...)

	if dir := filepath.Dir(cfg.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("keystore: create directory: %w", err)
		}
	}
	if err := os.WriteFile(cfg.Path, data, 0o600); err != nil {
		return fmt.Errorf("keystore: write %s: %w", cfg.Path, err)
	}
	return nil
}

// Load reads a keystore written by Create.
func Load(path, password string) (tls.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("keystore: read %s: %w", path, err)
	}

	var certDER []byte
	var keyBlock *pem.Block
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		switch block.Type {
		case certBlockType:
			certDER = block.Bytes
		case keyBlockType:
			keyBlock = block
		}
	}
	if certDER == nil {
		return tls.Certificate{}, ErrNoCertificate
	}
	if keyBlock == nil {
		return tls.Certificate{}, ErrNoPrivateKey
	}

	key, err := openKey(keyBlock, password)
	if err != nil {
		return tls.Certificate{}, err
	}
	leaf, err := x509.ParseCertificate(certDER)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("keystore: parse certificate: %w", err)
	}

	return tls.Certificate{
		Certificate: [][]byte{certDER},
		PrivateKey:  key,
		Leaf:        leaf,
	}, nil
}

// ServerConfig returns the listener TLS configuration for cert.
func ServerConfig(cert tls.Certificate) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
}

func commonName(cfg Config) string {
	if cfg.CommonName == "" {
		return "localhost"
	}
	return cfg.CommonName
}

func selfSign(cfg Config, key *rsa.PrivateKey) ([]byte, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		return nil, fmt.Errorf("keystore: serial: %w", err)
	}
	validity := cfg.Validity
	if validity <= 0 {
		validity = DefaultValidity
	}
	notBefore := time.Now().Add(-24 * time.Hour)

	dnsNames, ips := subjectAltNames(commonName(cfg), cfg.ExtraHosts)
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: commonName(cfg)},
		NotBefore:             notBefore,
		NotAfter:              notBefore.Add(validity),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              dnsNames,
		IPAddresses:           ips,
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("keystore: create certificate: %w", err)
	}
	return der, nil
}

// subjectAltNames collects the loopback address, the host name and the
// addresses of the host's interfaces, plus any extra hosts.
func subjectAltNames(cn string, extra []string) ([]string, []net.IP) {
	var dnsNames []string
	var ips []net.IP
	seen := make(map[string]bool)

	add := func(host string) {
		if host == "" || seen[host] {
			return
		}
		seen[host] = true
		if ip := net.ParseIP(host); ip != nil {
			ips = append(ips, ip)
			return
		}
		dnsNames = append(dnsNames, host)
	}

	add(cn)
	add("localhost")
	add("127.0.0.1")
	if hostname, err := os.Hostname(); err == nil {
		add(hostname)
	}
	if ifaces, err := psnet.Interfaces(); err == nil {
		for _, iface := range ifaces {
			for _, addr := range iface.Addrs {
				ip, _, err := net.ParseCIDR(addr.Addr)
				if err != nil || ip.IsLinkLocalUnicast() {
					continue
				}
				add(ip.String())
			}
		}
	}
	for _, h := range extra {
		add(h)
	}
	return dnsNames, ips
}

func sealKey(key *rsa.PrivateKey, password string, iterations int) (*pem.Block, error) {
	if iterations <= 0 {
		iterations = crypto.DefaultIterations
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("keystore: marshal key: %w", err)
	}
	salt, err := crypto.NewSalt()
	if err != nil {
		return nil, err
	}
	aesKey, err := crypto.DeriveKey(password, salt, iterations)
	if err != nil {
		return nil, err
	}
	sealed, err := crypto.Seal(der, aesKey)
	if err != nil {
		return nil, err
	}
	return &pem.Block{
		Type: keyBlockType,
		Headers: map[string]string{
			headerKDF:        kdfName,
			headerSalt:       hex.EncodeToString(salt),
			headerIterations: strconv.Itoa(iterations),
		},
		Bytes: sealed,
	}, nil
}

func openKey(block *pem.Block, password string) (*rsa.PrivateKey, error) {
	if block.Headers[headerKDF] != kdfName {
		return nil, fmt.Errorf("keystore: unsupported kdf %q", block.Headers[headerKDF])
	}
	salt, err := hex.DecodeString(block.Headers[headerSalt])
	if err != nil {
		return nil, fmt.Errorf("keystore: bad salt: %w", err)
	}
	iterations, err := strconv.Atoi(block.Headers[headerIterations])
	if err != nil {
		return nil, fmt.Errorf("keystore: bad iterations: %w", err)
	}

	aesKey, err := crypto.DeriveKey(password, salt, iterations)
	if err != nil {
		return nil, ErrWrongPassword
	}
	der, err := crypto.Open(block.Bytes, aesKey)
	if err != nil {
		return nil, ErrWrongPassword
	}
	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("keystore: parse key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("keystore: unexpected key type %T", parsed)
	}
	return key, nil
}
