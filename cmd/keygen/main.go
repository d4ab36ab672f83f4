package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/NimbleStorage/nimble-sap-hana-agent/internal/config"
	"github.com/NimbleStorage/nimble-sap-hana-agent/internal/infrastructure/tlsstore"
)

func main() {
	configPath := flag.String("config", "", "path to the configuration file")
	force := flag.Bool("force", false, "replace an existing keystore")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	tlsCfg := tlsstore.Config{
		Path:       cfg.TLS.KeystorePath,
		Password:   cfg.TLS.KeystorePassword,
		CommonName: cfg.TLS.CommonName,
		Validity:   cfg.TLS.Validity,
		KeyBits:    cfg.TLS.KeyBits,
		ExtraHosts: cfg.TLS.ExtraHosts,
	}

	if _, err := os.Stat(tlsCfg.Path); err == nil && !*force {
		if _, err := tlsstore.Load(tlsCfg.Path, tlsCfg.Password); err != nil {
			log.Fatalf("Existing keystore %s is unusable: %v", tlsCfg.Path, err)
		}
		fmt.Printf("✓ Keystore already exists (skipped): %s\n", tlsCfg.Path)
		return
	}

	fmt.Printf("Generating self-signed certificate...\n")
	fmt.Printf("Keystore: %s\n", tlsCfg.Path)

	if err := tlsstore.Create(tlsCfg); err != nil {
		log.Fatalf("Failed to create keystore: %v", err)
	}
	cert, err := tlsstore.Load(tlsCfg.Path, tlsCfg.Password)
	if err != nil {
		log.Fatalf("Failed to verify keystore: %v", err)
	}

	fmt.Printf("✓ Keystore generated successfully\n")
	fmt.Printf("Subject: %s\n", cert.Leaf.Subject.CommonName)
	fmt.Printf("DNS names: %v\n", cert.Leaf.DNSNames)
	fmt.Printf("IP addresses: %v\n", cert.Leaf.IPAddresses)
	fmt.Printf("Valid until: %s\n", cert.Leaf.NotAfter.Format("2006-01-02"))
}
