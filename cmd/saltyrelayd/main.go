// Command saltyrelayd runs the signalling relay server.
package main

import (
	"crypto/tls"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/crypto/acme/autocert"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/net/netutil"

	"saltyrelay.io/relay"
)

func main() {
	set := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	set.Usage = func() {
		fmt.Fprintf(set.Output(), "run the saltyrelay signalling server\n\n")
		fmt.Fprintf(set.Output(), "usage: %s\n\n", os.Args[0])
		fmt.Fprintf(set.Output(), "flags:\n")
		set.PrintDefaults()
	}
	httpaddr := set.String("http", ":http", "http listen address")
	httpsaddr := set.String("https", "", "https listen address, empty to disable TLS")
	whitelist := set.String("hosts", "", "comma separated list of hosts for which to request let's encrypt certs")
	secretpath := set.String("secrets", os.Getenv("HOME")+"/keys", "path to put let's encrypt cache")
	keys := set.String("keys", "", "comma separated list of hex-encoded server permanent secret keys")
	keepalive := set.Duration("keepalive", relay.KeepAliveIntervalDefault, "default keep-alive ping interval")
	keepaliveTimeout := set.Duration("keepalive-timeout", relay.KeepAliveTimeout, "keep-alive pong timeout")
	maxHandshakes := set.Int("max-handshakes", 1024, "maximum concurrent open connections per listener, handshaking or established")
	metricsAddr := set.String("metrics", "", "address to serve /metrics on, empty to disable")
	set.Parse(os.Args[1:])

	keyring, err := loadKeyring(*keys)
	if err != nil {
		log.Fatalf("saltyrelayd: %v", err)
	}
	if len(keyring.Publics()) == 0 {
		log.Fatal("saltyrelayd: -keys must name at least one server permanent key")
	}

	logger := log.New(os.Stderr, "", log.LstdFlags)
	registry := relay.NewRegistry(logger)

	reg := prometheus.NewRegistry()
	metrics := relay.NewMetrics(reg)
	go collectLoop(metrics, registry)

	srv := newServer(serverConfig{
		registry:         registry,
		keyring:          keyring,
		metrics:          metrics,
		keepAlive:        *keepalive,
		keepAliveTimeout: *keepaliveTimeout,
		logger:           logger,
	})

	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			log.Fatal(http.ListenAndServe(*metricsAddr, mux))
		}()
	}

	httpSrv := &http.Server{
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Minute,
		IdleTimeout:  20 * time.Second,
		Addr:         *httpaddr,
		Handler:      srv,
	}

	if *httpsaddr == "" {
		log.Fatal(serveLimited(httpSrv, *maxHandshakes))
		return
	}

	manager := &autocert.Manager{
		Cache:      autocert.DirCache(*secretpath),
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(strings.Split(*whitelist, ",")...),
	}
	httpsSrv := &http.Server{
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Minute,
		IdleTimeout:  20 * time.Second,
		Addr:         *httpsaddr,
		Handler:      srv,
		TLSConfig:    &tls.Config{GetCertificate: manager.GetCertificate},
	}
	httpSrv.Handler = manager.HTTPHandler(srv)

	go func() { log.Fatal(serveLimitedTLS(httpsSrv, *maxHandshakes)) }()
	log.Fatal(serveLimited(httpSrv, *maxHandshakes))
}

// serveLimited wraps srv.ListenAndServe with a LimitListener bounding
// the number of concurrent open connections. A relay connection keeps
// its slot for its whole lifetime, not just during the handshake.
func serveLimited(srv *http.Server, max int) error {
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return err
	}
	return srv.Serve(netutil.LimitListener(ln, max))
}

func serveLimitedTLS(srv *http.Server, max int) error {
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return err
	}
	return srv.ServeTLS(netutil.LimitListener(ln, max), "", "")
}

func loadKeyring(hexKeys string) (*relay.Keyring, error) {
	var pairs []relay.KeyPair
	for _, s := range strings.Split(hexKeys, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		secretBytes, err := hex.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("saltyrelayd: bad secret key %q: %w", s, err)
		}
		if len(secretBytes) != 32 {
			return nil, fmt.Errorf("saltyrelayd: secret key %q is not 32 bytes", s)
		}
		var secret relay.SecretKey
		copy(secret[:], secretBytes)
		pairs = append(pairs, relay.KeyPair{Public: publicFromSecret(secret), Secret: secret})
	}
	return relay.NewKeyring(pairs...), nil
}

// publicFromSecret derives the curve25519 public key for a NaCl box
// secret key, so an operator only needs to provision one 32-byte
// secret per server identity rather than a keypair.
func publicFromSecret(secret relay.SecretKey) relay.PublicKey {
	var pub [32]byte
	curve25519.ScalarBaseMult(&pub, (*[32]byte)(&secret))
	return relay.PublicKey(pub)
}

func collectLoop(metrics *relay.Metrics, registry *relay.Registry) {
	for range time.Tick(15 * time.Second) {
		metrics.Collect(registry)
	}
}
