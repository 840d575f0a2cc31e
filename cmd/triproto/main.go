package main

import (
	"crypto/tls"
	"fmt"
	"net"
	"os"

	"github.com/spf13/cobra"

	"github.com/nodecore/triproto/internal/demo"
	"github.com/nodecore/triproto/pkg/config"
	"github.com/nodecore/triproto/pkg/dispatcher"
	"github.com/nodecore/triproto/pkg/logging"
	"github.com/nodecore/triproto/pkg/server"
)

var (
	configPath string
	addr       string
	certFile   string
	keyFile    string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "triproto",
	Short: "HTTP/1, HTTP/2 and WebSocket over one listener",
	RunE:  run,
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "path to a YAML config file")
	rootCmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides config (host:port)")
	rootCmd.Flags().StringVar(&certFile, "certfile", "", "TLS certificate file, overrides config")
	rootCmd.Flags().StringVar(&keyFile, "keyfile", "", "TLS key file, overrides config")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "logrus level (debug, info, warn, error)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	logging.SetLevel(logLevel)
	log := logging.New("main")

	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if certFile != "" {
		cfg.Listener.CertFile = certFile
	}
	if keyFile != "" {
		cfg.Listener.KeyFile = keyFile
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	listenAddr := cfg.Listener.Addr()
	if addr != "" {
		listenAddr = addr
	}

	opts := cfg.ServerOptions()

	ln, err := newListener(listenAddr, cfg.Listener, opts.Dispatcher)
	if err != nil {
		return err
	}
	log.Infof("listening on %s (tls=%v)", listenAddr, cfg.Listener.UsesTLS())

	srv := server.New(ln, demo.Handler{}, opts)
	return srv.Serve()
}

// newListener builds a plain TCP listener, or a TLS one advertising only
// the ALPN protocols actually enabled for this server. Advertising a
// disabled protocol would let ALPN always succeed, so a client requesting
// "h2" against an http2-disabled server would never see the
// no_application_protocol handshake failure spec.md §4.1 requires.
// NextProtos mirrors the Protocol Dispatcher's own enabled set
// (pkg/dispatcher.Options) instead of a fixed pair.
func newListener(addr string, lc config.ListenerConfig, dopts dispatcher.Options) (net.Listener, error) {
	if !lc.UsesTLS() {
		return net.Listen("tcp", addr)
	}
	cert, err := tls.LoadX509KeyPair(lc.CertFile, lc.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load tls keypair: %w", err)
	}
	var nextProtos []string
	if dopts.EnableHTTP2 {
		nextProtos = append(nextProtos, "h2")
	}
	if dopts.EnableHTTP1 {
		nextProtos = append(nextProtos, "http/1.1")
	}
	tlsCfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   nextProtos,
	}
	return tls.Listen("tcp", addr, tlsCfg)
}
