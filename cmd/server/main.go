package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/Tyrowin/petrel/internal/server"
)

const shutdownTimeout = 10 * time.Second

func usage() {
	fmt.Fprintf(os.Stderr, "Server Application Usage: %s [-h] [-j N] PORT_NUMBER AUDIT_FILENAME\n", os.Args[0])
	fmt.Fprintln(os.Stderr, "  -h    print this usage message and exit")
	fmt.Fprintln(os.Stderr, "  -j N  number of command workers (default 2)")
}

func main() {
	flag.Usage = usage
	help := flag.Bool("h", false, "print usage and exit")
	workers := flag.Int("j", 2, "number of command workers")
	flag.Parse()

	if *help {
		usage()
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "ERROR: Port number and audit filename are required")
		usage()
		os.Exit(1)
	}

	port, err := strconv.Atoi(args[0])
	if err != nil || port <= 0 || port > 65535 {
		fmt.Fprintf(os.Stderr, "ERROR: Invalid port number %q\n", args[0])
		usage()
		os.Exit(1)
	}

	cfg := server.NewConfigFromEnv()
	cfg.ListenAddr = fmt.Sprintf(":%d", port)
	cfg.Workers = *workers
	cfg.AuditPath = args[1]

	audit, err := server.NewFileAudit(cfg.AuditPath)
	if err != nil {
		log.Fatalf("Failed to open audit log: %v", err)
	}
	defer audit.Close()

	srv := server.NewServer(*cfg, audit)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("Received %s, shutting down", sig)
		if err := srv.Shutdown(shutdownTimeout); err != nil {
			log.Printf("Shutdown incomplete: %v", err)
			os.Exit(1)
		}
		os.Exit(0)
	}()

	if err := srv.Start(); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
