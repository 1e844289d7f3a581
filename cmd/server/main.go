// Package main is the entry point for the SSH pool MCP server. It reads
// line-delimited JSON-RPC 2.0 requests from stdin and writes responses
// to stdout.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/sshmcp/sshmcp/internal/mcp"
	"github.com/sshmcp/sshmcp/internal/sshpool"
)

const serverName = "sshmcp"

const (
	defaultMaxConnections = "10"
	defaultDebug          = "false"
)

// Injected at build time.
var commitSHA = "dev"

func main() {
	// Configuration precedence: flag > env > default.
	getEnv := func(key, fallback string) string {
		if value, exists := os.LookupEnv(key); exists {
			return value
		}
		return fallback
	}

	maxConnEnv := getEnv("SSH_MCP_MAX_CONNECTIONS", defaultMaxConnections)
	debugEnv := getEnv("SSH_MCP_DEBUG", defaultDebug) == "true"

	maxConnections := flag.Int("max-connections", atoiOrDefault(maxConnEnv, 10), "maximum number of pooled SSH connections")
	debug := flag.Bool("debug", debugEnv, "enable debug logging")
	flag.Parse()

	if *debug {
		log.SetFlags(log.LstdFlags | log.Lshortfile | log.Lmicroseconds)
	} else {
		log.SetFlags(log.LstdFlags)
	}

	logger := log.New(os.Stderr, "", log.Flags())
	logger.Printf("starting %s (commit=%s, max_connections=%d)", serverName, commitSHA, *maxConnections)

	pool := sshpool.NewPool(*maxConnections, logger)
	pool.Start()
	dispatcher := mcp.NewDispatcher(pool, logger, *debug)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	done := make(chan struct{})
	go runStdio(dispatcher, logger, done)

	select {
	case <-sigCh:
		logger.Println("shutting down")
	case <-done:
		logger.Println("stdin closed, shutting down")
	}

	pool.Close()
	logger.Println("server stopped")
}

// runStdio reads one JSON-RPC request per line from stdin and writes one
// JSON-RPC response per line to stdout, the transport shape MCP stdio
// hosts expect.
func runStdio(d *mcp.Dispatcher, logger *log.Logger, done chan<- struct{}) {
	defer close(done)

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	writer := bufio.NewWriter(os.Stdout)
	defer writer.Flush()

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		response := d.Handle(line)
		if _, err := writer.Write(response); err != nil {
			logger.Printf("failed to write response: %v", err)
			return
		}
		writer.WriteByte('\n')
		writer.Flush()
	}

	if err := scanner.Err(); err != nil {
		logger.Printf("stdin read error: %v", err)
	}
}

func atoiOrDefault(s string, fallback int) int {
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil || n <= 0 {
		return fallback
	}
	return n
}
