package xfer_test

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/gonzalop/xfer"
	"github.com/gonzalop/xfer/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

// ExampleOpen demonstrates connecting to an anonymous FTP server.
func ExampleOpen() {
	ctx := context.Background()
	s, err := xfer.Open(ctx, "ftp://ftp.example.com/pub")
	if err != nil {
		log.Fatal(err)
	}
	defer s.Disconnect()

	fmt.Println("Connected successfully")
}

// ExampleDial demonstrates connecting to an SFTP server with a private key
// and known_hosts verification.
func ExampleDial() {
	cfg := &xfer.Config{
		Kind:           "sftp",
		Host:           "files.example.com",
		User:           "deploy",
		PrivateKeyFile: "/home/deploy/.ssh/id_ed25519",
		KnownHostsFile: "/home/deploy/.ssh/known_hosts",
		Timeout:        10 * time.Second,
	}

	s, err := xfer.Dial(context.Background(), cfg, xfer.WithIdleTimeout(5*time.Minute))
	if err != nil {
		log.Fatal(err)
	}
	defer s.Disconnect()

	fmt.Println("Connected over SFTP")
}

// ExampleSession_Upload uploads a file into a local directory session.
func ExampleSession_Upload() {
	root, _ := os.MkdirTemp("", "xfer-example")
	defer os.RemoveAll(root)
	src, _ := os.MkdirTemp("", "xfer-src")
	defer os.RemoveAll(src)
	local := filepath.Join(src, "local.txt")
	_ = os.WriteFile(local, []byte("hello"), 0o644)

	ctx := context.Background()
	s, err := xfer.Dial(ctx, &xfer.Config{Kind: "file", Path: root})
	if err != nil {
		log.Fatal(err)
	}
	defer s.Disconnect()

	if err := s.MakeDir(ctx, "/tmp"); err != nil {
		log.Fatal(err)
	}
	if err := s.MakeDir(ctx, "/tmp/x"); err != nil {
		log.Fatal(err)
	}
	n, err := s.Upload(ctx, []string{local}, "/tmp/x/local.txt")
	if err != nil {
		log.Fatal(err)
	}

	entries, err := s.List(ctx, "/tmp/x", false)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(n, "bytes")
	for _, e := range entries {
		fmt.Println(e.Name, e.Type)
	}
	// Output:
	// 5 bytes
	// local.txt file
}

// ExampleSession_List shows the hidden entry filter.
func ExampleSession_List() {
	root, _ := os.MkdirTemp("", "xfer-example")
	defer os.RemoveAll(root)
	_ = os.WriteFile(filepath.Join(root, ".env"), nil, 0o600)
	_ = os.WriteFile(filepath.Join(root, "index.html"), nil, 0o644)

	ctx := context.Background()
	s, err := xfer.Dial(ctx, &xfer.Config{Kind: "file", Path: root})
	if err != nil {
		log.Fatal(err)
	}
	defer s.Disconnect()

	visible, _ := s.List(ctx, "/", false)
	all, _ := s.List(ctx, "/", true)
	fmt.Println(len(visible), len(all))
	// Output: 1 2
}

// ExampleSession_Remove shows how to test the kind of a failure.
func ExampleSession_Remove() {
	root, _ := os.MkdirTemp("", "xfer-example")
	defer os.RemoveAll(root)

	ctx := context.Background()
	s, err := xfer.Dial(ctx, &xfer.Config{Kind: "file", Path: root})
	if err != nil {
		log.Fatal(err)
	}
	defer s.Disconnect()

	err = s.Remove(ctx, "/missing")
	switch {
	case errors.Is(err, xfer.ErrNotFound):
		fmt.Println("already gone")
	case errors.Is(err, xfer.ErrConnection):
		fmt.Println("reconnect")
	}
	// Output: already gone
}

// ExampleSession_Subscribe reports upload progress.
func ExampleSession_Subscribe() {
	s, err := xfer.Open(context.Background(), "sftp://deploy@files.example.com")
	if err != nil {
		log.Fatal(err)
	}
	defer s.Disconnect()

	sub := s.Subscribe(xfer.EventUploadProgress, func(ev xfer.Event) {
		fmt.Printf("%s: %d/%d\n", ev.Path, ev.Bytes, ev.Total)
	})
	defer sub.Unsubscribe()

	s.Subscribe(xfer.EventError, func(ev xfer.Event) {
		log.Printf("session %s lost: %v", ev.SessionID, ev.Err)
	})
}

// ExampleWithMetrics exports session metrics to Prometheus.
func ExampleWithMetrics() {
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	s, err := xfer.Open(context.Background(), "ftp://ftp.example.com",
		xfer.WithMetrics(collector),
		xfer.WithListingCache(128, time.Minute),
	)
	if err != nil {
		log.Fatal(err)
	}
	defer s.Disconnect()
}

// ExampleLoadConfigFile opens every session named in a YAML file.
func ExampleLoadConfigFile() {
	configs, err := xfer.LoadConfigFile("sessions.yaml")
	if err != nil {
		log.Fatal(err)
	}

	for name, cfg := range configs {
		s, err := xfer.Dial(context.Background(), cfg)
		if err != nil {
			log.Printf("%s: %v", name, err)
			continue
		}
		fmt.Println(name, s.State())
		s.Disconnect()
	}
}
