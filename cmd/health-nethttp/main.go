// Command health-nethttp probes a running server's readiness probe
// with net/http. Exits 0 when the server is ready to serve.
package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

func main() {
	target := flag.String("target", "http://127.0.0.1:5123", "base URL of the server to probe")
	timeout := flag.Duration("timeout", 3*time.Second, "probe timeout")
	flag.Parse()

	client := &http.Client{Timeout: *timeout}
	resp, err := client.Get(*target + "/readyz")
	if err != nil {
		fmt.Fprintf(os.Stderr, "probe failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "probe failed: status %d: %s\n", resp.StatusCode, body)
		os.Exit(1)
	}
	fmt.Printf("%s\n", body)
}
