// Command health-fasthttp probes a running server's IsAlive endpoint.
// It exits 0 when the server answers and 1 otherwise, suitable for
// container HEALTHCHECK directives.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/valyala/fasthttp"
)

func main() {
	target := flag.String("target", "http://127.0.0.1:5123", "base URL of the server to probe")
	timeout := flag.Duration("timeout", 3*time.Second, "probe timeout")
	flag.Parse()

	client := &fasthttp.Client{
		ReadTimeout:  *timeout,
		WriteTimeout: *timeout,
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(*target + "/api/IsAlive")
	req.Header.SetMethod(fasthttp.MethodGet)

	if err := client.DoTimeout(req, resp, *timeout); err != nil {
		fmt.Fprintf(os.Stderr, "probe failed: %v\n", err)
		os.Exit(1)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		fmt.Fprintf(os.Stderr, "probe failed: status %d\n", resp.StatusCode())
		os.Exit(1)
	}
	fmt.Printf("%s\n", resp.Body())
}
