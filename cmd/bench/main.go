package main

import (
	"flag"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

func main() {
	addr := flag.String("addr", "http://localhost:8080", "control plane address")
	n := flag.Int("n", 5000, "requests")
	conc := flag.Int("c", 32, "concurrency")
	spread := flag.Int("offsets", 1, "spread requests over offsets [base, base+offsets)")
	base := flag.Uint64("base", 0, "first offset to request")
	flag.Parse()

	client := &http.Client{Timeout: 5 * time.Second}
	wg := sync.WaitGroup{}
	start := time.Now()
	ch := make(chan int, *conc)
	var ok, failed atomic.Int64

	for i := 0; i < *n; i++ {
		wg.Add(1)
		ch <- 1
		go func(i int) {
			defer wg.Done()
			defer func() { <-ch }()
			url := *addr + "/v1/plan"
			if *spread > 1 {
				url = fmt.Sprintf("%s?offset=%d", url, *base+uint64(rand.Intn(*spread)))
			}
			resp, err := client.Get(url)
			if err != nil {
				failed.Add(1)
				return
			}
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				ok.Add(1)
			} else {
				failed.Add(1)
			}
		}(i)
	}
	wg.Wait()
	dur := time.Since(start)
	fmt.Printf("Completed %d plans in %s (%.2f plans/s), %d ok, %d failed\n",
		*n, dur, float64(*n)/dur.Seconds(), ok.Load(), failed.Load())
}
