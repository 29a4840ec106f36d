// fake-receiver is a development webhook target. It verifies Eventr
// signatures, can be told to fail the first N requests, and logs every
// delivery it sees. Useful for watching retries and redeliveries happen.
package main

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/eventrhq/eventr/internal/delivery"
	"github.com/eventrhq/eventr/internal/signature"
)

var (
	failFirstN     = 0
	reqCount       atomic.Int64
	endpointSecret = ""
	responseDelay  time.Duration
)

func main() {
	if v := os.Getenv("FAIL_FIRST_N"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			failFirstN = n
		}
	}
	if v := os.Getenv("ENDPOINT_SECRET"); v != "" {
		endpointSecret = v
	}
	// Simulated slowness, for exercising sender timeouts
	if v := os.Getenv("RESPONSE_DELAY_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			responseDelay = time.Duration(ms) * time.Millisecond
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(`{"ok":true}`)) })
	mux.HandleFunc("/hook", handleHook)

	addr := ":8081"
	if v := os.Getenv("HTTP_PORT"); v != "" {
		addr = v
	}
	log.Printf("fake-receiver listening on %s", addr)
	log.Fatal(http.ListenAndServe(addr, mux))
}

func handleHook(w http.ResponseWriter, r *http.Request) {
	n := reqCount.Add(1)
	b, _ := io.ReadAll(r.Body)
	defer r.Body.Close()

	if responseDelay > 0 {
		time.Sleep(responseDelay)
	}

	if endpointSecret != "" {
		if !signature.Verify(endpointSecret, b, r.Header.Get(delivery.HeaderSignature)) {
			log.Printf("fake-receiver signature mismatch event=%s attempt=%s",
				r.Header.Get(delivery.HeaderEventID), r.Header.Get(delivery.HeaderAttempt))
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
	}

	// Simulate flakiness: first N requests -> 500
	if n <= int64(failFirstN) {
		log.Printf("FAILING (%d/%d) event=%s type=%s attempt=%s body=%s",
			n, failFirstN,
			r.Header.Get(delivery.HeaderEventID),
			r.Header.Get(delivery.HeaderEventType),
			r.Header.Get(delivery.HeaderAttempt),
			truncate(string(b), 160))
		http.Error(w, "temporary failure", http.StatusInternalServerError)
		return
	}

	log.Printf("fake-receiver OK event=%s type=%s attempt=%s body=%q",
		r.Header.Get(delivery.HeaderEventID),
		r.Header.Get(delivery.HeaderEventType),
		r.Header.Get(delivery.HeaderAttempt),
		truncate(string(b), 160))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`ok`))
}

// truncate truncates a string to the specified length and adds an ellipsis if truncated
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s...", s[:n])
}
