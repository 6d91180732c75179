// mocktarget is a local HTTP endpoint with tunable failure modes, handy for
// exercising monitors without pointing them at the public internet.
package main

import (
	"encoding/json"
	"flag"
	"log"
	"math/rand"
	"net/http"
	"strconv"
	"time"
)

func main() {
	listen := flag.String("listen", ":8080", "listen address")
	flag.Parse()

	mux := http.NewServeMux()

	mux.HandleFunc("/ok", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"status": "healthy", "version": "mock-1"})
	})

	// /slow?ms=2500 responds after the given delay. Defaults past the usual
	// degraded threshold.
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		ms := 2500
		if raw := r.URL.Query().Get("ms"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil && n >= 0 && n <= 120000 {
				ms = n
			}
		}
		time.Sleep(time.Duration(ms) * time.Millisecond)
		writeJSON(w, map[string]any{"status": "slow", "delayMs": ms})
	})

	// /status/503 answers with the requested code.
	mux.HandleFunc("/status/", func(w http.ResponseWriter, r *http.Request) {
		code, err := strconv.Atoi(r.URL.Path[len("/status/"):])
		if err != nil || code < 100 || code > 599 {
			http.Error(w, "bad status code", http.StatusBadRequest)
			return
		}
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]int{"code": code})
	})

	// /flaky?rate=0.5 fails that fraction of requests with a 500. Good for
	// watching hysteresis hold and release.
	mux.HandleFunc("/flaky", func(w http.ResponseWriter, r *http.Request) {
		fail := 0.5
		if raw := r.URL.Query().Get("rate"); raw != "" {
			if f, err := strconv.ParseFloat(raw, 64); err == nil && f >= 0 && f <= 1 {
				fail = f
			}
		}
		if rand.Float64() < fail {
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "flaked"})
			return
		}
		writeJSON(w, map[string]any{"status": "healthy"})
	})

	log.Printf("mock target listening on %s", *listen)
	log.Fatal(http.ListenAndServe(*listen, mux)) // #nosec G114 -- dev tool
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
