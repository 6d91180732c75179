// seed creates a batch of monitors against a running instance, alternating
// healthy and failing targets so incidents and events start flowing.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

func main() {
	base := flag.String("base", "http://localhost:9310", "API base URL")
	apiKey := flag.String("key", "", "API key (empty while bootstrapping)")
	count := flag.Int("count", 50, "number of monitors to create")
	cleanup := flag.Bool("delete", false, "delete created monitors after a wait")
	flag.Parse()

	client := &http.Client{Timeout: 10 * time.Second}

	log.Printf("creating %d monitors against %s", *count, *base)
	var ids []string
	for i := 0; i < *count; i++ {
		// Every other target returns 500 so hysteresis and incidents get
		// exercised.
		status := 200
		if i%2 == 0 {
			status = 500
		}

		name := fmt.Sprintf("Seed Monitor %d (%d)", i, status)
		url := fmt.Sprintf("https://httpbin.org/status/%d", status)

		id, err := createMonitor(client, *base, *apiKey, name, url)
		if err != nil {
			log.Printf("create monitor %d: %v", i, err)
			continue
		}
		ids = append(ids, id)
		fmt.Printf(".")
		if (i+1)%10 == 0 {
			fmt.Println()
		}
		// Spread the burst so the queue fills gradually.
		time.Sleep(50 * time.Millisecond)
	}
	fmt.Println("\ndone creating monitors")

	if *cleanup {
		log.Println("waiting 30 seconds before deletion...")
		time.Sleep(30 * time.Second)
		for _, id := range ids {
			if err := deleteMonitor(client, *base, *apiKey, id); err != nil {
				log.Printf("delete monitor %s: %v", id, err)
			}
		}
		log.Println("cleanup done")
	}
}

func createMonitor(client *http.Client, base, apiKey, name, url string) (string, error) {
	payload := map[string]any{
		"name":     name,
		"url":      url,
		"interval": 60,
	}
	data, _ := json.Marshal(payload)

	req, err := http.NewRequest(http.MethodPost, base+"/api/monitors", bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	}

	var res map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return "", err
	}
	id, ok := res["id"].(string)
	if !ok {
		return "", fmt.Errorf("no id in response")
	}
	return id, nil
}

func deleteMonitor(client *http.Client, base, apiKey, id string) error {
	req, err := http.NewRequest(http.MethodDelete, base+"/api/monitors/"+id, nil)
	if err != nil {
		return err
	}
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}
