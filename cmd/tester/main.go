// Command tester fires synthetic orders at the gateway and watches the live
// event stream to check that every order brews to completion: the configured
// number of progress heartbeats followed by exactly one completion event.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

type OrderRequest struct {
	ProductID string `json:"productId"`
}

type OrderResponse struct {
	OrderID   string `json:"orderId"`
	ProductID string `json:"productId"`
	Accepted  bool   `json:"accepted"`
}

// APIResponse mirrors the gateway's utils.Response shape
type APIResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type StreamEvent struct {
	OrderID string `json:"orderId"`
	Success bool   `json:"success"`
}

type tally struct {
	mu        sync.Mutex
	progress  map[string]int
	completed map[string]int
}

func main() {
	baseURL := flag.String("base", envOr("GATEWAY_BASE", "http://localhost:8080"), "API Gateway base URL (no trailing slash)")
	total := flag.Int("total", 5, "number of synthetic orders to place")
	heartbeats := flag.Int("heartbeats", 5, "expected progress events per order")
	timeout := flag.Duration("timeout", 30*time.Second, "max time to wait for all orders to finish")
	flag.Parse()

	client := &http.Client{Timeout: 10 * time.Second}
	log.Printf("Base URL: %s", *baseURL)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	t := &tally{
		progress:  make(map[string]int),
		completed: make(map[string]int),
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go watchStream(ctx, &wg, *baseURL, "orders/brewing", t)
	go watchStream(ctx, &wg, *baseURL, "orders/brewed", t)

	// Let the stream subscriptions attach before placing anything.
	time.Sleep(500 * time.Millisecond)

	products := []string{"earl-grey", "sencha", "rooibos", "darjeeling"}
	orderIDs := make([]string, 0, *total)
	for i := 0; i < *total; i++ {
		product := products[i%len(products)]
		id, err := placeOrder(client, *baseURL, product)
		if err != nil {
			log.Fatalf("Failed to place order: %v", err)
		}
		log.Printf("Placed order %s (%s)", id, product)
		orderIDs = append(orderIDs, id)
	}

	waitForCompletion(ctx, t, orderIDs)
	cancel()
	wg.Wait()

	report(t, orderIDs, *heartbeats)
}

func placeOrder(client *http.Client, baseURL, product string) (string, error) {
	body, _ := json.Marshal(OrderRequest{ProductID: product})
	resp, err := client.Post(baseURL+"/api/v1/orders", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var api APIResponse
	if err := json.NewDecoder(resp.Body).Decode(&api); err != nil {
		return "", err
	}
	var order OrderResponse
	if err := json.Unmarshal(api.Data, &order); err != nil {
		return "", err
	}
	return order.OrderID, nil
}

// watchStream consumes one SSE topic and tallies events per order.
func watchStream(ctx context.Context, wg *sync.WaitGroup, baseURL, topic string, t *tally) {
	defer wg.Done()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/v1/orders/stream?topic="+topic, nil)
	if err != nil {
		log.Printf("Failed to build stream request: %v", err)
		return
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Printf("Failed to open stream %s: %v", topic, err)
		return
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}

		var evt StreamEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data:")), &evt); err != nil {
			log.Printf("Skipping unparseable event on %s: %v", topic, err)
			continue
		}

		t.mu.Lock()
		if topic == "orders/brewing" {
			t.progress[evt.OrderID]++
		} else {
			t.completed[evt.OrderID]++
		}
		t.mu.Unlock()
	}
}

func waitForCompletion(ctx context.Context, t *tally, orderIDs []string) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.mu.Lock()
			done := 0
			for _, id := range orderIDs {
				if t.completed[id] > 0 {
					done++
				}
			}
			t.mu.Unlock()
			if done == len(orderIDs) {
				return
			}
		}
	}
}

func report(t *tally, orderIDs []string, heartbeats int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	failures := 0
	for _, id := range orderIDs {
		switch {
		case t.completed[id] == 0:
			log.Printf("FAIL order %s: never completed (progress=%d)", id, t.progress[id])
			failures++
		case t.completed[id] > 1:
			log.Printf("FAIL order %s: %d terminal events (protocol violation)", id, t.completed[id])
			failures++
		case t.progress[id] != heartbeats:
			log.Printf("FAIL order %s: %d/%d progress events", id, t.progress[id], heartbeats)
			failures++
		default:
			log.Printf("OK   order %s: %d progress + 1 completed", id, t.progress[id])
		}
	}

	if failures > 0 {
		log.Printf("%d/%d orders failed verification", failures, len(orderIDs))
		os.Exit(1)
	}
	log.Printf("All %d orders brewed to completion", len(orderIDs))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
