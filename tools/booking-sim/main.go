package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/md-rashed-zaman/slotbook/libs/auth"
)

// booking-sim seeds one provider against a running booking-service and fires a burst of
// concurrent bookings at its first open slot. Exactly one should get 201, the rest 409.
func main() {
	var (
		baseURL = flag.String("base-url", getenv("BASE_URL", "http://localhost:8083"), "booking-service base url")
		n       = flag.Int("n", 20, "concurrent booking attempts")
		day     = flag.String("date", nextMonday(time.Now().UTC()), "date (YYYY-MM-DD) to book on")
		secret  = flag.String("secret", getenv("AUTH_JWT_SECRET", ""), "HS256 secret used to mint a bearer token, if the service requires one")
	)
	flag.Parse()

	c := &client{base: strings.TrimRight(*baseURL, "/"), http: &http.Client{Timeout: 10 * time.Second}}
	if *secret != "" {
		token, err := auth.SignHS256(auth.Claims{
			Role: "admin",
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "booking-sim",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(10 * time.Minute)),
			},
		}, *secret)
		if err != nil {
			fatal(err.Error())
		}
		c.token = token
	}

	var typ, provider, customer struct {
		ID string `json:"id"`
	}
	c.must(http.MethodPost, "/appointment-types", map[string]any{"name": "Sim consult", "duration_minutes": 30}, &typ)
	weekday := strings.ToLower(mustDate(*day).Weekday().String())
	c.must(http.MethodPost, "/providers", map[string]any{
		"name":                 "Sim provider",
		"email":                "sim-provider@example.com",
		"appointment_type_ids": []string{typ.ID},
		"availability":         []map[string]string{{"day": weekday, "start": "09:00", "end": "12:00"}},
	}, &provider)
	c.must(http.MethodPost, "/customers", map[string]any{"name": "Sim customer", "email": "sim-customer@example.com"}, &customer)

	var slots []struct {
		StartTime time.Time `json:"start_time"`
	}
	c.must(http.MethodGet, fmt.Sprintf("/available-slots?provider_id=%s&appointment_type_id=%s&start_date=%s&end_date=%s",
		provider.ID, typ.ID, *day, *day), nil, &slots)
	if len(slots) == 0 {
		fatal("no open slots returned")
	}
	target := slots[0].StartTime
	fmt.Printf("slots=%d target=%s attempts=%d\n", len(slots), target.Format(time.RFC3339), *n)

	var (
		mu     sync.Mutex
		counts = map[int]int{}
		wg     sync.WaitGroup
	)
	start := make(chan struct{})
	for range *n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			status, err := c.do(http.MethodPost, "/appointments", map[string]any{
				"provider_id":         provider.ID,
				"customer_id":         customer.ID,
				"appointment_type_id": typ.ID,
				"start_time":          target,
			}, nil)
			if err != nil {
				status = -1
			}
			mu.Lock()
			counts[status]++
			mu.Unlock()
		}()
	}
	close(start)
	wg.Wait()

	for status, count := range counts {
		fmt.Printf("status=%d count=%d\n", status, count)
	}
	if counts[http.StatusCreated] != 1 {
		fatal(fmt.Sprintf("expected exactly one booking, got %d", counts[http.StatusCreated]))
	}
}

type client struct {
	base  string
	token string
	http  *http.Client
}

func (c *client) do(method, path string, body, out any) (int, error) {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, c.base+path, r)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}

func (c *client) must(method, path string, body, out any) {
	status, err := c.do(method, path, body, out)
	if err != nil {
		fatal(fmt.Sprintf("%s %s: %v", method, path, err))
	}
	if status >= 300 {
		fatal(fmt.Sprintf("%s %s: status=%d", method, path, status))
	}
}

func nextMonday(now time.Time) string {
	d := now.AddDate(0, 0, 1)
	for d.Weekday() != time.Monday {
		d = d.AddDate(0, 0, 1)
	}
	return d.Format(time.DateOnly)
}

func mustDate(s string) time.Time {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		fatal("date must be YYYY-MM-DD")
	}
	return t
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(2)
}
