package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/pflag"

	"tollgate.dev/internal/ids"
	"tollgate.dev/internal/obs"
)

type client struct {
	base string
	http *http.Client
}

func (c *client) call(ctx context.Context, method, path, token string, body, out any) (int, error) {
	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		payload = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, payload)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s: %w", path, err)
		}
	}
	return resp.StatusCode, nil
}

func expect(step string, got, want int, err error) {
	if err != nil {
		obs.Logger().Error("smoke step failed", "step", step, "error", err)
		os.Exit(1)
	}
	if got != want {
		obs.Logger().Error("smoke step failed", "step", step, "status", got, "want", want)
		os.Exit(1)
	}
}

func main() {
	addr := pflag.String("addr", envOr("TOLLGATE_API_URL", "http://localhost:8080"), "Base URL of tollgate-api")
	pflag.Parse()

	c := &client{base: *addr, http: &http.Client{Timeout: 5 * time.Second}}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	suffix := ids.New()
	username := "smoke_" + suffix[len(suffix)-8:]
	password := "smoke-password-" + suffix

	status, err := c.call(ctx, http.MethodPost, "/v1/auth/register", "", map[string]string{
		"username": username,
		"email":    username + "@smoke.test",
		"password": password,
	}, nil)
	expect("register", status, http.StatusCreated, err)

	var sess struct {
		Token     string `json:"token"`
		SessionID string `json:"session_id"`
	}
	status, err = c.call(ctx, http.MethodPost, "/v1/auth/login", "", map[string]string{
		"username": username,
		"password": password,
	}, &sess)
	expect("login", status, http.StatusOK, err)

	var valid struct {
		Valid bool `json:"valid"`
	}
	status, err = c.call(ctx, http.MethodGet, "/v1/auth/validate", sess.Token, nil, &valid)
	expect("validate", status, http.StatusOK, err)
	if !valid.Valid {
		obs.Logger().Error("fresh token reported invalid")
		os.Exit(1)
	}

	status, err = c.call(ctx, http.MethodPost, "/v1/auth/logout", sess.Token, nil, nil)
	expect("logout", status, http.StatusNoContent, err)

	status, err = c.call(ctx, http.MethodGet, "/v1/auth/sessions", sess.Token, nil, nil)
	expect("sessions after logout", status, http.StatusUnauthorized, err)

	fmt.Printf("tollgate smoke test passed: user=%s session=%s\n", username, sess.SessionID)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
