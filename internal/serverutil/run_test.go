package serverutil

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"
)

func TestRunServesAndShutsDown(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "ok")
	})

	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan string, 1)
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, Config{
			Addr:    "127.0.0.1:0",
			Handler: handler,
			Ready:   ready,
		})
	}()

	var addr string
	select {
	case addr = <-ready:
	case <-time.After(5 * time.Second):
		t.Fatal("server never became ready")
	}

	resp, err := http.Get("http://" + addr + "/")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "ok" {
		t.Fatalf("unexpected body %q", body)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server never shut down")
	}
}

func TestRunRequiresHandler(t *testing.T) {
	if err := Run(context.Background(), Config{Addr: "127.0.0.1:0"}); err == nil {
		t.Fatal("expected an error without a handler")
	}
}

func TestRunRejectsPartialTLSConfig(t *testing.T) {
	err := Run(context.Background(), Config{
		Addr:        "127.0.0.1:0",
		Handler:     http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}),
		TLSCertFile: "cert.pem",
	})
	if err == nil {
		t.Fatal("expected an error for a certificate without a key")
	}
}
