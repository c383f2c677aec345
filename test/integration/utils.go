package integration

import (
	"bytes"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/mbocsi/devlink/link"
	"github.com/mbocsi/devlink/services"
	"github.com/mbocsi/devlink/transport"
	"github.com/mbocsi/devlink/web"
	"github.com/prometheus/client_golang/prometheus"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func init() {
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func getRandomPort(t *testing.T) int {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to get port: %v", err)
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port
}

// stack is a coordinator wired the way the serve command wires it.
type stack struct {
	link     *link.Coordinator
	services *services.ServiceContainer
	web      *web.Server
	reg      *prometheus.Registry
}

func newStack(t *testing.T, topts transport.Options, lopts link.Options) *stack {
	t.Helper()
	reg := prometheus.NewRegistry()
	lopts.Registerer = reg
	c := link.New(transport.NewDefaultRegistry(topts), lopts)
	t.Cleanup(func() { c.Close() })

	svc := services.NewServiceContainer(c)
	return &stack{
		link:     c,
		services: svc,
		web:      web.NewServer(svc, c.Events(), reg),
		reg:      reg,
	}
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// call sends a JSON request and decodes a JSON reply into out when non-nil.
func call(t *testing.T, method, url string, body, out any) int {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to encode request: %v", err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, r)
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, url, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("Failed to decode %s %s: %v", method, url, err)
		}
	}
	return resp.StatusCode
}
