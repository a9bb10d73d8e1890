package discovery

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"
)

func entry(name, instanceID string, port int, ips ...string) *zeroconf.ServiceEntry {
	e := zeroconf.NewServiceEntry(name, DefaultService, DefaultDomain)
	e.HostName = "host-" + instanceID + ".local."
	e.Port = port
	e.Text = []string{"instance_id=" + instanceID, "version=1", "path=/"}
	for _, raw := range ips {
		ip := net.ParseIP(raw)
		if ip.To4() != nil {
			e.AddrIPv4 = append(e.AddrIPv4, ip)
		} else {
			e.AddrIPv6 = append(e.AddrIPv6, ip)
		}
	}
	return e
}

func TestLookupCollectsBackendsExceptSelf(t *testing.T) {
	cfg := Config{
		InstanceID:  "self",
		ScanTimeout: 100 * time.Millisecond,
		browseFn: func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
			if service != DefaultService || domain != DefaultDomain {
				t.Errorf("unexpected browse target %q %q", service, domain)
			}
			entries <- entry("Zulu", "z", 7000, "192.168.1.9")
			entries <- entry("Self", "self", 7001, "192.168.1.2")
			entries <- entry("Alpha", "a", 7002, "fe80::1", "192.168.1.3")
			entries <- entry("Alpha", "a", 7002, "192.168.1.3")
			entries <- entry("NoPort", "np", 0, "192.168.1.4")
			return nil
		},
	}

	backends, err := Lookup(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if len(backends) != 2 {
		t.Fatalf("expected 2 backends, got %+v", backends)
	}
	if backends[0].Name != "Alpha" || backends[1].Name != "Zulu" {
		t.Fatalf("expected backends sorted by name, got %q then %q", backends[0].Name, backends[1].Name)
	}
	if got := backends[1].URL(); got != "http://192.168.1.9:7000" {
		t.Fatalf("unexpected URL %q", got)
	}
}

func TestLookupReturnsBrowseErrors(t *testing.T) {
	boom := errors.New("no interfaces")
	_, err := Lookup(context.Background(), Config{
		ScanTimeout: 50 * time.Millisecond,
		browseFn: func(context.Context, string, string, chan<- *zeroconf.ServiceEntry) error {
			return boom
		},
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected browse error, got %v", err)
	}
}

func TestLookupHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Lookup(ctx, Config{
		ScanTimeout: time.Second,
		browseFn: func(ctx context.Context, _, _ string, entries chan<- *zeroconf.ServiceEntry) error {
			close(entries)
			return nil
		},
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestBackendURLPrefersIPv4AndFallsBackToHost(t *testing.T) {
	withAddrs, ok := parseEntry(entry("A", "a", 8080, "fe80::2", "10.0.0.5"), "")
	if !ok {
		t.Fatalf("expected entry to parse")
	}
	if got := withAddrs.URL(); got != "http://10.0.0.5:8080" {
		t.Fatalf("unexpected URL %q", got)
	}

	hostOnly := Backend{HostName: "box.local.", Port: 9000, Path: "/api/"}
	if got := hostOnly.URL(); got != "http://box.local:9000/api" {
		t.Fatalf("unexpected URL %q", got)
	}

	v6 := Backend{Addresses: []string{"fe80::1"}, Port: 9000, Path: "/"}
	if got := v6.URL(); got != "http://[fe80::1]:9000" {
		t.Fatalf("unexpected URL %q", got)
	}
}
