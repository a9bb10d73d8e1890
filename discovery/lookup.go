package discovery

import (
	"context"
	"errors"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/grandcat/zeroconf"
)

// Backend is a server found on the local network.
type Backend struct {
	InstanceID string
	Name       string
	Version    int
	HostName   string
	Port       int
	Path       string
	Addresses  []string
}

// URL returns the HTTP base URL of the backend, preferring IPv4.
func (b Backend) URL() string {
	host := b.HostName
	if len(b.Addresses) > 0 {
		host = b.Addresses[0]
	}
	host = strings.TrimSuffix(host, ".")
	u := url.URL{
		Scheme: "http",
		Host:   net.JoinHostPort(host, strconv.Itoa(b.Port)),
		Path:   strings.TrimRight(b.Path, "/"),
	}
	return u.String()
}

// Lookup browses once for ScanTimeout and returns every backend found except
// the one with cfg.InstanceID, sorted by name.
func Lookup(ctx context.Context, config Config) ([]Backend, error) {
	cfg := config.withDefaults()

	browse := cfg.browseFn
	if browse == nil {
		resolver, err := zeroconf.NewResolver(nil)
		if err != nil {
			return nil, err
		}
		browse = resolver.Browse
	}

	scanCtx, cancel := context.WithTimeout(ctx, cfg.ScanTimeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 32)
	collected := make(map[string]Backend)
	var collectedMu sync.Mutex
	collectorDone := make(chan struct{})

	go func() {
		defer close(collectorDone)
		in := (<-chan *zeroconf.ServiceEntry)(entries)
		for {
			select {
			case <-scanCtx.Done():
				return
			case entry, ok := <-in:
				if !ok {
					in = nil
					continue
				}
				if entry == nil {
					continue
				}
				backend, ok := parseEntry(entry, cfg.InstanceID)
				if !ok {
					continue
				}
				collectedMu.Lock()
				collected[backend.InstanceID] = backend
				collectedMu.Unlock()
			}
		}
	}()

	if err := browse(scanCtx, cfg.Service, cfg.Domain, entries); err != nil {
		cancel()
		<-collectorDone
		return nil, err
	}

	<-scanCtx.Done()
	<-collectorDone

	// The scan window ending is the normal way out; a cancelled caller is not.
	if err := ctx.Err(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return nil, err
	}

	collectedMu.Lock()
	out := make([]Backend, 0, len(collected))
	for _, backend := range collected {
		out = append(out, backend)
	}
	collectedMu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Name == out[j].Name {
			return out[i].InstanceID < out[j].InstanceID
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func parseEntry(entry *zeroconf.ServiceEntry, selfInstanceID string) (Backend, bool) {
	txt := txtToMap(entry.Text)

	instanceID := strings.TrimSpace(txt["instance_id"])
	if instanceID == "" || instanceID == selfInstanceID {
		return Backend{}, false
	}
	if entry.Port <= 0 {
		return Backend{}, false
	}

	version := 0
	if txt["version"] != "" {
		if parsed, err := strconv.Atoi(txt["version"]); err == nil {
			version = parsed
		}
	}

	addresses := make([]string, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	seen := make(map[string]struct{})
	for _, ip := range append(append([]net.IP(nil), entry.AddrIPv4...), entry.AddrIPv6...) {
		if ip == nil {
			continue
		}
		raw := ip.String()
		if _, exists := seen[raw]; exists {
			continue
		}
		seen[raw] = struct{}{}
		addresses = append(addresses, raw)
	}
	sort.SliceStable(addresses, func(i, j int) bool {
		iv4 := net.ParseIP(addresses[i]).To4() != nil
		jv4 := net.ParseIP(addresses[j]).To4() != nil
		if iv4 != jv4 {
			return iv4
		}
		return addresses[i] < addresses[j]
	})

	name := strings.TrimSpace(entry.Instance)
	if name == "" {
		name = strings.TrimSpace(entry.HostName)
	}
	if name == "" {
		name = instanceID
	}

	path := strings.TrimSpace(txt["path"])
	if path == "" {
		path = DefaultPath
	}

	return Backend{
		InstanceID: instanceID,
		Name:       name,
		Version:    version,
		HostName:   entry.HostName,
		Port:       entry.Port,
		Path:       path,
		Addresses:  addresses,
	}, true
}

func txtToMap(text []string) map[string]string {
	out := make(map[string]string, len(text))
	for _, entry := range text {
		key, value, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		out[key] = strings.TrimSpace(value)
	}
	return out
}
