// Package discovery announces dischat servers on the local network over
// mDNS and finds them from the client.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
)

const (
	// DefaultService is the mDNS service name without domain suffix.
	DefaultService = "_dischat._tcp"
	// DefaultDomain is the mDNS domain.
	DefaultDomain = "local."
	// DefaultVersion is the TXT record protocol version.
	DefaultVersion = 1
	// DefaultScanTimeout bounds one Lookup.
	DefaultScanTimeout = 3 * time.Second
	// DefaultPath is the API base path advertised in TXT records.
	DefaultPath = "/"
)

type registerFunc func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (*zeroconf.Server, error)
type browseFunc func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error

// Config controls advertising and lookup.
type Config struct {
	Service     string
	Domain      string
	Version     int
	ScanTimeout time.Duration

	InstanceID string
	Name       string
	Port       int
	Path       string

	registerFn registerFunc
	browseFn   browseFunc
}

func (c Config) withDefaults() Config {
	out := c
	if out.Service == "" {
		out.Service = DefaultService
	}
	if out.Domain == "" {
		out.Domain = DefaultDomain
	}
	if out.Version == 0 {
		out.Version = DefaultVersion
	}
	if out.ScanTimeout <= 0 {
		out.ScanTimeout = DefaultScanTimeout
	}
	if out.Path == "" {
		out.Path = DefaultPath
	}
	if out.registerFn == nil {
		out.registerFn = zeroconf.Register
	}
	return out
}

func (c Config) validateForAdvertise() error {
	if strings.TrimSpace(c.InstanceID) == "" {
		return errors.New("instance ID is required")
	}
	if strings.TrimSpace(c.Name) == "" {
		return errors.New("name is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return errors.New("port must be in 1..65535")
	}
	return nil
}

// Broadcaster advertises a running server via mDNS.
type Broadcaster struct {
	server *zeroconf.Server
}

// Advertise registers the server and starts answering mDNS queries.
func Advertise(config Config) (*Broadcaster, error) {
	cfg := config.withDefaults()
	if err := cfg.validateForAdvertise(); err != nil {
		return nil, err
	}

	txt := []string{
		"instance_id=" + cfg.InstanceID,
		"version=" + strconv.Itoa(cfg.Version),
		"path=" + cfg.Path,
	}

	server, err := cfg.registerFn(cfg.Name, cfg.Service, cfg.Domain, cfg.Port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("register mDNS service: %w", err)
	}

	return &Broadcaster{server: server}, nil
}

// Stop withdraws the advertisement.
func (b *Broadcaster) Stop() {
	if b == nil || b.server == nil {
		return
	}
	b.server.Shutdown()
}
