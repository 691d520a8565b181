// Package discovery advertises the room server on the local network.
package discovery

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/hashicorp/mdns"
	"go.uber.org/zap"
)

// ServiceType is the DNS-SD service the room server registers.
const ServiceType = "_sketchroom._tcp"

var errInvalidPort = errors.New("discovery: port is required")

type Config struct {
	// Instance defaults to the hostname.
	Instance string
	Port     int
	// Host and IPs are resolved from the machine when empty.
	Host   string
	IPs    []net.IP
	Logger *zap.Logger
}

// Advertiser answers mDNS queries until Shutdown.
type Advertiser struct {
	server  *mdns.Server
	service *mdns.MDNSService
	logger  *zap.Logger
}

// NewService builds the zone describing the server.
func NewService(cfg Config) (*mdns.MDNSService, error) {
	if cfg.Port <= 0 {
		return nil, errInvalidPort
	}
	instance := strings.TrimSpace(cfg.Instance)
	if instance == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("discovery: hostname: %w", err)
		}
		instance = hostname
	}
	host := strings.TrimSpace(cfg.Host)
	if host != "" && !strings.HasSuffix(host, ".") {
		host += "."
	}
	service, err := mdns.NewMDNSService(instance, ServiceType, "", host, cfg.Port, cfg.IPs, []string{"sketchroom"})
	if err != nil {
		return nil, fmt.Errorf("discovery: service: %w", err)
	}
	return service, nil
}

// Advertise starts answering queries for the server.
func Advertise(cfg Config) (*Advertiser, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	service, err := NewService(cfg)
	if err != nil {
		return nil, err
	}
	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return nil, fmt.Errorf("discovery: start: %w", err)
	}
	logger.Info("advertising room server",
		zap.String("instance", service.Instance),
		zap.String("service", ServiceType),
		zap.Int("port", service.Port))
	return &Advertiser{server: server, service: service, logger: logger}, nil
}

func (a *Advertiser) Shutdown() error {
	if a == nil || a.server == nil {
		return nil
	}
	a.logger.Info("stopping mdns advertisement", zap.String("instance", a.service.Instance))
	return a.server.Shutdown()
}

// PortFromAddress extracts the port of a host:port listen address.
func PortFromAddress(address string) (int, error) {
	_, rawPort, err := net.SplitHostPort(address)
	if err != nil {
		return 0, fmt.Errorf("discovery: address %q: %w", address, err)
	}
	port, err := net.LookupPort("tcp", rawPort)
	if err != nil {
		return 0, fmt.Errorf("discovery: port %q: %w", rawPort, err)
	}
	return port, nil
}
