package discovery

import (
	"errors"
	"net"
	"testing"
)

func TestNewServiceDescribesRoomServer(testContext *testing.T) {
	service, err := NewService(Config{
		Instance: "studio",
		Port:     8080,
		Host:     "studio.local",
		IPs:      []net.IP{net.IPv4(127, 0, 0, 1)},
	})
	if err != nil {
		testContext.Fatalf("new service: %v", err)
	}
	if service.Instance != "studio" || service.Service != ServiceType || service.Port != 8080 {
		testContext.Fatalf("unexpected service %+v", service)
	}
	if service.HostName != "studio.local." {
		testContext.Fatalf("expected a fully qualified host, got %q", service.HostName)
	}
}

func TestNewServiceRequiresPort(testContext *testing.T) {
	if _, err := NewService(Config{Instance: "studio"}); !errors.Is(err, errInvalidPort) {
		testContext.Fatalf("expected a port error, got %v", err)
	}
}

func TestPortFromAddress(testContext *testing.T) {
	port, err := PortFromAddress("0.0.0.0:8080")
	if err != nil || port != 8080 {
		testContext.Fatalf("expected 8080, got %d (%v)", port, err)
	}
	if _, err := PortFromAddress("no-port"); err == nil {
		testContext.Fatalf("expected an error without a port")
	}
}

func TestShutdownWithoutServerIsNoop(testContext *testing.T) {
	var advertiser *Advertiser
	if err := advertiser.Shutdown(); err != nil {
		testContext.Fatalf("expected nil advertiser shutdown to succeed, got %v", err)
	}
}
