package discovery

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseInstanceNumber(t *testing.T) {
	n, ok := parseInstanceNumber("capture-01", "capture")
	assert.True(t, ok)
	assert.Equal(t, 1, n)

	n, ok = parseInstanceNumber("processing-12", "processing")
	assert.True(t, ok)
	assert.Equal(t, 12, n)

	_, ok = parseInstanceNumber("web-01", "capture")
	assert.False(t, ok, "prefix mismatch must not parse")

	_, ok = parseInstanceNumber("garbage", "capture")
	assert.False(t, ok)
}

func TestNextAvailable(t *testing.T) {
	assert.Equal(t, 1, nextAvailable(map[int]bool{}))
	assert.Equal(t, 4, nextAvailable(map[int]bool{1: true, 2: true, 3: true}))
	assert.Equal(t, 2, nextAvailable(map[int]bool{1: true, 3: true}))
}

func TestServiceTypeFormatting(t *testing.T) {
	assert.Equal(t, "_gaia-capture._tcp", RoleCapture.serviceType())
	assert.Equal(t, "_gaia-processing._tcp", RoleProcessing.serviceType())
	assert.Equal(t, "_gaia-web._tcp", RoleWeb.serviceType())
}

func TestPreferredAddressesOrdersIPv4BeforeIPv6(t *testing.T) {
	v4 := net.ParseIP("192.168.1.5")
	v6 := net.ParseIP("fe80::1")
	ordered := preferredAddresses([]net.IP{v6, v4})
	assert.Equal(t, v4, ordered[0])
	assert.Equal(t, v6, ordered[1])
}

func TestPreferredAddressesOrdersNonLoopbackBeforeLoopback(t *testing.T) {
	loopback := net.ParseIP("127.0.0.1")
	real := net.ParseIP("10.0.0.2")
	ordered := preferredAddresses([]net.IP{loopback, real})
	assert.Equal(t, real, ordered[0])
	assert.Equal(t, loopback, ordered[1])
}

func TestPeerHTTPURLPrefersIPv4(t *testing.T) {
	p := Peer{
		InstanceName: "capture-01",
		Addresses:    []net.IP{net.ParseIP("fe80::1"), net.ParseIP("10.0.0.5")},
		Port:         8080,
	}
	url, ok := p.HTTPURL()
	assert.True(t, ok)
	assert.Equal(t, "http://10.0.0.5:8080", url)
}

func TestPeerHTTPURLNoAddresses(t *testing.T) {
	p := Peer{InstanceName: "capture-01", Port: 8080}
	_, ok := p.HTTPURL()
	assert.False(t, ok)
}
