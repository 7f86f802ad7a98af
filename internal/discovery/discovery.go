// Package discovery advertises this node and locates peers over
// multicast DNS service discovery, so a processing node can find
// capture nodes on the local network without hard-coded URLs.
package discovery

import (
	"context"
	"fmt"
	"net"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/grandcat/zeroconf"

	"github.com/gaia-project/gaia-processing/internal/errors"
	"github.com/gaia-project/gaia-processing/internal/logging"
)

var log = logging.ForService("discovery")

// scanWindow is how long Register browses for existing instances of its
// own role before claiming a sequence number.
const scanWindow = 3 * time.Second

const mdnsDomain = "local."

// Role is the kind of node advertising or being searched for.
type Role string

const (
	RoleCapture    Role = "capture"
	RoleProcessing Role = "processing"
	RoleWeb        Role = "web"
)

// serviceType is the mDNS service-type string for a role, e.g.
// "_gaia-capture._tcp".
func (r Role) serviceType() string {
	return fmt.Sprintf("_gaia-%s._tcp", r)
}

// Peer is one resolved node on the network.
type Peer struct {
	InstanceName string
	Addresses    []net.IP
	Port         int
}

// HTTPURL builds a base URL from the peer's best address, preferring a
// non-loopback IPv4 address over anything else.
func (p Peer) HTTPURL() (string, bool) {
	addrs := preferredAddresses(p.Addresses)
	if len(addrs) == 0 {
		return "", false
	}
	addr := addrs[0]
	if addr.To4() == nil {
		return fmt.Sprintf("http://[%s]:%d", addr, p.Port), true
	}
	return fmt.Sprintf("http://%s:%d", addr, p.Port), true
}

// preferredAddresses returns addrs reordered: non-loopback before
// loopback, and within each group IPv4 before IPv6.
func preferredAddresses(addrs []net.IP) []net.IP {
	out := make([]net.IP, len(addrs))
	copy(out, addrs)
	sort.SliceStable(out, func(i, j int) bool {
		li, lj := out[i].IsLoopback(), out[j].IsLoopback()
		if li != lj {
			return !li
		}
		return out[i].To4() != nil && out[j].To4() == nil
	})
	return out
}

// Handle is returned by Register. It keeps the mDNS responder alive and
// is used to browse for peers and to shut down cleanly.
type Handle struct {
	server       *zeroconf.Server
	role         Role
	instanceName string
}

// InstanceName is this node's claimed instance name, e.g. "processing-02".
func (h *Handle) InstanceName() string { return h.instanceName }

// Register advertises this node on the network under role. It first
// browses for scanWindow looking for existing instances of the same
// role, parses their sequence numbers out of names like "<role>-NN",
// and claims the smallest positive integer not already taken.
//
// Registration failure is the caller's to treat as non-fatal: the
// system degrades to an explicit peer-URL list (conf.Discovery.FallbackPeerURLs).
func Register(role Role, port int) (*Handle, error) {
	existing, err := scanExistingInstances(role)
	if err != nil {
		log.Warn("mdns scan for existing instances failed, assuming none", "role", role, "error", err)
		existing = nil
	}

	n := nextAvailable(existing)
	instanceName := fmt.Sprintf("%s-%02d", role, n)

	server, err := zeroconf.Register(instanceName, role.serviceType(), mdnsDomain, port, nil, nil)
	if err != nil {
		return nil, errors.New(err).
			Component("discovery").
			Category(errors.CategoryDiscovery).
			Context("role", string(role)).
			Context("instance_name", instanceName).
			Build()
	}

	log.Info("registered on mdns", "instance_name", instanceName, "service_type", role.serviceType(), "port", port)
	return &Handle{server: server, role: role, instanceName: instanceName}, nil
}

// Shutdown unregisters this node and stops the mDNS responder.
func (h *Handle) Shutdown() {
	if h.server != nil {
		h.server.Shutdown()
	}
}

// DiscoverPeers browses for nodes of role, collecting resolved entries
// until timeout elapses, and returns them as Peer records, excluding any
// entry naming this node itself.
func (h *Handle) DiscoverPeers(role Role, timeout time.Duration) ([]Peer, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, errors.New(err).
			Component("discovery").
			Category(errors.CategoryDiscovery).
			Build()
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 32)
	if err := resolver.Browse(ctx, role.serviceType(), mdnsDomain, entries); err != nil {
		return nil, errors.New(err).
			Component("discovery").
			Category(errors.CategoryDiscovery).
			Context("role", string(role)).
			Build()
	}

	var peers []Peer
	for entry := range entries {
		if entry.Instance == h.instanceName {
			log.Debug("ignoring self in discovery results", "instance_name", entry.Instance)
			continue
		}

		var addrs []net.IP
		addrs = append(addrs, entry.AddrIPv4...)
		addrs = append(addrs, entry.AddrIPv6...)
		peers = append(peers, Peer{
			InstanceName: entry.Instance,
			Addresses:    preferredAddresses(addrs),
			Port:         entry.Port,
		})
	}

	if len(peers) == 0 {
		log.Debug("browse completed, no peers found", "role", role)
	}
	return peers, nil
}

var instancePattern = regexp.MustCompile(`^([a-zA-Z]+)-(\d+)$`)

// scanExistingInstances browses briefly for already-registered instances
// of role and returns their claimed sequence numbers.
func scanExistingInstances(role Role) (map[int]bool, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), scanWindow)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 32)
	if err := resolver.Browse(ctx, role.serviceType(), mdnsDomain, entries); err != nil {
		return nil, err
	}

	used := make(map[int]bool)
	for entry := range entries {
		if n, ok := parseInstanceNumber(entry.Instance, string(role)); ok {
			used[n] = true
		}
	}
	return used, nil
}

// parseInstanceNumber extracts N from an instance name like "capture-03",
// requiring the prefix to match role exactly.
func parseInstanceNumber(instance, prefix string) (int, bool) {
	m := instancePattern.FindStringSubmatch(instance)
	if m == nil || m[1] != prefix {
		return 0, false
	}
	n, err := strconv.Atoi(m[2])
	if err != nil {
		return 0, false
	}
	return n, true
}

// nextAvailable returns the smallest positive integer not present in used.
func nextAvailable(used map[int]bool) int {
	n := 1
	for used[n] {
		n++
	}
	return n
}
