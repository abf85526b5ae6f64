package preview

import (
	"net"
	"os"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/catprev/catprev/pkg/catalog"
)

// Server identity fact keys merged into every node before compilation.
const (
	FactServerVersion = "serverversion"
	FactServerName    = "servername"
	FactServerIP      = "serverip"
)

// ServerFactCache holds the server identity facts, computed exactly once at
// orchestrator construction and never recomputed for the life of the
// process.
type ServerFactCache struct {
	facts map[string]any
}

// NewServerFactCache computes the server facts. Individual lookup failures
// are logged as warnings and the key omitted; they are never fatal.
func NewServerFactCache(version string) *ServerFactCache {
	return newServerFactCache(version, os.Hostname, net.InterfaceAddrs)
}

func newServerFactCache(version string, hostname func() (string, error), addrs func() ([]net.Addr, error)) *ServerFactCache {
	facts := make(map[string]any)

	if version != "" {
		facts[FactServerVersion] = version
	}

	name, err := hostname()
	if err != nil {
		log.Warn().Err(err).Msg("Could not retrieve server name fact")
	} else {
		facts[FactServerName] = qualifyHostname(name)
	}

	ip, err := firstUnicastIP(addrs)
	if err != nil {
		log.Warn().Err(err).Msg("Could not retrieve server IP fact")
	} else {
		facts[FactServerIP] = ip
	}

	return &ServerFactCache{facts: facts}
}

// Facts returns a copy of the cached server facts.
func (c *ServerFactCache) Facts() map[string]any {
	out := make(map[string]any, len(c.facts))
	for k, v := range c.facts {
		out[k] = v
	}
	return out
}

// MergeInto merges the server facts into the node's fact mapping. Facts
// already present on the node are never overwritten.
func (c *ServerFactCache) MergeInto(node *catalog.Node) {
	node.MergeFacts(c.facts)
}

// qualifyHostname returns the fully qualified server name: the hostname as
// resolved, synthesizing hostname.domain when reverse lookup offers a
// domain, or the bare hostname when none is discoverable.
func qualifyHostname(name string) string {
	if strings.Contains(name, ".") {
		return name
	}

	ips, err := net.LookupHost(name)
	if err != nil || len(ips) == 0 {
		return name
	}
	names, err := net.LookupAddr(ips[0])
	if err != nil {
		return name
	}
	for _, candidate := range names {
		candidate = strings.TrimSuffix(candidate, ".")
		if strings.HasPrefix(candidate, name+".") {
			return candidate
		}
	}
	return name
}

// firstUnicastIP returns the first non-loopback unicast address.
func firstUnicastIP(addrs func() ([]net.Addr, error)) (string, error) {
	list, err := addrs()
	if err != nil {
		return "", err
	}
	for _, addr := range list {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			return ip4.String(), nil
		}
	}
	for _, addr := range list {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		return ipNet.IP.String(), nil
	}
	return "", &net.AddrError{Err: "no non-loopback address found"}
}
