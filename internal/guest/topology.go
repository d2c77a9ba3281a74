package guest

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// yamlTopology is the serialized shape of the YAML topology rendering
// (spec §6: "YAML with guests: {name: {role, hostname, ...}} and roles:
// {role: [name, ...]}").
type yamlTopology struct {
	Guests map[string]yamlGuest `yaml:"guests"`
	Roles  map[string][]string  `yaml:"roles"`
}

type yamlGuest struct {
	Role      string            `yaml:"role,omitempty"`
	Hostname  string            `yaml:"hostname,omitempty"`
	Addresses map[string]string `yaml:"addresses,omitempty"`
}

// RenderTopologyYAML builds the YAML topology document for the given set
// of guests, roles grouping guests by Topology.Role.
func RenderTopologyYAML(topologies []Topology) ([]byte, error) {
	doc := yamlTopology{
		Guests: make(map[string]yamlGuest, len(topologies)),
		Roles:  make(map[string][]string),
	}
	for _, t := range topologies {
		doc.Guests[t.Name] = yamlGuest{
			Role:      t.Role,
			Hostname:  t.Addresses["ipv4"],
			Addresses: t.Addresses,
		}
		if t.Role != "" {
			doc.Roles[t.Role] = append(doc.Roles[t.Role], t.Name)
		}
	}
	for role := range doc.Roles {
		sort.Strings(doc.Roles[role])
	}
	return yaml.Marshal(doc)
}

// RenderTopologyBash builds the shell-sourced topology file exposing
// TMT_GUESTS, per-guest TMT_GUEST_<NAME>_HOSTNAME/_ROLE, and role lists
// (spec §6).
func RenderTopologyBash(topologies []Topology) []byte {
	var b strings.Builder
	names := make([]string, 0, len(topologies))
	byRole := make(map[string][]string)

	for _, t := range topologies {
		names = append(names, t.Name)
		if t.Role != "" {
			byRole[t.Role] = append(byRole[t.Role], t.Name)
		}
	}

	fmt.Fprintf(&b, "TMT_GUESTS=(%s)\n", strings.Join(names, " "))
	for _, t := range topologies {
		envName := shellSafe(t.Name)
		fmt.Fprintf(&b, "TMT_GUEST_%s_HOSTNAME=%q\n", envName, t.Addresses["ipv4"])
		fmt.Fprintf(&b, "TMT_GUEST_%s_ROLE=%q\n", envName, t.Role)
	}

	roles := make([]string, 0, len(byRole))
	for role := range byRole {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	for _, role := range roles {
		members := byRole[role]
		sort.Strings(members)
		fmt.Fprintf(&b, "TMT_ROLE_%s=(%s)\n", shellSafe(role), strings.Join(members, " "))
	}
	return []byte(b.String())
}

func shellSafe(s string) string {
	s = strings.ToUpper(s)
	return strings.Map(func(r rune) rune {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			return r
		}
		return '_'
	}, s)
}
