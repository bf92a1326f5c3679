// Package firewall runs the fixed diagnostic command sequence against a
// host, aggregates per-service findings and issues removal commands.
package firewall

import (
	"strings"

	"github.com/unblockd/unblockd/internal/model"
)

// Probe is one diagnostic command in the fixed per-panel sequence.
// Command templates carry an {ip} placeholder. Needles, when set, make
// the probe a deny-list check using the deny match extraction (with its
// parse-error signal); without needles the probe is evidence-style and
// matches on plain IP presence in the output.
type Probe struct {
	Service   string
	Command   string
	Needles   []string
	Temporary bool
}

func (p Probe) Render(ip string) string {
	return strings.ReplaceAll(p.Command, "{ip}", ip)
}

const (
	// csf -g greps both csf.deny and the temporary block list
	csfGrepCmd = "csf -g {ip}"

	removePermanentCmd = "csf -dr {ip}"
	removeTemporaryCmd = "csf -tr {ip}"
)

var csfProbes = []Probe{
	{Service: "csf_deny", Command: csfGrepCmd, Needles: []string{"csf.deny"}},
	{Service: "csf_temp", Command: csfGrepCmd, Needles: []string{"Temporary Blocks"}, Temporary: true},
}

// probeSets is keyed by panel type. Adding a panel is a data change,
// not a code change.
var probeSets = map[model.Panel][]Probe{
	model.PanelCPanel: append(csfProbes[:len(csfProbes):len(csfProbes)],
		Probe{Service: "mod_security", Command: "grep {ip} /usr/local/apache/logs/modsec_audit.log | tail -n 20"},
		Probe{Service: "exim", Command: "grep {ip} /var/log/exim_mainlog | grep -i 'rejected\\|denied' | tail -n 20"},
		Probe{Service: "dovecot", Command: "grep {ip} /var/log/maillog | grep -i 'auth failed' | tail -n 20"},
	),
	model.PanelDirectAdmin: append(csfProbes[:len(csfProbes):len(csfProbes)],
		Probe{Service: "mod_security_da", Command: "grep {ip} /var/log/httpd/modsec_audit.log | tail -n 20"},
		Probe{Service: "exim", Command: "grep {ip} /var/log/exim/mainlog | grep -i 'rejected\\|denied' | tail -n 20"},
		Probe{Service: "dovecot", Command: "grep {ip} /var/log/dovecot-info.log | tail -n 20"},
	),
	// hosts without a panel get the minimal generic probe set and never
	// panel-specific log paths
	model.PanelNone: csfProbes,
}

// ProbesFor returns the probe sequence for a panel type. Unrecognized
// panel types fall back to the reduced generic set.
func ProbesFor(panel model.Panel) []Probe {
	if probes, ok := probeSets[panel]; ok {
		return probes
	}
	return probeSets[model.PanelNone]
}
