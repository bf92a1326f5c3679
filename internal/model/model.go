package model

import (
	"fmt"
	"time"
)

// Panel is the control-panel flavor of a managed host. It selects which
// diagnostic commands and log paths apply during a firewall check.
type Panel string

const (
	PanelCPanel      Panel = "cpanel"
	PanelDirectAdmin Panel = "directadmin"
	PanelNone        Panel = "none"
)

// Host is a managed server checks run against.
type Host struct {
	ID    int64  `json:"id"`
	FQDN  string `json:"fqdn"`
	Addr  string `json:"addr"`
	Port  int    `json:"port"`
	User  string `json:"user"`
	Panel Panel  `json:"panel"`

	// Currently installed ephemeral public key, empty when none.
	PublicKey    string     `json:"public_key,omitempty"`
	KeyCreatedAt *time.Time `json:"key_created_at,omitempty"`

	// Pinned sshd host key in authorized_keys format, recorded on the
	// first connect and required to match on every later one.
	HostKey string `json:"host_key,omitempty"`
}

// User is an acting account. Administrators may run checks against any
// host, everyone else needs an explicit grant.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Admin bool   `json:"admin"`
}

func (h Host) Endpoint() string {
	port := h.Port
	if port == 0 {
		port = 22
	}
	return fmt.Sprintf("%s:%d", h.Addr, port)
}

// Credential is an ephemeral SSH key pair scoped to one check. The private
// half lives only in a short-lived file outside the web root, the public
// half is installed on the host for the duration of the check.
type Credential struct {
	PrivateKeyPath string
	PublicKey      string // authorized_keys line
	CreatedAt      time.Time
}

// CommandResult is the raw output of one remote diagnostic command.
// Empty output means "no match found", not an error.
type CommandResult struct {
	Name   string
	Output string
}

// Finding is the parsed form of one command's output: either a decoded
// JSON payload or the ordered non-empty trimmed lines.
type Finding struct {
	JSON  any      `json:"json,omitempty"`
	Lines []string `json:"lines,omitempty"`
}

func (f Finding) IsZero() bool {
	return f.JSON == nil && len(f.Lines) == 0
}

// DenyMatch holds the ip/date pair extracted from a deny-list line.
// Either field alone is a valid match; both empty means no information.
type DenyMatch struct {
	IP   string `json:"ip,omitempty"`
	Date string `json:"date,omitempty"`
}

func (m DenyMatch) IsZero() bool {
	return m.IP == "" && m.Date == ""
}

// ServiceLog is the per-service slice of an analysis: the raw finding,
// the extracted deny match (if any) and whether the block is temporary.
type ServiceLog struct {
	Finding   Finding   `json:"finding"`
	Match     DenyMatch `json:"match"`
	Temporary bool      `json:"temporary,omitempty"`
}

func (l ServiceLog) Matched() bool {
	return !l.Match.IsZero()
}

// Analysis aggregates per-service findings for one host and one IP.
type Analysis struct {
	IP       string                `json:"ip"`
	Services map[string]ServiceLog `json:"services"`
}

// WasBlocked reports whether at least one service yielded a deny match.
func (a Analysis) WasBlocked() bool {
	for _, l := range a.Services {
		if l.Matched() {
			return true
		}
	}
	return false
}

// PermanentMatched reports whether a permanent deny list matched.
func (a Analysis) PermanentMatched() bool {
	for _, l := range a.Services {
		if l.Matched() && !l.Temporary {
			return true
		}
	}
	return false
}

// TemporaryMatched reports whether a temporary block list matched.
func (a Analysis) TemporaryMatched() bool {
	for _, l := range a.Services {
		if l.Matched() && l.Temporary {
			return true
		}
	}
	return false
}

// Report is the persisted record of one completed check. Immutable after
// creation; reads past ExpiresAt are refused.
type Report struct {
	ID        string                `json:"id"`
	UserID    string                `json:"user_id"`
	HostID    int64                 `json:"host_id"`
	IP        string                `json:"ip"`
	Services  map[string]ServiceLog `json:"services"`
	Summary   string                `json:"summary"`
	Blocked   bool                  `json:"blocked"`
	Unblocked bool                  `json:"unblocked"`
	Success   bool                  `json:"success"`
	CreatedAt time.Time             `json:"created_at"`
	ExpiresAt time.Time             `json:"expires_at"`
}

func (r Report) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// Vector identifies the dimension a throttle or abuse incident applies to.
type Vector string

const (
	VectorIP     Vector = "ip"
	VectorEmail  Vector = "email"
	VectorDomain Vector = "domain"
	VectorSubnet Vector = "subnet"
	VectorGlobal Vector = "global"
)

// AbuseIncident is created on throttle violation, honeypot trigger,
// IP mismatch or repeated verification failure. Resolved manually.
type AbuseIncident struct {
	ID         string     `json:"id"`
	Vector     Vector     `json:"vector"`
	Identifier string     `json:"identifier"`
	Reason     string     `json:"reason"`
	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// Reputation holds rolling counters for one email address or IP.
// Counters only accumulate, advisory signal only.
type Reputation struct {
	Identifier string    `json:"identifier"`
	Requested  int64     `json:"requested"`
	Verified   int64     `json:"verified"`
	Failed     int64     `json:"failed"`
	UpdatedAt  time.Time `json:"updated_at"`
}
