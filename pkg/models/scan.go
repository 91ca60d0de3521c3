package models

import "strings"

// ScanState is the backend-reported status string of a scan.
type ScanState string

const (
	ScanStatePending   ScanState = "pending"
	ScanStateRunning   ScanState = "running"
	ScanStateCompleted ScanState = "completed"
	ScanStateFailed    ScanState = "failed"
	ScanStateStopped   ScanState = "stopped"
)

func (s ScanState) String() string { return string(s) }

// IsTerminal reports whether no further progress can be observed for the scan.
// Unrecognized states are treated as non-terminal.
func (s ScanState) IsTerminal() bool {
	switch s {
	case ScanStateCompleted, ScanStateFailed, ScanStateStopped:
		return true
	default:
		return false
	}
}

// ParseScanState normalizes a status string. Unknown values are kept verbatim
// so newer backend states survive a round trip.
func ParseScanState(s string) ScanState {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending":
		return ScanStatePending
	case "running":
		return ScanStateRunning
	case "completed":
		return ScanStateCompleted
	case "failed":
		return ScanStateFailed
	case "stopped":
		return ScanStateStopped
	default:
		return ScanState(s)
	}
}

type ScanType string

const (
	ScanTypeOSINT     ScanType = "osint"
	ScanTypeSubdomain ScanType = "subdomain"
	ScanTypeVuln      ScanType = "vuln"
	ScanTypeFull      ScanType = "full"
)

func (t ScanType) String() string { return string(t) }

func KnownScanTypes() []ScanType {
	return []ScanType{ScanTypeOSINT, ScanTypeSubdomain, ScanTypeVuln, ScanTypeFull}
}

// ScanHandle identifies one scan created by the job service.
type ScanHandle struct {
	ID         string   `json:"id"`
	Target     string   `json:"target"`
	ScanType   ScanType `json:"scan_type"`
	ScriptPath string   `json:"script,omitempty"`
}

func (h ScanHandle) IsZero() bool { return h.ID == "" }

// ScanStatus is a progress snapshot fetched from the job service.
type ScanStatus struct {
	ID       string    `json:"id,omitempty"`
	Progress int       `json:"progress"`
	Message  string    `json:"message"`
	State    ScanState `json:"status"`
}

// ClampProgress bounds a reported percentage to 0..100.
func ClampProgress(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}
