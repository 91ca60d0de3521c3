package utils

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"golang.org/x/net/idna"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/text/unicode/norm"
)

var ErrInvalidTarget = errors.New("invalid target")

var labelRe = regexp.MustCompile(`^[a-zA-Z0-9\-]+$`)

func IsValidDomain(domain string) bool {
	if domain == "" || len(domain) > 253 {
		return false
	}
	for _, part := range strings.Split(domain, ".") {
		if len(part) == 0 || len(part) > 63 {
			return false
		}
		if !labelRe.MatchString(part) {
			return false
		}
		if part[0] == '-' || part[len(part)-1] == '-' {
			return false
		}
	}
	return true
}

func IsValidIP(ip string) bool {
	return net.ParseIP(ip) != nil
}

func IsValidURL(urlStr string) bool {
	u, err := url.Parse(urlStr)
	if err != nil {
		return false
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return false
	}
	h := u.Hostname()
	return IsValidIP(h) || IsValidDomain(h)
}

// NormalizeTarget turns operator input into the form sent to the job service.
// URLs keep their path and get a lowercase host, IPs pass through, and
// domains are NFC-normalized, punycoded and must have a registrable eTLD+1.
func NormalizeTarget(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("%w: target is empty", ErrInvalidTarget)
	}

	if strings.Contains(s, "://") {
		if !IsValidURL(s) {
			return "", fmt.Errorf("%w: %q is not an http(s) URL", ErrInvalidTarget, s)
		}
		u, _ := url.Parse(s)
		u.Host = strings.ToLower(u.Host)
		return u.String(), nil
	}

	if IsValidIP(s) {
		return s, nil
	}

	s = strings.TrimSuffix(norm.NFC.String(strings.ToLower(s)), ".")
	ascii, err := idna.Lookup.ToASCII(s)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidTarget, s, err)
	}
	if !IsValidDomain(ascii) {
		return "", fmt.Errorf("%w: %q is not a domain", ErrInvalidTarget, s)
	}
	if _, err := publicsuffix.EffectiveTLDPlusOne(ascii); err != nil {
		return "", fmt.Errorf("%w: %q has no registrable domain", ErrInvalidTarget, s)
	}
	return ascii, nil
}

func HumanizeDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
	if d < time.Hour {
		minutes := d / time.Minute
		seconds := (d % time.Minute) / time.Second
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	if d < 24*time.Hour {
		hours := d / time.Hour
		minutes := (d % time.Hour) / time.Minute
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	days := d / (24 * time.Hour)
	hours := (d % (24 * time.Hour)) / time.Hour
	return fmt.Sprintf("%dd %dh", days, hours)
}

func FileExists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}
