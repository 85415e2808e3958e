package hostsession

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"

	"github.com/versalogiq/logiq/internal/driver"
)

var (
	// ErrNotReady is returned by operations that need a classified session.
	ErrNotReady = errors.New("not connected to server")
	// ErrBusy is returned when another operation holds the session.
	ErrBusy = errors.New("another operation is in progress")
	// ErrDisconnected is returned by an operation aborted by Disconnect.
	ErrDisconnected = errors.New("session disconnected")
	// ErrElevation marks failures to obtain or confirm a root shell.
	ErrElevation = errors.New("sudo elevation failed")
)

// Category is the user-facing class of a connect failure.
type Category string

const (
	CategoryDNS       Category = "DNS_ERROR"
	CategoryNetwork   Category = "NETWORK_ERROR"
	CategoryTimeout   Category = "TIMEOUT_ERROR"
	CategoryAuth      Category = "AUTH_ERROR"
	CategorySSH       Category = "SSH_ERROR"
	CategoryElevation Category = "ELEVATION_ERROR"
	CategoryUnknown   Category = "UNKNOWN_ERROR"
)

// ConnectError describes a failed connect for a person to act on.
type ConnectError struct {
	Category    Category `json:"type"`
	Title       string   `json:"title"`
	Message     string   `json:"simple_message"`
	Detail      string   `json:"detailed_message"`
	Suggestions []string `json:"suggestions"`
	Technical   string   `json:"technical_error"`
	Err         error    `json:"-"`
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("%s: %s", e.Category, e.Technical)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// AnalyzeConnectError categorises err. Typed errors are checked first, then
// the message text.
func AnalyzeConnectError(err error, host, user string) *ConnectError {
	var ce *ConnectError
	if errors.As(err, &ce) {
		return ce
	}
	cat := categorize(err)
	out := describe(cat, host, user)
	out.Err = err
	if err != nil {
		out.Technical = err.Error()
	}
	return out
}

func categorize(err error) Category {
	if err == nil {
		return CategoryUnknown
	}

	if errors.Is(err, ErrElevation) ||
		driver.IsKind(err, driver.KindElevationTimeout) ||
		driver.IsKind(err, driver.KindPasswordPromptNotFound) {
		return CategoryElevation
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && !dnsErr.IsTimeout {
		return CategoryDNS
	}
	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH) {
		return CategoryNetwork
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CategoryTimeout
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "name or service not known", "nodename nor servname provided", "no such host"):
		return CategoryDNS
	case containsAny(msg, "connection refused", "no route to host", "network is unreachable"):
		return CategoryNetwork
	case containsAny(msg, "timed out", "timeout"):
		return CategoryTimeout
	case containsAny(msg, "authentication failed", "permission denied", "unable to authenticate"):
		return CategoryAuth
	case containsAny(msg, "protocol", "ssh"):
		return CategorySSH
	default:
		return CategoryUnknown
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func describe(cat Category, host, user string) *ConnectError {
	switch cat {
	case CategoryDNS:
		return &ConnectError{
			Category: cat,
			Title:    "DNS Resolution Failed",
			Message:  fmt.Sprintf("Cannot resolve hostname: %s", host),
			Detail: fmt.Sprintf("The hostname %q could not be resolved to an IP address. "+
				"Check the hostname spelling, network connectivity and DNS server configuration.", host),
			Suggestions: []string{
				fmt.Sprintf("Verify hostname spelling: %s", host),
				"Check if you can access other hosts",
				"Try using an IP address instead of hostname",
				"Contact your network administrator",
			},
		}
	case CategoryNetwork:
		return &ConnectError{
			Category: cat,
			Title:    "Network Connection Failed",
			Message:  fmt.Sprintf("Cannot reach server: %s", host),
			Detail: fmt.Sprintf("The server %q is not reachable or refused the connection. "+
				"Check that the server is running, firewall settings and network connectivity.", host),
			Suggestions: []string{
				"Verify the server is powered on and running",
				"Check firewall rules on both client and server",
				"Ensure SSH service is running on the server",
				"Test connectivity with ping or telnet",
			},
		}
	case CategoryTimeout:
		return &ConnectError{
			Category: cat,
			Title:    "Connection Timeout",
			Message:  fmt.Sprintf("Connection to %s timed out", host),
			Detail:   fmt.Sprintf("The connection to %q timed out. The server may be slow to respond or unreachable.", host),
			Suggestions: []string{
				"Check if the server is responding slowly",
				"Verify network connectivity",
				"Try increasing timeout settings",
				"Check if server is under heavy load",
			},
		}
	case CategoryAuth:
		return &ConnectError{
			Category: cat,
			Title:    "Authentication Failed",
			Message:  fmt.Sprintf("Invalid credentials for user: %s", user),
			Detail: fmt.Sprintf("Authentication failed for user %q. "+
				"Check the username and password and that the account is not locked.", user),
			Suggestions: []string{
				"Verify username and password are correct",
				"Check if account is locked or disabled",
				"Ensure SSH service allows password authentication",
				"Contact your system administrator",
			},
		}
	case CategorySSH:
		return &ConnectError{
			Category: cat,
			Title:    "SSH Protocol Error",
			Message:  fmt.Sprintf("SSH protocol error connecting to %s", host),
			Detail:   "There was an SSH protocol error. This could indicate version incompatibility or configuration issues.",
			Suggestions: []string{
				"Verify SSH service is running on the server",
				"Check SSH configuration on the server",
				"Ensure compatible SSH protocol versions",
				"Review SSH logs on the server",
			},
		}
	case CategoryElevation:
		return &ConnectError{
			Category: cat,
			Title:    "Privilege Elevation Failed",
			Message:  fmt.Sprintf("Could not obtain a root shell on %s", host),
			Detail: fmt.Sprintf("Logged in as %q but 'sudo su' did not produce a root shell. "+
				"The admin password may be wrong or the account may lack sudo rights.", user),
			Suggestions: []string{
				"Verify the admin (sudo) password",
				fmt.Sprintf("Check that %s is listed in sudoers", user),
				"Try 'sudo su' manually to see the prompt the server presents",
			},
		}
	default:
		return &ConnectError{
			Category: CategoryUnknown,
			Title:    "Connection Error",
			Message:  fmt.Sprintf("Failed to connect to %s", host),
			Detail:   fmt.Sprintf("An unexpected error occurred while connecting to %q. Review the technical details.", host),
			Suggestions: []string{
				"Check all connection parameters",
				"Verify server accessibility",
				"Review the technical error message",
				"Contact technical support if needed",
			},
		}
	}
}
