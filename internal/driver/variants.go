package driver

import (
	"strings"

	"github.com/versalogiq/logiq/internal/connector"
)

// Variant rewrites a command into one concrete form to try.
type Variant struct {
	Name  string
	Build func(cmd string) string
}

// Strategy is an ordered list of variants for a family of commands, plus the
// predicate that decides whether a variant's result is good enough to stop.
type Strategy struct {
	Name     string
	Match    func(cmd string) bool
	Variants []Variant
	Accept   func(r *connector.Result) bool
}

var plainVariant = Variant{Name: "plain", Build: func(cmd string) string { return cmd }}

// PlainStrategy runs the command once, as is.
var PlainStrategy = Strategy{
	Name:     "plain",
	Match:    func(string) bool { return true },
	Variants: []Variant{plainVariant},
	Accept:   func(*connector.Result) bool { return true },
}

// VersaStrategy bootstraps the environment for vsh, which is only on the
// PATH of login shells on Versa appliances.
var VersaStrategy = Strategy{
	Name:  "vsh",
	Match: func(cmd string) bool { return strings.HasPrefix(strings.TrimSpace(cmd), "vsh") },
	Variants: []Variant{
		plainVariant,
		{Name: "profile", Build: func(cmd string) string { return "source /etc/profile && " + cmd }},
		{Name: "path", Build: func(cmd string) string { return "export PATH=/opt/versa/bin:$PATH && " + cmd }},
		{Name: "absolute", Build: func(cmd string) string { return "/opt/versa/bin/" + strings.TrimSpace(cmd) }},
	},
	Accept: Found,
}

// DefaultStrategies are consulted in order; the first match wins.
var DefaultStrategies = []Strategy{VersaStrategy}

// Found accepts a result that printed something, or whose stderr does not
// say the command is missing.
func Found(r *connector.Result) bool {
	if r == nil {
		return false
	}
	if r.Stdout != "" {
		return true
	}
	return !strings.Contains(r.Stderr, "command not found") && !strings.Contains(r.Stderr, "No such file")
}

func strategyFor(strategies []Strategy, cmd string) Strategy {
	for _, s := range strategies {
		if s.Match(cmd) {
			return s
		}
	}
	return PlainStrategy
}
