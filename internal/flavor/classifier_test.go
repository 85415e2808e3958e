package flavor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/versalogiq/logiq/internal/connector"
)

// scriptedExecutor answers probes from a table and records every call.
type scriptedExecutor struct {
	mu      sync.Mutex
	outputs map[string]string
	fail    map[string]error
	calls   []string
	sudo    []bool
}

func (e *scriptedExecutor) Run(_ context.Context, command string, _ time.Duration, useSudo bool) (*connector.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, command)
	e.sudo = append(e.sudo, useSudo)
	if err, ok := e.fail[command]; ok {
		return nil, err
	}
	return &connector.Result{Stdout: e.outputs[command]}, nil
}

func mustCatalog(t *testing.T, rules ...Rule) *Catalog {
	t.Helper()
	c, err := NewCatalog(rules)
	require.NoError(t, err)
	return c
}

func TestClassifyFirstMatchByPriority(t *testing.T) {
	catalog := mustCatalog(t,
		Rule{FlavorKey: "vos", FlavorName: "VOS", Command: "probe-b", RequiredPatterns: []string{"ver-y"}, Priority: 5},
		Rule{FlavorKey: "vms", FlavorName: "VMS", Command: "probe-a", RequiredPatterns: []string{"svc-x"}, Priority: 10},
	)
	exec := &scriptedExecutor{outputs: map[string]string{
		"probe-a": "svc-x running",
		"probe-b": "ver-y",
	}}

	res, err := NewClassifier(catalog).Classify(context.Background(), exec)
	require.NoError(t, err)
	assert.Equal(t, "vms", res.Key)
	assert.Equal(t, "VMS", res.Name)
	assert.Equal(t, 1, res.Probes)
	assert.Equal(t, []string{"probe-a"}, exec.calls, "probe-b must never run")
}

func TestClassifyStopsAfterFirstMatch(t *testing.T) {
	catalog := mustCatalog(t,
		Rule{FlavorKey: "one", Command: "same", RequiredPatterns: []string{"x"}, Priority: 1},
		Rule{FlavorKey: "two", Command: "same", RequiredPatterns: []string{"x"}, Priority: 1},
	)
	exec := &scriptedExecutor{outputs: map[string]string{"same": "x"}}

	res, err := NewClassifier(catalog).Classify(context.Background(), exec)
	require.NoError(t, err)
	assert.Equal(t, "one", res.Key, "ties keep construction order")
	assert.Len(t, exec.calls, 1)
}

func TestClassifyEmptyCatalog(t *testing.T) {
	exec := &scriptedExecutor{}

	res, err := NewClassifier(nil).Classify(context.Background(), exec)
	require.NoError(t, err)
	assert.True(t, res.Unknown())
	assert.Equal(t, "Unknown", res.Name)
	assert.Empty(t, exec.calls)
}

func TestClassifyExecutionFailureContinues(t *testing.T) {
	catalog := mustCatalog(t,
		Rule{FlavorKey: "vms", Command: "vsh status", UseSudo: true, RequiredPatterns: []string{"msgservice"}, Priority: 10},
		Rule{FlavorKey: "ubuntu", Command: "cat /etc/os-release", RequiredPatterns: []string{"ubuntu"}, Priority: 1},
	)
	exec := &scriptedExecutor{
		fail:    map[string]error{"vsh status": errors.New("elevation timed out")},
		outputs: map[string]string{"cat /etc/os-release": "ID=ubuntu"},
	}

	var probes []Probe
	c := NewClassifier(catalog, WithObserver(func(p Probe) { probes = append(probes, p) }))
	res, err := c.Classify(context.Background(), exec)
	require.NoError(t, err)
	assert.Equal(t, "ubuntu", res.Key)
	assert.Equal(t, []bool{true, false}, exec.sudo)

	require.Len(t, probes, 2)
	assert.Equal(t, ExecutionFailed, probes[0].Outcome)
	assert.Error(t, probes[0].Err)
	assert.Equal(t, Matched, probes[1].Outcome)
}

func TestClassifyNoMatch(t *testing.T) {
	catalog := mustCatalog(t,
		Rule{FlavorKey: "vms", Command: "a", RequiredPatterns: []string{"x"}},
		Rule{FlavorKey: "broken", Command: "b"},
	)
	exec := &scriptedExecutor{outputs: map[string]string{"a": "y", "b": "anything"}}

	var outcomes []Outcome
	c := NewClassifier(catalog, WithObserver(func(p Probe) { outcomes = append(outcomes, p.Outcome) }))
	res, err := c.Classify(context.Background(), exec)
	require.NoError(t, err)
	assert.True(t, res.Unknown())
	assert.Equal(t, 2, res.Probes)
	assert.Equal(t, []Outcome{NoMatch, NoMatch}, outcomes, "a rule without patterns never matches")
}

func TestClassifyCancelled(t *testing.T) {
	catalog := mustCatalog(t,
		Rule{FlavorKey: "a", Command: "a", RequiredPatterns: []string{"x"}},
		Rule{FlavorKey: "b", Command: "b", RequiredPatterns: []string{"x"}},
	)
	ctx, cancel := context.WithCancel(context.Background())
	exec := ExecutorFunc(func(context.Context, string, time.Duration, bool) (*connector.Result, error) {
		cancel()
		return &connector.Result{}, nil
	})

	res, err := NewClassifier(catalog).Classify(ctx, exec)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, res.Unknown())
	assert.Equal(t, 1, res.Probes)
}

func TestClassifyPassesRuleTimeout(t *testing.T) {
	catalog := mustCatalog(t, Rule{FlavorKey: "a", Command: "a", RequiredPatterns: []string{"x"}, Timeout: 7})
	var got time.Duration
	exec := ExecutorFunc(func(_ context.Context, _ string, timeout time.Duration, _ bool) (*connector.Result, error) {
		got = timeout
		return nil, nil
	})

	_, err := NewClassifier(catalog).Classify(context.Background(), exec)
	require.NoError(t, err)
	assert.Equal(t, 7*time.Second, got)
}

func TestClassifyPriorityOrderProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		priorities := rapid.SliceOfNDistinct(rapid.IntRange(-50, 50), 1, 12, rapid.ID[int]).Draw(t, "priorities")

		rules := make([]Rule, len(priorities))
		for i, p := range priorities {
			rules[i] = Rule{
				FlavorKey:        fmt.Sprintf("f%d", i),
				Command:          fmt.Sprintf("probe-%d", p),
				RequiredPatterns: []string{"never-printed"},
				Priority:         p,
			}
		}
		catalog, err := NewCatalog(rules)
		if err != nil {
			t.Fatal(err)
		}

		byCommand := map[string]int{}
		for _, r := range rules {
			byCommand[r.Command] = r.Priority
		}

		exec := &scriptedExecutor{}
		if _, err := NewClassifier(catalog).Classify(context.Background(), exec); err != nil {
			t.Fatal(err)
		}
		if len(exec.calls) != len(rules) {
			t.Fatalf("expected %d probes, got %d", len(rules), len(exec.calls))
		}
		for i := 1; i < len(exec.calls); i++ {
			if byCommand[exec.calls[i]] > byCommand[exec.calls[i-1]] {
				t.Fatalf("probe %d (priority %d) ran after lower priority %d",
					i, byCommand[exec.calls[i]], byCommand[exec.calls[i-1]])
			}
		}
	})
}

func TestClassifyFirstMatchProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 10).Draw(t, "n")
		matching := rapid.SliceOfN(rapid.Bool(), n, n).Draw(t, "matching")

		rules := make([]Rule, n)
		outputs := map[string]string{}
		for i := range rules {
			cmd := fmt.Sprintf("probe-%d", i)
			rules[i] = Rule{FlavorKey: fmt.Sprintf("f%d", i), Command: cmd, RequiredPatterns: []string{"hit"}, Priority: n - i}
			if matching[i] {
				outputs[cmd] = "hit"
			}
		}
		catalog, _ := NewCatalog(rules)
		exec := &scriptedExecutor{outputs: outputs}

		res, _ := NewClassifier(catalog).Classify(context.Background(), exec)

		first := -1
		for i, m := range matching {
			if m {
				first = i
				break
			}
		}
		if first < 0 {
			if !res.Unknown() || len(exec.calls) != n {
				t.Fatalf("expected unknown after %d probes, got %s after %d", n, res.Key, len(exec.calls))
			}
			return
		}
		if res.Key != rules[first].FlavorKey || len(exec.calls) != first+1 {
			t.Fatalf("expected %s after %d probes, got %s after %d", rules[first].FlavorKey, first+1, res.Key, len(exec.calls))
		}
	})
}
