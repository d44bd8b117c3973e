package config_test

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/elocute/internal/config"
)

const watcherBaseYAML = `
server:
  log_level: info
providers:
  assess:
    name: azure
    api_key: test-key
    options:
      region: westeurope
assessment:
  timeout: 90s
`

// Same effective settings as watcherBaseYAML: a comment plus defaults
// spelled out.
const watcherSameEffectYAML = `
# tuned for the classroom
server:
  log_level: info
providers:
  assess:
    name: azure
    api_key: test-key
    options:
      region: westeurope
assessment:
  timeout: 90s
  reconcile: true
  miscue: true
  default_language: en-US
`

const watcherRetunedYAML = `
server:
  log_level: debug
providers:
  assess:
    name: azure
    api_key: test-key
    options:
      region: westeurope
assessment:
  timeout: 30s
  substitution_aware: true
`

const watcherRegionYAML = `
server:
  log_level: info
providers:
  assess:
    name: azure
    api_key: test-key
    options:
      region: eastus
assessment:
  timeout: 90s
`

const watcherInvalidYAML = `
server:
  log_level: bananas
providers:
  assess:
    name: azure
`

type applied struct {
	diff config.ConfigDiff
	cfg  *config.Config
}

// startWatcher writes content to a temp config file and watches it. Every
// applied change is delivered on the returned channel.
func startWatcher(t *testing.T, content string) (string, *config.Watcher, <-chan applied) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, content)

	ch := make(chan applied, 8)
	w, err := config.NewWatcher(path, func(d config.ConfigDiff, cfg *config.Config) {
		ch <- applied{diff: d, cfg: cfg}
	}, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(w.Stop)
	return path, w, ch
}

// rewrite replaces the file content and moves its mtime forward so the next
// poll notices even on coarse-grained filesystems.
func rewrite(t *testing.T, path, content string) {
	t.Helper()
	writeFile(t, path, content)
	later := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %q: %v", path, err)
	}
}

func expectNone(t *testing.T, ch <-chan applied) {
	t.Helper()
	select {
	case a := <-ch:
		t.Errorf("unexpected apply: %+v", a.diff)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	_, w, _ := startWatcher(t, watcherBaseYAML)

	got := w.Current().Assessment.Settings().Timeout
	if got != 90*time.Second {
		t.Errorf("timeout = %s, want 90s", got)
	}
}

func TestWatcher_AppliesAssessmentRetune(t *testing.T) {
	t.Parallel()
	path, w, ch := startWatcher(t, watcherBaseYAML)

	rewrite(t, path, watcherRetunedYAML)

	var a applied
	select {
	case a = <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("change was not applied")
	}
	if !a.diff.LogLevelChanged || a.diff.NewLogLevel != config.LogDebug {
		t.Errorf("log level diff = %v/%q", a.diff.LogLevelChanged, a.diff.NewLogLevel)
	}
	if !slices.Equal(a.diff.AssessmentFields, []string{"timeout", "substitution_aware"}) {
		t.Errorf("AssessmentFields = %v", a.diff.AssessmentFields)
	}
	if len(a.diff.RestartRequired) != 0 {
		t.Errorf("RestartRequired = %v, want none", a.diff.RestartRequired)
	}
	set := a.cfg.Assessment.Settings()
	if set.Timeout != 30*time.Second || !set.SubstitutionAware {
		t.Errorf("settings = %+v", set)
	}
	if w.Current() != a.cfg {
		t.Error("Current() does not return the applied config")
	}
}

func TestWatcher_IgnoresEditsWithoutEffect(t *testing.T) {
	t.Parallel()
	path, w, ch := startWatcher(t, watcherBaseYAML)
	before := w.Current()

	rewrite(t, path, watcherSameEffectYAML)
	expectNone(t, ch)

	if w.Current() != before {
		t.Error("config replaced although nothing effective changed")
	}
}

func TestWatcher_ReportsRestartSections(t *testing.T) {
	t.Parallel()
	path, _, ch := startWatcher(t, watcherBaseYAML)

	rewrite(t, path, watcherRegionYAML)

	select {
	case a := <-ch:
		if a.diff.AssessmentChanged || !slices.Equal(a.diff.RestartRequired, []string{"providers"}) {
			t.Errorf("diff = %+v, want only providers restart", a.diff)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("change was not applied")
	}
}

func TestWatcher_InvalidFileKeepsPreviousConfig(t *testing.T) {
	t.Parallel()
	path, w, ch := startWatcher(t, watcherBaseYAML)
	before := w.Current()

	rewrite(t, path, watcherInvalidYAML)
	expectNone(t, ch)

	if w.Current() != before {
		t.Error("invalid file replaced the current config")
	}
	if _, err := w.Reload(); err == nil {
		t.Error("Reload of invalid file: expected error")
	}
}

func TestWatcher_ReloadOnDemand(t *testing.T) {
	t.Parallel()
	path, w, ch := startWatcher(t, watcherBaseYAML)
	// Stop polling so only the explicit reload can pick the edit up.
	w.Stop()

	writeFile(t, path, watcherRetunedYAML)
	d, err := w.Reload()
	if err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if !d.AssessmentChanged {
		t.Errorf("diff = %+v, want assessment change", d)
	}
	select {
	case <-ch:
	default:
		t.Error("Reload did not apply the change")
	}

	d, err = w.Reload()
	if err != nil {
		t.Fatalf("second Reload: %v", err)
	}
	if !d.Empty() {
		t.Errorf("second Reload diff = %+v, want empty", d)
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()
	if _, err := config.NewWatcher(filepath.Join(t.TempDir(), "missing.yaml"), nil); err == nil {
		t.Fatal("expected error for missing file")
	}
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, watcherInvalidYAML)
	if _, err := config.NewWatcher(path, nil); err == nil {
		t.Fatal("expected error for invalid file")
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	t.Parallel()
	_, w, _ := startWatcher(t, watcherBaseYAML)
	w.Stop()
	w.Stop()
}
