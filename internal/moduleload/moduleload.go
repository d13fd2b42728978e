// Package moduleload implements the modalias-driven kernel module
// autoloader: it reads modules.alias/modules.blacklist tables, matches
// modaliases observed on the uevent stream, and defers matching until
// the alias database becomes readable (it commonly lives on a
// filesystem mounted after the device manager starts).
package moduleload

import (
	"bufio"
	"context"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/smazurov/ueventd/internal/metrics"
)

// Alias is one modules.alias entry.
type Alias struct {
	Pattern string
	Name    string
}

// Inserter loads a kernel module by name. It is the opaque
// insmod_by_dep-equivalent collaborator; ExecInserter is the default
// implementation, shelling out to modprobe.
type Inserter interface {
	Insert(ctx context.Context, module string) error
}

// ExecInserter inserts modules by invoking modprobe as a subprocess,
// mirroring the teacher's process-spawning style but reduced to a single
// short-lived, context-bounded call rather than a long-lived supervised
// process -- the autoloader has no ongoing output to stream and must not
// install signal handlers that would compete with the main event loop.
type ExecInserter struct {
	// Timeout bounds a single modprobe invocation. Zero means 10s.
	Timeout time.Duration
}

// Insert runs "modprobe -q <module>".
func (e ExecInserter) Insert(ctx context.Context, module string) error {
	timeout := e.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "modprobe", "-q", module)
	return cmd.Run()
}

// Autoloader is the modalias autoload engine.
type Autoloader struct {
	aliasPath     string
	blacklistPath string

	aliases   []Alias
	blacklist map[string]bool
	deferred  []string

	inserter Inserter
	logger   *slog.Logger
}

// New creates an autoloader that reads its tables from aliasPath and
// blacklistPath on first use.
func New(aliasPath, blacklistPath string, inserter Inserter, logger *slog.Logger) *Autoloader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Autoloader{
		aliasPath:     aliasPath,
		blacklistPath: blacklistPath,
		blacklist:     make(map[string]bool),
		inserter:      inserter,
		logger:        logger,
	}
}

// OnModalias handles a MODALIAS value observed on an add uevent. If the
// alias table has never been loaded, it attempts to load it (and the
// blacklist alongside it) and drains anything queued in the deferred
// list; id itself is then probed immediately if the tables are now
// available, or enqueued for later otherwise.
func (a *Autoloader) OnModalias(ctx context.Context, id string) {
	if !a.loaded() {
		a.tryLoadTables()
	}

	if id == "" {
		return
	}

	if !a.loaded() {
		a.deferred = append(a.deferred, id)
		return
	}

	a.loadByModalias(ctx, id)
}

// Probe is the public entry point used outside the uevent stream (for
// example udevadm-trigger-style replay). It lazily loads the tables on
// first call and returns the same result as the internal match.
func (a *Autoloader) Probe(ctx context.Context, id string) bool {
	if !a.loaded() {
		a.tryLoadTables()
	}
	if !a.loaded() {
		a.deferred = append(a.deferred, id)
		return false
	}
	return a.loadByModalias(ctx, id)
}

func (a *Autoloader) loaded() bool {
	return a.aliases != nil
}

// tryLoadTables attempts to read the alias file; on success it also
// reads the blacklist (best-effort) and drains the deferred queue.
func (a *Autoloader) tryLoadTables() {
	aliases, err := readAliases(a.aliasPath)
	if err != nil {
		a.logger.Debug("modules.alias not yet readable", "path", a.aliasPath, "error", err)
		return
	}
	a.aliases = aliases

	blacklist, err := readBlacklist(a.blacklistPath)
	if err != nil {
		a.logger.Debug("modules.blacklist not readable, continuing without it", "path", a.blacklistPath, "error", err)
	} else {
		a.blacklist = blacklist
	}

	deferred := a.deferred
	a.deferred = nil
	for _, id := range deferred {
		a.loadByModalias(context.Background(), id)
	}
}

// loadByModalias scans the alias table for every pattern that matches id
// and, skipping blacklisted modules, attempts an insert. It stops at the
// first successful insert.
func (a *Autoloader) loadByModalias(ctx context.Context, id string) bool {
	for _, alias := range a.aliases {
		ok, err := filepath.Match(alias.Pattern, id)
		if err != nil || !ok {
			continue
		}
		if a.blacklist[alias.Name] {
			continue
		}
		if err := a.inserter.Insert(ctx, alias.Name); err != nil {
			metrics.ModulesLoaded.WithLabelValues(alias.Name, "error").Inc()
			a.logger.Debug("module insert failed, trying next match", "module", alias.Name, "modalias", id, "error", err)
			continue
		}
		metrics.ModulesLoaded.WithLabelValues(alias.Name, "loaded").Inc()
		a.logger.Info("module loaded by modalias", "module", alias.Name, "modalias", id)
		return true
	}
	return false
}

// readAliases parses a modules.alias file. Each well-formed line has
// exactly three whitespace-separated tokens: the literal "alias", a
// modalias glob, and a module name. Malformed lines are skipped.
func readAliases(path string) ([]Alias, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var aliases []Alias
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) != 3 || fields[0] != "alias" {
			continue
		}
		aliases = append(aliases, Alias{Pattern: fields[1], Name: fields[2]})
	}
	if aliases == nil {
		aliases = []Alias{}
	}
	return aliases, scanner.Err()
}

// readBlacklist parses a modules.blacklist file. Each well-formed line
// has exactly two whitespace-separated tokens: the literal "blacklist"
// and a module name.
func readBlacklist(path string) (map[string]bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	blacklist := make(map[string]bool)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) != 2 || fields[0] != "blacklist" {
			continue
		}
		blacklist[fields[1]] = true
	}
	return blacklist, scanner.Err()
}
