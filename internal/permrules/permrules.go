// Package permrules implements the ordered device-node and sysfs-attribute
// permission rule tables: two append-only lists matched by glob or exact
// comparison, with deliberately different scan directions for the two
// tables (see Rules.LookupDev and Rules.FixupSys).
package permrules

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/gobwas/glob"
)

// maxSysPath bounds the composed /sys{path}/{attr} buffer; rules whose
// composed path would exceed it are silently skipped, matching the
// original's small fixed-size scratch buffer.
const maxSysPath = 512

// defaultMode/UID/GID are returned by LookupDev when no rule matches a
// device path.
const (
	defaultMode = 0600
	defaultUID  = 0
	defaultGID  = 0
)

// Rule is one permission entry. Attr is empty for a device-node rule and
// non-empty for a sysfs-attribute rule.
type Rule struct {
	Pattern  string
	Attr     string
	Mode     os.FileMode
	UID      int
	GID      int
	Wildcard bool

	matcher glob.Glob
}

// Rules holds the device and sysfs rule tables and knows how to apply
// them. The chown/chmod hooks exist so tests can exercise FixupSys
// without needing root or real sysfs paths.
type Rules struct {
	devRules []Rule
	sysRules []Rule

	chown func(path string, uid, gid int) error
	chmod func(path string, mode os.FileMode) error

	logger *slog.Logger
}

// New creates an empty rule set.
func New(logger *slog.Logger) *Rules {
	if logger == nil {
		logger = slog.Default()
	}
	return &Rules{
		chown:  os.Chown,
		chmod:  os.Chmod,
		logger: logger,
	}
}

// Add appends a rule to the device table (attr == "") or the sysfs table
// (attr != ""). Insertion order is the match order within each table.
func (r *Rules) Add(pattern, attr string, mode os.FileMode, uid, gid int, wildcard bool) {
	rule := Rule{Pattern: pattern, Attr: attr, Mode: mode, UID: uid, GID: gid, Wildcard: wildcard}
	if wildcard {
		// No separator runes, matching fnmatch(3) with FNM_PATHNAME unset:
		// '*' and '?' cross '/' the same way the original's rule matching does.
		g, err := glob.Compile(pattern)
		if err != nil {
			r.logger.Warn("invalid glob pattern, rule will never match", "pattern", pattern, "error", err)
		} else {
			rule.matcher = g
		}
	}
	if attr == "" {
		r.devRules = append(r.devRules, rule)
	} else {
		r.sysRules = append(r.sysRules, rule)
	}
}

// LookupDev returns the owner/mode for a device path by scanning the
// device table newest-first, so a rule loaded later overrides an
// earlier, more general one for the same path. It returns the default
// 0600/0/0 when nothing matches.
func (r *Rules) LookupDev(path string) (mode os.FileMode, uid, gid int) {
	for i := len(r.devRules) - 1; i >= 0; i-- {
		rule := r.devRules[i]
		if match(rule, path) {
			return rule.Mode, rule.UID, rule.GID
		}
	}
	return defaultMode, defaultUID, defaultGID
}

// FixupSys applies every sysfs rule whose pattern matches
// "/sys"+sysUpath, oldest-first, chowning then chmoding
// "/sys"+sysUpath+"/"+attr for each match. Rules whose composed path
// would overflow the scratch buffer are skipped with a log line rather
// than failing the whole fixup.
func (r *Rules) FixupSys(sysUpath string) {
	candidate := "/sys" + sysUpath
	for _, rule := range r.sysRules {
		if !match(rule, candidate) {
			continue
		}

		composed := candidate + "/" + rule.Attr
		if len(composed) >= maxSysPath {
			r.logger.Warn("sysfs fixup path too long, skipping", "path", composed)
			continue
		}

		if err := r.chown(composed, rule.UID, rule.GID); err != nil {
			r.logger.Debug("sysfs chown failed", "path", composed, "error", err)
			continue
		}
		if err := r.chmod(composed, rule.Mode); err != nil {
			r.logger.Debug("sysfs chmod failed", "path", composed, "error", err)
		}
	}
}

// match applies a rule's pattern to path using shell-style glob matching
// when Wildcard is set, and a byte-exact comparison otherwise.
func match(rule Rule, path string) bool {
	if !rule.Wildcard {
		return rule.Pattern == path
	}
	if rule.matcher == nil {
		return false
	}
	return rule.matcher.Match(path)
}

// ContainsGlob reports whether pattern contains any shell glob
// metacharacter, the same heuristic the rule-file loader (out of scope
// here) uses to decide the wildcard flag for add_dev_perm/add_sys_perm.
func ContainsGlob(pattern string) bool {
	for _, r := range pattern {
		switch r {
		case '*', '?', '[':
			return true
		}
	}
	return false
}

// String renders a rule for debug logging.
func (r Rule) String() string {
	if r.Attr == "" {
		return fmt.Sprintf("dev %s mode=%o uid=%d gid=%d wildcard=%t", r.Pattern, r.Mode, r.UID, r.GID, r.Wildcard)
	}
	return fmt.Sprintf("sys %s attr=%s mode=%o uid=%d gid=%d wildcard=%t", r.Pattern, r.Attr, r.Mode, r.UID, r.GID, r.Wildcard)
}
