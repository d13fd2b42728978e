package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/pelletier/go-toml/v2"
)

// DevRule is one device-node permission entry from a rules file.
type DevRule struct {
	Pattern string `toml:"pattern"`
	Mode    string `toml:"mode"`
	UID     int    `toml:"uid"`
	GID     int    `toml:"gid"`
}

// SysRule is one sysfs-attribute permission entry from a rules file.
type SysRule struct {
	Pattern string `toml:"pattern"`
	Attr    string `toml:"attr"`
	Mode    string `toml:"mode"`
	UID     int    `toml:"uid"`
	GID     int    `toml:"gid"`
}

// ProductRule is one ProductPermEntry from a rules file.
type ProductRule struct {
	Prefix string `toml:"prefix"`
	Mode   string `toml:"mode"`
	UID    int    `toml:"uid"`
	GID    int    `toml:"gid"`
}

// RulesFile is the parsed shape of the TOML permission rules file. This
// is a structured replacement for the rule-file format; it is not a
// parser for that original text syntax.
type RulesFile struct {
	DevRules     []DevRule     `toml:"dev_rules"`
	SysRules     []SysRule     `toml:"sys_rules"`
	ProductRules []ProductRule `toml:"product_rules"`
}

// LoadRules reads and parses a rules file. A missing path is not an
// error -- it returns an empty RulesFile so the daemon can run with only
// the compiled-in defaults.
func LoadRules(path string) (RulesFile, error) {
	var rf RulesFile
	if path == "" {
		return rf, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return rf, nil
		}
		return rf, fmt.Errorf("config: read rules file: %w", err)
	}

	if err := toml.Unmarshal(data, &rf); err != nil {
		return rf, fmt.Errorf("config: parse rules file: %w", err)
	}
	return rf, nil
}

// ParseMode parses an octal mode string such as "0660", defaulting to
// 0600 if s is empty or malformed.
func ParseMode(s string) os.FileMode {
	if s == "" {
		return 0600
	}
	n, err := strconv.ParseUint(s, 8, 32)
	if err != nil {
		return 0600
	}
	return os.FileMode(n)
}
