package cmd

// Options holds every daemon setting, loaded with CLI flags taking
// precedence over environment variables (UEVENTD_ prefix) taking
// precedence over the TOML config file. The field name drives the
// generated flag name (config.FieldNameToFlag); the TOML path and env var
// come from each field's toml and env struct tags.
type Options struct {
	Config string `toml:"-" env:"CONFIG" usage:"path to TOML config file"`

	SocketRecvBuf int `toml:"socket.recv_buf" env:"SOCKET_RECV_BUF" usage:"netlink receive buffer size; not read by the daemon, the socket always requests 1 MiB"`

	ModulesAliasPath     string `toml:"modules.alias_path" env:"MODULES_ALIAS_PATH" usage:"path to modules.alias"`
	ModulesBlacklistPath string `toml:"modules.blacklist_path" env:"MODULES_BLACKLIST_PATH" usage:"path to modules.blacklist"`

	FirmwareSearchPath      []string `toml:"firmware.search_path" env:"FIRMWARE_SEARCH_PATH" usage:"comma-separated firmware search directories"`
	FirmwareBootingSentinel string   `toml:"firmware.booting_sentinel" env:"FIRMWARE_BOOTING_SENTINEL" usage:"path whose presence gates the firmware retry loop"`

	ColdbootSentinel string `toml:"coldboot.sentinel" env:"COLDBOOT_SENTINEL" usage:"sentinel file marking coldboot already done"`

	InstallIDPrefix string `toml:"device.install_id_prefix" env:"INSTALL_ID_PREFIX" usage:"ro.boot.install_id prefix enabling GPT by-name links"`
	RulesFile       string `toml:"device.rules_file" env:"RULES_FILE" usage:"path to the TOML device/sysfs/product permission rules file"`

	StatusAddr string `toml:"status.listen_addr" env:"STATUS_ADDR" usage:"listen address for the healthz/metrics/events HTTP surface"`

	LogLevel  string `toml:"logging.level" env:"LOG_LEVEL" usage:"log level: debug, info, warn, error"`
	LogFormat string `toml:"logging.format" env:"LOG_FORMAT" usage:"log format: text or json"`
}

// defaultOptions returns the daemon's baseline settings before config
// file, environment, or flag overrides are applied.
func defaultOptions() *Options {
	return &Options{
		SocketRecvBuf:           1 << 20,
		ModulesAliasPath:        "/lib/modules/modules.alias",
		ModulesBlacklistPath:    "/lib/modules/modules.blacklist",
		FirmwareSearchPath:      []string{"/lib/firmware", "/vendor/firmware"},
		FirmwareBootingSentinel: "/dev/.booting",
		ColdbootSentinel:        "/dev/.coldboot_done",
		StatusAddr:              "127.0.0.1:9780",
		LogLevel:                "info",
		LogFormat:               "text",
	}
}
