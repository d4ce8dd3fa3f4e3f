/*
Package log provides vaultd's global structured logger, built on zerolog.

Init configures the package-level Logger once at startup:

  - Config.Level ("debug", "info", "warn" or "error"; any other value
    means info) sets zerolog's global level.
  - Config.JSONOutput chooses JSON lines; otherwise zerolog's console
    writer is used, with RFC 3339 timestamps.
  - Config.Output is the destination writer; nil means os.Stdout.

Every record carries a timestamp.

WithComponent returns a child logger that adds a "component" field to
every record. Info, Debug, Warn, Error and Fatal log a plain message at
their level (Fatal then exits the process, as zerolog's Fatal does), and
Errorf logs its first argument as the message at error level with err
attached.

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

	log.Info("vault unlocked")

	auditLog := log.WithComponent("audit")
	auditLog.Warn().Str("group_id", "github").Msg("flush buffer full")

# See Also

  - Zerolog documentation: https://github.com/rs/zerolog
*/
package log
