// Package notifications delivers export job events to ntfy.
//
// The ntfy topic is configured under [notifications] in config.toml. When no
// topic is set NewService returns a no-op, so callers publish unconditionally.
// Failed jobs always notify; successful jobs only when notify_on_success is
// enabled.
package notifications
