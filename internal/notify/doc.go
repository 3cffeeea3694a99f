// Package notify delivers workflow events via pluggable notifiers.
//
// The default implementation publishes to ntfy using the topic configured in
// config.toml and gracefully degrades to a no-op when notifications are
// disabled. Workflow code depends only on the Service interface, so alternate
// transports can be added without touching stage logic.
package notify
