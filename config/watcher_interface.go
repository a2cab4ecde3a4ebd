package config

// Watcher publishes configuration reloads. Subscribers receive every
// successfully validated config; invalid edits are logged and skipped.
type Watcher interface {
	GetCurrentConfig() *Config
	Subscribe() <-chan *Config
	Close() error
}
