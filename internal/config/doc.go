// Package config loads the bridge configuration from a JSON or YAML file and
// keeps the active snapshot behind a Manager that supports hot reload, so the
// "#更新配置" command can swap model endpoints and command phrases at runtime.
package config
