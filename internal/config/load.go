package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// ServerURLEnv points a single run at another coach backend without editing the file.
const ServerURLEnv = "SPEAKCOACH_SERVER_URL"

// Loaded captures resolved config path, parsed values, and non-fatal warnings.
type Loaded struct {
	Path     string
	Config   Config
	Warnings []Warning
	Exists   bool
}

// Load resolves and reads the config file, then applies the server URL
// override. The merged result is validated once more so an override cannot
// slip an unusable base_url past Validate.
func Load(explicitPath string) (Loaded, error) {
	resolvedPath, err := ResolvePath(explicitPath)
	if err != nil {
		return Loaded{}, err
	}

	loaded := Loaded{Path: resolvedPath, Config: Default()}
	content, err := os.ReadFile(resolvedPath)
	switch {
	case err == nil:
		cfg, warnings, parseErr := Parse(string(content), loaded.Config)
		if parseErr != nil {
			return Loaded{}, fmt.Errorf("parse config %q: %w", resolvedPath, parseErr)
		}
		loaded.Config = cfg
		loaded.Warnings = warnings
		loaded.Exists = true
	case errors.Is(err, os.ErrNotExist):
		loaded.Warnings = []Warning{{
			Message: fmt.Sprintf("config file %q not found; using defaults", resolvedPath),
		}}
	default:
		return Loaded{}, fmt.Errorf("read config %q: %w", resolvedPath, err)
	}

	override := strings.TrimSpace(os.Getenv(ServerURLEnv))
	if override == "" {
		return loaded, nil
	}
	loaded.Config.Server.BaseURL = override
	warnings, err := Validate(loaded.Config)
	if err != nil {
		return Loaded{}, fmt.Errorf("%s: %w", ServerURLEnv, err)
	}
	loaded.Warnings = append(loaded.Warnings, Warning{
		Message: fmt.Sprintf("server.base_url overridden by %s", ServerURLEnv),
	})
	for _, w := range warnings {
		if !containsWarning(loaded.Warnings, w) {
			loaded.Warnings = append(loaded.Warnings, w)
		}
	}
	return loaded, nil
}

func containsWarning(warnings []Warning, w Warning) bool {
	for _, existing := range warnings {
		if existing == w {
			return true
		}
	}
	return false
}
