package main

import (
	"fmt"
	"runtime/debug"
)

// These variables are set at build time via -ldflags
var (
	version = "dev"
	commit  = "unknown"
)

// GetVersion returns the application version
func GetVersion() string {
	if version != "dev" {
		return version
	}

	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" && len(setting.Value) >= 7 {
				return "dev-" + setting.Value[:7]
			}
		}
	}

	if commit != "unknown" && len(commit) >= 7 {
		return "dev-" + commit[:7]
	}

	return "dev"
}

// GetUserAgent returns the User-Agent sent to the tariff and release APIs
func GetUserAgent() string {
	return fmt.Sprintf("tempod/%s", GetVersion())
}
