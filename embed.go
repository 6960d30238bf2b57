package main

import (
	"embed"
	"io/fs"
)

//go:embed profiles/*.yaml
var profilesFS embed.FS

// RoasterProfiles returns the embedded roaster profile directory. An
// external directory from config takes precedence when set.
func RoasterProfiles() fs.FS {
	return profilesFS
}
