// Package build carries version metadata set at link time via -ldflags.
package build

import "strings"

var (
	Version = "dev"
	AppName = "afkrun"
	Slug    = ""
)

func init() {
	if Slug == "" {
		Slug = strings.ToLower(AppName)
	}
}
