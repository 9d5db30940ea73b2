// Package webassets holds the static control console served by the HTTP
// surface.
package webassets

import (
	"embed"
	"io/fs"
)

//go:embed console
var console embed.FS

// Console returns the console tree with index.html at its root.
func Console() fs.FS {
	sub, err := fs.Sub(console, "console")
	if err != nil {
		// fs.Sub only fails on an invalid path, and "console" is embedded above.
		panic(err)
	}
	return sub
}

// Index returns the console entry page.
func Index() ([]byte, error) {
	return fs.ReadFile(Console(), "index.html")
}
