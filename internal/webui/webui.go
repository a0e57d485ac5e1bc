// Package webui embeds the browser viewer served at "/".
package webui

import _ "embed"

//go:embed index.html
var index []byte

// Index returns the viewer page.
func Index() []byte {
	return index
}
