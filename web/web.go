// Package web embeds the static upload form.
package web

import _ "embed"

// UploadForm is the HTML page served at /reza.
//
//go:embed index.html
var UploadForm []byte
