package download

import (
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/heeplr/document-dl/internal/document"
)

// ErrNoFilename is returned when an HTTP download yields no usable name.
var ErrNoFilename = errors.New("cannot determine filename")

var dispositionRegex = regexp.MustCompile(`(?i)filename\*?\s*=\s*(?:[\w-]+'[\w-]*')?["']?([^"';]+)`)

func cleanName(name string) string {
	return strings.Trim(strings.TrimSpace(name), `"' `)
}

// filenameFromDisposition extracts the filename of a content-disposition
// header, reduced to its base name.
func filenameFromDisposition(header string) string {
	if header == "" {
		return ""
	}
	name := ""
	_, params, err := mime.ParseMediaType(header)
	if err == nil {
		name = params["filename"]
	}
	if name == "" {
		match := dispositionRegex.FindStringSubmatch(header)
		if len(match) > 1 {
			name = match[1]
		}
	}
	name = cleanName(name)
	if name == "" {
		return ""
	}
	// portals sometimes send windows paths
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	if name == "." || name == "/" {
		return ""
	}
	return name
}

// flatten keeps a derived name inside the download directory.
func flatten(name string) string {
	return strings.ReplaceAll(cleanName(name), string(filepath.Separator), "_")
}

// resolveFilename picks the name of an HTTP download: the filename
// attribute, then content-disposition, then title, then the id.
func resolveFilename(doc *document.Document, disposition string) (string, error) {
	if name, ok := doc.Filename(); ok {
		if name = cleanName(name); name != "" {
			return name, nil
		}
	}
	if name := filenameFromDisposition(disposition); name != "" {
		return name, nil
	}
	if title, err := doc.Attributes.Get(document.AttrTitle); err == nil {
		if name := flatten(title); name != "" {
			return name, nil
		}
	}
	if id, err := doc.Attributes.Get(document.AttrID); err == nil {
		if id = flatten(id); id != "" {
			return fmt.Sprintf("document-dl.%s", id), nil
		}
	}
	return "", ErrNoFilename
}
