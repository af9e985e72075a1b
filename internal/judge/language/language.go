// Package language maps user facing language names to execution backend ids.
package language

import (
	"sort"
	"strings"

	appErr "codejudge/pkg/errors"
)

// ID is the execution backend language id.
type ID int

// Canonical language names stored on submissions.
const (
	CPP        = "c++"
	Java       = "java"
	JavaScript = "javascript"
)

var backendIDs = map[string]ID{
	CPP:        54,
	Java:       62,
	JavaScript: 63,
}

// aliases used by editors in the UI.
var aliases = map[string]string{
	"cpp": CPP,
}

// Normalize lowercases name and maps editor aliases to the canonical name.
func Normalize(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	if canonical, ok := aliases[n]; ok {
		return canonical
	}
	return n
}

// Resolve returns the backend id for a canonical language name, case-insensitive.
func Resolve(name string) (ID, error) {
	id, ok := backendIDs[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, appErr.Newf(appErr.LanguageNotSupported, "language %q is not supported", name).
			WithDetail("supported", Supported())
	}
	return id, nil
}

// Supported lists canonical language names in stable order.
func Supported() []string {
	names := make([]string, 0, len(backendIDs))
	for name := range backendIDs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
