package loader

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

const jsonSuffix = ".json"

// IsJSONSource reports whether an argument names an input document: it must
// end in ".json" and be longer than the suffix itself.
func IsJSONSource(name string) bool {
	return len(name) > len(jsonSuffix) && strings.HasSuffix(name, jsonSuffix)
}

// FilterSources keeps the arguments accepted by IsJSONSource, in order.
func FilterSources(args []string) []string {
	out := make([]string, 0, len(args))
	for _, arg := range args {
		if IsJSONSource(arg) {
			out = append(out, arg)
		}
	}
	return out
}

// SourceURL maps a local path to an absolute file:// URL. http and https
// URLs are returned unchanged.
func SourceURL(source string) (string, error) {
	if isRemote(source) {
		return source, nil
	}
	abs, err := filepath.Abs(source)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", source, err)
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}
	return u.String(), nil
}

func isRemote(source string) bool {
	u, err := url.Parse(source)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
