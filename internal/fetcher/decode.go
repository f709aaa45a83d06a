package fetcher

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/transform"
)

// DefaultEncodings is the fallback order for source files.
var DefaultEncodings = []string{"utf-8", "iso-8859-1", "windows-1252"}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// aliases ianaindex does not know.
var encodingAliases = map[string]string{
	"utf8":    "utf-8",
	"latin-1": "iso-8859-1",
	"latin1":  "iso-8859-1",
	"cp1252":  "windows-1252",
}

// EncodingError is returned when no configured encoding could decode a file.
type EncodingError struct {
	Path  string
	Tried []string
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("fetcher: could not decode %s with any of [%s]", e.Path, strings.Join(e.Tried, ", "))
}

// Decode converts data to UTF-8 using the first encoding in names that
// accepts it, and returns the decoded text plus the name that worked.
// utf-8 is strict: invalid sequences move on to the next encoding.
// A leading byte order mark is dropped.
func Decode(path string, data []byte, names []string) (string, string, error) {
	if len(names) == 0 {
		names = DefaultEncodings
	}

	var tried []string
	for _, name := range names {
		canonical := strings.ToLower(strings.TrimSpace(name))
		if alias, ok := encodingAliases[canonical]; ok {
			canonical = alias
		}
		tried = append(tried, canonical)

		out, err := decodeAs(data, canonical)
		if err != nil {
			continue
		}
		return string(bytes.TrimPrefix(out, utf8BOM)), canonical, nil
	}

	return "", "", &EncodingError{Path: path, Tried: tried}
}

func decodeAs(data []byte, name string) ([]byte, error) {
	if name == "utf-8" {
		if _, _, err := transform.Bytes(encoding.UTF8Validator, data); err != nil {
			return nil, eris.Wrap(err, "fetcher: invalid utf-8")
		}
		return data, nil
	}

	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: unknown encoding %q", name)
	}
	if enc == nil {
		return nil, eris.Errorf("fetcher: unsupported encoding %q", name)
	}
	out, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: decode %s", name)
	}
	return out, nil
}
