// Package narinfo implements the line-oriented narinfo wire format:
// parsing, emission, and the fingerprint used for cache signatures.
// This is hand-rolled rather than delegated to a third-party library
// because spec.md names it as part of the core pipeline's own budget
// (the Narinfo Codec), not an ambient concern — see DESIGN.md.
package narinfo

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
)

// ContentType is the media type this server uses for narinfo responses.
const ContentType = "text/x-nix-narinfo"

var lineRe = regexp.MustCompile(`^(\w+):\s*(.*)$`)

// NarInfo is a parsed narinfo record. Repeated Sig lines collect into
// Sigs in order. Unknown keys are retained in Extra, preserving
// insertion order within each key's value list, so that a key
// appearing more than once collapses into a list rather than
// overwriting itself.
type NarInfo struct {
	StorePath   string
	URL         string
	Compression string
	NarHash     string
	NarSize     int64
	References  []string
	Deriver     string
	Sigs        []string

	// Extra holds any keys other than the well-known ones above, for
	// forward compatibility. Values keep their order within a key; the
	// order of the keys themselves is not kept.
	Extra map[string][]string
}

// Parse reads a narinfo record from r. Lines that don't match
// `^(\w+):\s*(.*)$` are silently skipped, per spec §4.3.
func Parse(r io.Reader) (*NarInfo, error) {
	ni := &NarInfo{}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		m := lineRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		key, value := m[1], m[2]

		switch key {
		case "StorePath":
			ni.StorePath = value
		case "URL":
			ni.URL = value
		case "Compression":
			ni.Compression = value
		case "NarHash":
			ni.NarHash = value
		case "NarSize":
			size, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("narinfo: invalid NarSize %q: %w", value, err)
			}
			ni.NarSize = size
		case "References":
			if value != "" {
				ni.References = strings.Fields(value)
			}
		case "Deriver":
			ni.Deriver = value
		case "Sig":
			ni.Sigs = append(ni.Sigs, value)
		default:
			if ni.Extra == nil {
				ni.Extra = make(map[string][]string)
			}
			ni.Extra[key] = append(ni.Extra[key], value)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("narinfo: failed to read: %w", err)
	}

	if ni.Compression == "" {
		ni.Compression = "none"
	}

	return ni, nil
}

// String renders the narinfo in the canonical field order from spec
// §4.3: StorePath, URL, Compression, NarHash, NarSize, References
// (omitted if empty), Deriver (omitted if absent), then zero or more
// Sig lines. Every line ends in a newline; there is no trailing blank
// line.
func (ni *NarInfo) String() string {
	var b strings.Builder

	fmt.Fprintf(&b, "StorePath: %s\n", ni.StorePath)
	fmt.Fprintf(&b, "URL: %s\n", ni.URL)
	compression := ni.Compression
	if compression == "" {
		compression = "none"
	}
	fmt.Fprintf(&b, "Compression: %s\n", compression)
	fmt.Fprintf(&b, "NarHash: %s\n", ni.NarHash)
	fmt.Fprintf(&b, "NarSize: %d\n", ni.NarSize)
	if len(ni.References) > 0 {
		fmt.Fprintf(&b, "References: %s\n", strings.Join(ni.References, " "))
	}
	if ni.Deriver != "" {
		fmt.Fprintf(&b, "Deriver: %s\n", ni.Deriver)
	}
	for _, sig := range ni.Sigs {
		fmt.Fprintf(&b, "Sig: %s\n", sig)
	}

	return b.String()
}

// ContentType returns the media type for this record's HTTP response.
func (ni *NarInfo) ContentType() string { return ContentType }

// Fingerprint returns the canonical string signed by cache signatures:
// "1;<storePath>;<narHash>;<narSize>;<comma-joined full reference paths>".
// This must match the format accepted by standard Nix cache clients.
func (ni *NarInfo) Fingerprint() string {
	refs := make([]string, len(ni.References))
	storeDir := storeDirOf(ni.StorePath)
	for i, r := range ni.References {
		if strings.HasPrefix(r, "/") {
			refs[i] = r
			continue
		}
		refs[i] = storeDir + "/" + r
	}
	return fmt.Sprintf("1;%s;%s;%d;%s", ni.StorePath, ni.NarHash, ni.NarSize, strings.Join(refs, ","))
}

func storeDirOf(storePath string) string {
	idx := strings.LastIndexByte(storePath, '/')
	if idx <= 0 {
		return ""
	}
	return storePath[:idx]
}

// LeafName strips the store directory from a store path, returning
// "<hashpart>-<name>".
func LeafName(storePath string) string {
	idx := strings.LastIndexByte(storePath, '/')
	if idx < 0 {
		return storePath
	}
	return storePath[idx+1:]
}
