package request

import (
	"crypto/sha256"
	"encoding/hex"
	"path"
	"sort"
	"strings"
)

// Attributes that carry the semantic shape of an operation. Anything not
// listed here is incidental and excluded from the fingerprint, so two requests
// that differ only in, say, the exact filename still hash identically.
var fingerprintAttrs = []string{
	"path",
	"dest",
	"service",
	"package",
	"manager",
	"key",
	"target",
}

// Fingerprint derives the deterministic pattern-store key for a request.
//
// Path-like attributes are reduced to directory + extension before hashing:
// "/var/log/app.log" and "/var/log/other.log" produce the same fingerprint,
// while "/var/log/app.log" and "/etc/app.conf" do not.
func (r *OperationRequest) Fingerprint() string {
	h := sha256.New()
	h.Write([]byte(r.Type))
	h.Write([]byte{0})

	for _, name := range fingerprintAttrs {
		v := r.Attr(name)
		if v == "" {
			continue
		}
		if isPathAttr(name) {
			v = reducePath(v)
		} else {
			v = strings.ToLower(strings.TrimSpace(v))
		}
		h.Write([]byte(name))
		h.Write([]byte{'='})
		h.Write([]byte(v))
		h.Write([]byte{0})
	}

	return hex.EncodeToString(h.Sum(nil))[:32]
}

// ReducedAttributes returns the fingerprint-relevant attributes after
// reduction, for logging and debugging. Keys are sorted.
func (r *OperationRequest) ReducedAttributes() map[string]string {
	out := make(map[string]string)
	for _, name := range fingerprintAttrs {
		v := r.Attr(name)
		if v == "" {
			continue
		}
		if isPathAttr(name) {
			out[name] = reducePath(v)
		} else {
			out[name] = strings.ToLower(strings.TrimSpace(v))
		}
	}
	return out
}

func isPathAttr(name string) bool {
	return name == "path" || name == "dest" || name == "target"
}

// reducePath keeps the directory and extension of a path, dropping the base
// filename. "/var/log/app.log" → "/var/log/*.log". A bare directory keeps its
// cleaned form.
func reducePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	cleaned := path.Clean(strings.ReplaceAll(p, "\\", "/"))
	dir := path.Dir(cleaned)
	ext := strings.ToLower(path.Ext(cleaned))
	if ext == "" {
		// No extension: treat the last element as a name, keep only the dir.
		return dir + "/*"
	}
	return dir + "/*" + ext
}

// sortedKeys is used by tests to assert reduction stability.
func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
