// Package fspath provides OS-aware path syntax without touching any real
// filesystem. It mirrors the split between path.Path / PosixPath /
// WindowsPath in the original Python implementation: every function takes
// an explicit OSType so the same process can reason about a POSIX-style
// remote backend while running on a Windows workstation, or vice-versa.
package fspath

import (
	"strings"
)

// OSType identifies the path and shell conventions a Backend follows.
// It is derived once at backend construction time (see pkg/backend) and is
// immutable afterwards, per the Backend invariant in spec.md §3.
type OSType int

const (
	// Unknown means the backend's platform could not be determined.
	Unknown OSType = iota
	// Linux backends use POSIX path and shell conventions.
	Linux
	// MacOS backends use POSIX path and shell conventions.
	MacOS
	// Windows backends use backslash-separated paths and cmd/PowerShell conventions.
	Windows
)

func (t OSType) String() string {
	switch t {
	case Linux:
		return "linux"
	case MacOS:
		return "darwin"
	case Windows:
		return "windows"
	default:
		return "unknown"
	}
}

// IsUnix reports whether the OS type follows POSIX path conventions.
func (t OSType) IsUnix() bool {
	return t == Linux || t == MacOS
}

func (t OSType) sep() string {
	if t == Windows {
		return `\`
	}
	return "/"
}

// Join joins path segments with the separator for the given OS type,
// cleaning the result the way filepath.Join does for the corresponding
// platform, without ever consulting the real filesystem.
func Join(t OSType, elems ...string) string {
	nonEmpty := make([]string, 0, len(elems))
	for _, e := range elems {
		if e != "" {
			nonEmpty = append(nonEmpty, e)
		}
	}
	if len(nonEmpty) == 0 {
		return ""
	}
	joined := strings.Join(nonEmpty, t.sep())
	return Clean(t, joined)
}

// Clean normalizes a path: collapses repeated separators, resolves "." and
// ".." components lexically, and trims a trailing separator (except for a
// bare root).
func Clean(t OSType, p string) string {
	if p == "" {
		return "."
	}
	sep := t.sep()
	rooted := strings.HasPrefix(p, sep)
	// Windows drive-letter roots (C:\...) keep their prefix verbatim.
	drive := ""
	rest := p
	if t == Windows && len(p) >= 2 && p[1] == ':' {
		drive = p[:2]
		rest = p[2:]
		rooted = strings.HasPrefix(rest, sep)
	}

	parts := strings.Split(rest, sep)
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		switch part {
		case "", ".":
			continue
		case "..":
			if len(out) > 0 && out[len(out)-1] != ".." {
				out = out[:len(out)-1]
			} else if !rooted {
				out = append(out, "..")
			}
		default:
			out = append(out, part)
		}
	}

	cleaned := strings.Join(out, sep)
	if rooted {
		cleaned = sep + cleaned
	}
	if cleaned == "" {
		cleaned = "."
	}
	return drive + cleaned
}

// Split splits a path into its directory and final element, following the
// separator convention of t. The behavior matches path.Split: dir keeps a
// trailing separator when non-empty.
func Split(t OSType, p string) (dir, file string) {
	sep := t.sep()
	idx := strings.LastIndex(p, sep)
	if idx < 0 {
		return "", p
	}
	return p[:idx+len(sep)], p[idx+len(sep):]
}

// Dirname returns the directory portion of p, with any trailing separator
// stripped (except for a bare root).
func Dirname(t OSType, p string) string {
	dir, _ := Split(t, p)
	sep := t.sep()
	if len(dir) > len(sep) && strings.HasSuffix(dir, sep) {
		dir = dir[:len(dir)-len(sep)]
	}
	if dir == "" {
		return "."
	}
	return dir
}

// Basename returns the final path element.
func Basename(t OSType, p string) string {
	_, file := Split(t, p)
	return file
}

// Ext returns the file name extension of p, including the leading dot, or
// "" if there is none. "a/b.tar.gz" yields ".gz" — only the last extension
// is reported, matching spec.md §8 property 1.
func Ext(t OSType, p string) string {
	base := Basename(t, p)
	idx := strings.LastIndex(base, ".")
	if idx <= 0 { // no dot, or a dotfile with no further extension
		return ""
	}
	return base[idx:]
}

// IsAbs reports whether p is an absolute path under t's conventions. This is
// pure syntax; it never touches a filesystem (spec.md §3 Path invariant).
func IsAbs(t OSType, p string) bool {
	if p == "" {
		return false
	}
	if t == Windows {
		if len(p) >= 3 && p[1] == ':' && (p[2] == '\\' || p[2] == '/') {
			return true
		}
		return strings.HasPrefix(p, `\\`)
	}
	return strings.HasPrefix(p, "/")
}

// WithExt replaces p's extension with ext (which should include the leading
// dot). Used by archive-path derivation: a file archive replaces the
// source's extension with ".zip" (spec.md §6).
func WithExt(t OSType, p string, ext string) string {
	dir, base := Split(t, p)
	if idx := strings.LastIndex(base, "."); idx > 0 {
		base = base[:idx]
	}
	return dir + base + ext
}

// Convert rewrites a path string built under "from" conventions into "to"
// conventions by re-splitting on from's separator and re-joining with to's.
// It does not attempt semantic translation of drive letters or UNC roots.
func Convert(from, to OSType, p string) string {
	if from == to {
		return p
	}
	parts := strings.Split(p, from.sep())
	return Join(to, parts...)
}
