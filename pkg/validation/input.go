// Package validation checks user-supplied names and paths before they reach
// the catalog.
package validation

import (
	"fmt"
	"os"
	"strings"
	"unicode"
	"unicode/utf8"

	lakeerrors "github.com/logflow/datalake/pkg/errors"
)

// MaxLogicalNameLength is the maximum logical name length in bytes.
const MaxLogicalNameLength = 256

// LogicalName rejects names that are empty, padded with whitespace, too
// long, not UTF-8, or that contain control characters.
func LogicalName(name string) error {
	if strings.TrimSpace(name) == "" {
		return lakeerrors.New(lakeerrors.CodeInvalidArgument, "logical name must not be empty")
	}
	if strings.TrimSpace(name) != name {
		return lakeerrors.New(lakeerrors.CodeInvalidArgument, "logical name has leading or trailing whitespace").
			WithContext("name", name)
	}
	if len(name) > MaxLogicalNameLength {
		return lakeerrors.New(lakeerrors.CodeInvalidArgument, "logical name too long").
			WithContext("name", name[:32]+"...").
			WithContext("maxLength", MaxLogicalNameLength)
	}
	if !utf8.ValidString(name) {
		return lakeerrors.New(lakeerrors.CodeInvalidArgument, "logical name contains invalid UTF-8")
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return lakeerrors.New(lakeerrors.CodeInvalidArgument, "logical name contains a control character").
				WithContext("name", fmt.Sprintf("%q", name))
		}
	}
	return nil
}

// SourceFile checks that path names a readable regular file.
func SourceFile(path string) (os.FileInfo, error) {
	if path == "" {
		return nil, lakeerrors.SourceUnreadable(path, fmt.Errorf("empty path"))
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, lakeerrors.SourceUnreadable(path, err)
	}
	if !info.Mode().IsRegular() {
		return nil, lakeerrors.SourceUnreadable(path, fmt.Errorf("not a regular file"))
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, lakeerrors.SourceUnreadable(path, err)
	}
	f.Close()

	return info, nil
}
