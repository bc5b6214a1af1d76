package storage

import (
	"path"
	"strings"

	"github.com/google/uuid"
)

// UploadKey returns uploads/<user_id>/<file_id>-<name>. The name is reduced to its base
// and path separators or control characters are replaced so a client cannot escape its prefix.
func UploadKey(userID string, fileID uuid.UUID, name string) string {
	return "uploads/" + sanitize(userID) + "/" + fileID.String() + "-" + sanitize(baseName(name))
}

func baseName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	base := path.Base(name)
	if base == "." || base == "/" || base == ".." {
		return "file"
	}
	return base
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r < 0x20 || r == 0x7f {
			return '_'
		}
		return r
	}, s)
}
