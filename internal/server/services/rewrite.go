package services

import (
	"path/filepath"
	"regexp"
	"strings"
)

// imageExtensions is the fixed allow-list deciding whether an attachment
// is rendered as an image or a plain link.
var imageExtensions = map[string]struct{}{
	"jpg":  {},
	"jpeg": {},
	"png":  {},
	"gif":  {},
	"webp": {},
}

// isImageFile classifies a file purely by its name extension.
func isImageFile(fileName string) bool {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(fileName), "."))
	_, ok := imageExtensions[ext]
	return ok
}

// rewriteAttachmentRef replaces markdown references that point fileName
// at an ephemeral browser object URL (the editor inserts
// "![name](blob:...)" or "[name](blob:...)" placeholders before the real
// upload finishes) with a stable reference to ref. The image-vs-link
// marker of the replacement is decided by the file type, not by the
// placeholder's original form.
func rewriteAttachmentRef(content, fileName, ref string, image bool) string {
	pattern := regexp.MustCompile(`!?\[` + regexp.QuoteMeta(fileName) + `\]\(blob:[^)]*\)`)

	marker := ""
	if image {
		marker = "!"
	}
	return pattern.ReplaceAllLiteralString(content, marker+"["+fileName+"]("+ref+")")
}
