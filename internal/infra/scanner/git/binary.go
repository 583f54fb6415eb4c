package git

import (
	"io"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/h2non/filetype"
)

// sniffLen is how much of a file is inspected to classify it.
const sniffLen = 3072

// isBinaryBlob reports whether a blob holds binary content.
func isBinaryBlob(f *object.File) (bool, error) {
	if binary, err := f.IsBinary(); err != nil || binary {
		return binary, err
	}

	r, err := f.Reader()
	if err != nil {
		return false, err
	}
	defer r.Close()

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(r, head)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return false, err
	}
	return isBinaryContent(head[:n]), nil
}

// isBinaryContent classifies the leading bytes of a file. Printable UTF-8 is
// text even when it opens with a short magic number such as "MZ" or "BZh".
// Otherwise known archive, media and font signatures are binary, and so is
// anything mimetype does not place under text/plain.
func isBinaryContent(head []byte) bool {
	if len(head) == 0 || isPrintableUTF8(head) {
		return false
	}
	if filetype.IsArchive(head) || filetype.IsImage(head) || filetype.IsVideo(head) ||
		filetype.IsAudio(head) || filetype.IsFont(head) {
		return true
	}
	for mt := mimetype.Detect(head); mt != nil; mt = mt.Parent() {
		if mt.Is("text/plain") {
			return false
		}
	}
	return true
}

// isPrintableUTF8 reports whether head is valid UTF-8 without control bytes
// other than whitespace and escape. A rune cut off at the end of head is
// ignored.
func isPrintableUTF8(head []byte) bool {
	for i := len(head) - 1; i >= 0 && i >= len(head)-utf8.UTFMax; i-- {
		if utf8.RuneStart(head[i]) {
			if !utf8.FullRune(head[i:]) {
				head = head[:i]
			}
			break
		}
	}
	if !utf8.Valid(head) {
		return false
	}
	for _, b := range head {
		switch {
		case b == '\t', b == '\n', b == '\r', b == '\f', b == '\v', b == 0x1b:
		case b < 0x20, b == 0x7f:
			return false
		}
	}
	return true
}
