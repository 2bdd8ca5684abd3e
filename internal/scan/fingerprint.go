package scan

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"unicode/utf8"

	"github.com/jomardyan/scriptdex/internal/apperr"
	"github.com/jomardyan/scriptdex/internal/models"
)

// Fingerprint computes the observed state of the file at path: size, mtime,
// content digest, line count, and extension-derived language.
//
// The digest is a streaming sha256 over at most capBytes of raw content
// (capBytes <= 0 hashes the whole file). Content is never decoded for
// hashing; the line count is a best-effort text decode that fails open to -1
// on non-UTF-8 content.
func Fingerprint(path string, capBytes int64) (models.Fingerprint, error) {
	f, err := os.Open(path)
	if err != nil {
		return models.Fingerprint{}, classifyIOErr("scan: open", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return models.Fingerprint{}, classifyIOErr("scan: stat", path, err)
	}

	digest, lines, err := digestAndCount(f, capBytes)
	if err != nil {
		return models.Fingerprint{}, classifyIOErr("scan: read", path, err)
	}

	return models.Fingerprint{
		Size:      info.Size(),
		ModTime:   info.ModTime(),
		Digest:    digest,
		LineCount: lines,
		Language:  DetectLanguage(path),
	}, nil
}

// digestAndCount hashes r (up to capBytes) while counting lines in a single
// pass. Line counting follows wc -l semantics plus a final unterminated line.
func digestAndCount(r io.Reader, capBytes int64) (string, int64, error) {
	if capBytes > 0 {
		r = io.LimitReader(r, capBytes)
	}

	h := sha256.New()
	br := bufio.NewReaderSize(r, 64*1024)

	var lines int64
	binary := false
	lastByte := byte('\n')
	carry := make([]byte, 0, utf8.UTFMax)

	buf := make([]byte, 32*1024)
	for {
		n, err := br.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			h.Write(chunk)
			for _, b := range chunk {
				if b == '\n' {
					lines++
				}
				if b == 0 {
					binary = true
				}
			}
			lastByte = chunk[n-1]
			if !binary {
				carry, binary = validateUTF8(carry, chunk)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", 0, err
		}
	}

	if lastByte != '\n' {
		lines++ // unterminated final line still counts
	}
	if binary || len(carry) > 0 {
		lines = -1
	}
	return hex.EncodeToString(h.Sum(nil)), lines, nil
}

// validateUTF8 checks chunk (prefixed by carry bytes from the previous chunk)
// for UTF-8 validity. It returns trailing bytes that may begin a rune split
// across chunks, and whether invalid content was seen.
func validateUTF8(carry, chunk []byte) (newCarry []byte, invalid bool) {
	data := chunk
	if len(carry) > 0 {
		data = append(append([]byte{}, carry...), chunk...)
	}
	for len(data) > 0 {
		r, size := utf8.DecodeRune(data)
		if r == utf8.RuneError && size == 1 {
			if !utf8.FullRune(data) {
				// Possibly a rune split across chunk boundaries.
				return append([]byte{}, data...), false
			}
			return nil, true
		}
		data = data[size:]
	}
	return nil, false
}

// classifyIOErr maps filesystem errors onto the engine taxonomy: vanished
// files become ErrTransientIO, permission failures ErrPermissionDenied.
func classifyIOErr(op, path string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%s %s: %w", op, path, apperr.ErrTransientIO)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%s %s: %w", op, path, apperr.ErrPermissionDenied)
	default:
		return fmt.Errorf("%s %s: %w", op, path, err)
	}
}
