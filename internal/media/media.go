// Package media lays out the on-disk tree for downloaded attachments and
// stamps capture-time metadata on downloaded photos.
package media

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	exif "github.com/dsoprea/go-exif/v3"
	exifcommon "github.com/dsoprea/go-exif/v3/common"
	jpegstructure "github.com/dsoprea/go-jpeg-image-structure/v2"
	"github.com/gosimple/slug"
)

// Slug returns the filesystem-safe directory name for a dialog. Names that
// slugify to nothing fall back to the dialog ID.
func Slug(name string, dialogID int64) string {
	s := slug.Make(name)
	if s == "" {
		s = strconv.FormatInt(dialogID, 10)
	}
	return s
}

// Dir is <root>/<slug>/<YYYY-MM> for a message sent at date.
func Dir(root, dialogSlug string, date time.Time) string {
	return filepath.Join(root, dialogSlug, date.UTC().Format("2006-01"))
}

// UniquePath returns dir/name, or dir/"base (n)ext" when that file exists.
func UniquePath(dir, name string) string {
	path := filepath.Join(dir, name)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path
	}
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for i := 1; ; i++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s (%d)%s", base, i, ext))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}

// IsJPEG reports whether path names a JPEG by extension.
func IsJPEG(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return true
	}
	return false
}

// StampCaptureTime sets EXIF DateTimeOriginal of the JPEG at path to t,
// creating the EXIF block when the file has none. Non-JPEG paths are left
// untouched.
func StampCaptureTime(path string, t time.Time) error {
	if !IsJPEG(path) {
		return nil
	}

	jmp := jpegstructure.NewJpegMediaParser()
	intfc, err := jmp.ParseFile(path)
	if err != nil {
		return fmt.Errorf("parse jpeg %s: %w", path, err)
	}
	sl := intfc.(*jpegstructure.SegmentList)

	rootIb, err := sl.ConstructExifBuilder()
	if err != nil {
		im, err := exifcommon.NewIfdMappingWithStandard()
		if err != nil {
			return fmt.Errorf("exif mapping: %w", err)
		}
		ti := exif.NewTagIndex()
		rootIb = exif.NewIfdBuilder(im, ti, exifcommon.IfdStandardIfdIdentity, exifcommon.EncodeDefaultByteOrder)
	}

	exifIb, err := exif.GetOrCreateIbFromRootIb(rootIb, "IFD/Exif")
	if err != nil {
		return fmt.Errorf("exif ifd: %w", err)
	}
	if err := exifIb.SetStandardWithName("DateTimeOriginal", exifcommon.ExifFullTimestampString(t.UTC())); err != nil {
		return fmt.Errorf("set DateTimeOriginal: %w", err)
	}
	if err := sl.SetExif(rootIb); err != nil {
		return fmt.Errorf("set exif: %w", err)
	}

	var buf bytes.Buffer
	if err := sl.Write(&buf); err != nil {
		return fmt.Errorf("encode jpeg %s: %w", path, err)
	}
	return os.WriteFile(path, buf.Bytes(), 0644)
}

// CaptureTime reads EXIF DateTimeOriginal back from a JPEG.
func CaptureTime(path string) (time.Time, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return time.Time{}, err
	}
	rawExif, err := exif.SearchAndExtractExif(data)
	if err != nil {
		return time.Time{}, err
	}
	entries, _, err := exif.GetFlatExifData(rawExif, nil)
	if err != nil {
		return time.Time{}, err
	}
	for _, e := range entries {
		if e.TagName == "DateTimeOriginal" {
			return exifcommon.ParseExifFullTimestamp(e.Formatted)
		}
	}
	return time.Time{}, fmt.Errorf("no DateTimeOriginal in %s", path)
}
