// Package imagestore persists uploaded report photos and their thumbnails
// in a flat directory keyed by generated filenames.
package imagestore

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/rwcarlsen/goexif/exif"
	"golang.org/x/image/draw"
)

const (
	thumbnailMaxDimension = 400
	thumbnailQuality      = 85
)

var allowedExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
}

// AllowedExtension reports whether the upload filename has an accepted
// image extension.
func AllowedExtension(filename string) bool {
	return allowedExtensions[strings.ToLower(filepath.Ext(filename))]
}

// Store writes originals and thumbnails to an uploads directory.
type Store struct {
	dir string
}

// NewStore creates the uploads directory if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create uploads dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Filename generates a collision-resistant name for an upload. The name
// depends only on the owner, the wall clock and a random fragment, never on
// a database identity, so two concurrent submissions cannot collide.
func Filename(userID int, originalName string) string {
	ext := strings.ToLower(filepath.Ext(originalName))
	stamp := time.Now().UTC().Format("20060102150405")
	fragment := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%d_%s_%s%s", userID, stamp, fragment, ext)
}

// Save writes the original image under filename and a bounded-dimension
// thumbnail alongside it. The thumbnail is best-effort: on any decode or
// encode failure the original is still stored and the returned thumbnail
// name is empty.
func (s *Store) Save(filename string, data []byte) (thumbnail string, err error) {
	thumbnail = "thumb_" + filename
	if err := s.writeThumbnail(thumbnail, data); err != nil {
		log.Errorf("Failed to generate thumbnail for %s: %v", filename, err)
		thumbnail = ""
	}

	if err := os.WriteFile(filepath.Join(s.dir, filename), data, 0o644); err != nil {
		if thumbnail != "" {
			os.Remove(filepath.Join(s.dir, thumbnail))
		}
		return "", fmt.Errorf("failed to write image %s: %w", filename, err)
	}
	return thumbnail, nil
}

// Path returns the on-disk path of a stored file. It rejects names that
// escape the uploads directory.
func (s *Store) Path(filename string) (string, error) {
	if filename == "" || filename != filepath.Base(filename) {
		return "", fmt.Errorf("invalid filename %q", filename)
	}
	p := filepath.Join(s.dir, filename)
	if _, err := os.Stat(p); err != nil {
		return "", err
	}
	return p, nil
}

// Remove deletes stored files, best-effort. Missing files are not errors.
func (s *Store) Remove(filenames ...string) {
	for _, name := range filenames {
		if name == "" {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !os.IsNotExist(err) {
			log.Errorf("Failed to delete file %s: %v", name, err)
		}
	}
}

func (s *Store) writeThumbnail(name string, data []byte) error {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to decode image: %w", err)
	}

	if orientation := readOrientation(data); orientation != 1 {
		img = correctOrientation(img, orientation)
	}

	thumb := scaleDown(img, thumbnailMaxDimension)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, thumb, &jpeg.Options{Quality: thumbnailQuality}); err != nil {
		return fmt.Errorf("failed to encode thumbnail: %w", err)
	}
	return os.WriteFile(filepath.Join(s.dir, name), buf.Bytes(), 0o644)
}

// scaleDown fits the image within maxDim, preserving aspect ratio. Images
// already small enough are returned unchanged.
func scaleDown(img image.Image, maxDim int) image.Image {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= maxDim && h <= maxDim {
		return img
	}

	scale := float64(maxDim) / float64(w)
	if s := float64(maxDim) / float64(h); s < scale {
		scale = s
	}
	newW, newH := int(float64(w)*scale), int(float64(h)*scale)

	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
	return dst
}

// readOrientation extracts the EXIF orientation, defaulting to 1.
func readOrientation(data []byte) int {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return 1
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 1
	}
	v, err := tag.Int(0)
	if err != nil {
		return 1
	}
	return v
}

func correctOrientation(img image.Image, orientation int) image.Image {
	switch orientation {
	case 2:
		return flipH(img)
	case 3:
		return rotate180(img)
	case 4:
		return flipH(rotate180(img))
	case 5:
		return flipH(rotate90(img))
	case 6:
		return rotate90(img)
	case 7:
		return flipH(rotate270(img))
	case 8:
		return rotate270(img)
	default:
		return img
	}
}

func flipH(img image.Image) image.Image {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			dst.Set(b.Dx()-1-x, y, img.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return dst
}

func rotate180(img image.Image) image.Image {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			dst.Set(b.Dx()-1-x, b.Dy()-1-y, img.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return dst
}

func rotate90(img image.Image) image.Image {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dy(), b.Dx()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			dst.Set(b.Dy()-1-y, x, img.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return dst
}

func rotate270(img image.Image) image.Image {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dy(), b.Dx()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			dst.Set(y, b.Dx()-1-x, img.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return dst
}
