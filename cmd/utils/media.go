package utils

import (
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	MaxMediaSize = 50 << 20 // 50 MB
	MediaPath    = "uploads/media"
)

const (
	MediaTypeImage = "image"
	MediaTypeVideo = "video"
)

// SaveMedia stores an uploaded file and returns its public URL path plus the
// detected media type (image or video).
func SaveMedia(file multipart.File, header *multipart.FileHeader) (string, string, error) {
	if header.Size > MaxMediaSize {
		return "", "", fmt.Errorf("file size exceeds maximum limit of %d MB", MaxMediaSize/(1<<20))
	}

	ext := strings.ToLower(filepath.Ext(header.Filename))
	mediaType := MediaTypeFor(ext)
	if mediaType == "" {
		return "", "", fmt.Errorf("invalid file type: %s", ext)
	}

	if err := os.MkdirAll(MediaPath, 0755); err != nil {
		return "", "", fmt.Errorf("failed to create upload directory: %v", err)
	}

	filename := fmt.Sprintf("%s-%s%s",
		time.Now().Format("20060102"),
		uuid.New().String(),
		ext,
	)
	filePath := filepath.Join(MediaPath, filename)

	dst, err := os.Create(filePath)
	if err != nil {
		return "", "", fmt.Errorf("failed to create file: %v", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, file); err != nil {
		return "", "", fmt.Errorf("failed to save file: %v", err)
	}

	return fmt.Sprintf("/media/%s", filename), mediaType, nil
}

// MediaTypeFor classifies a file extension as image or video. Returns an
// empty string for unsupported types.
func MediaTypeFor(ext string) string {
	switch strings.ToLower(ext) {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp":
		return MediaTypeImage
	case ".mp4", ".mov", ".webm":
		return MediaTypeVideo
	default:
		return ""
	}
}

// ContentTypeFor maps a stored media file to its MIME type for serving.
func ContentTypeFor(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".mp4":
		return "video/mp4"
	case ".mov":
		return "video/quicktime"
	case ".webm":
		return "video/webm"
	default:
		return "application/octet-stream"
	}
}

func DeleteMedia(mediaURL string) error {
	filename := filepath.Base(mediaURL)
	filePath := filepath.Join(MediaPath, filename)

	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return nil
	}

	return os.Remove(filePath)
}
