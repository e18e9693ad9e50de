package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMediaTypeFor(t *testing.T) {
	tests := []struct {
		ext  string
		want string
	}{
		{".jpg", MediaTypeImage},
		{".JPEG", MediaTypeImage},
		{".png", MediaTypeImage},
		{".gif", MediaTypeImage},
		{".webp", MediaTypeImage},
		{".mp4", MediaTypeVideo},
		{".MOV", MediaTypeVideo},
		{".webm", MediaTypeVideo},
		{".pdf", ""},
		{".exe", ""},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.ext, func(t *testing.T) {
			assert.Equal(t, tt.want, MediaTypeFor(tt.ext))
		})
	}
}

func TestContentTypeFor(t *testing.T) {
	tests := []struct {
		filename string
		want     string
	}{
		{"photo.jpg", "image/jpeg"},
		{"photo.jpeg", "image/jpeg"},
		{"banner.PNG", "image/png"},
		{"anim.gif", "image/gif"},
		{"pic.webp", "image/webp"},
		{"clip.mp4", "video/mp4"},
		{"clip.mov", "video/quicktime"},
		{"clip.webm", "video/webm"},
		{"notes.txt", "application/octet-stream"},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			assert.Equal(t, tt.want, ContentTypeFor(tt.filename))
		})
	}
}
