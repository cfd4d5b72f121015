package remotekit

import (
	"path/filepath"
	"strings"
)

// MediaType classifies a file by extension for scan filtering.
type MediaType int

const (
	TypeUnknown MediaType = iota
	TypeImage
	TypeGIF
	TypeVideo
	TypeAudio
	TypeText
	TypePDF
	TypeEPUB
)

// String returns the lowercase tag for the type.
func (t MediaType) String() string {
	switch t {
	case TypeImage:
		return "image"
	case TypeGIF:
		return "gif"
	case TypeVideo:
		return "video"
	case TypeAudio:
		return "audio"
	case TypeText:
		return "text"
	case TypePDF:
		return "pdf"
	case TypeEPUB:
		return "epub"
	default:
		return "unknown"
	}
}

// SizeFiltered reports whether scan size ranges apply to this type.
// Document types are exempt: a ten-byte text file is as valid as a
// ten-megabyte one.
func (t MediaType) SizeFiltered() bool {
	switch t {
	case TypeText, TypePDF, TypeEPUB:
		return false
	default:
		return true
	}
}

// Extension to media type mapping
var extensionType = map[string]MediaType{
	".jpg":  TypeImage,
	".jpeg": TypeImage,
	".png":  TypeImage,
	".webp": TypeImage,
	".bmp":  TypeImage,
	".heic": TypeImage,
	".heif": TypeImage,
	".avif": TypeImage,
	".gif":  TypeGIF,
	".mp4":  TypeVideo,
	".mkv":  TypeVideo,
	".webm": TypeVideo,
	".avi":  TypeVideo,
	".mov":  TypeVideo,
	".m4v":  TypeVideo,
	".ts":   TypeVideo,
	".flv":  TypeVideo,
	".wmv":  TypeVideo,
	".mp3":  TypeAudio,
	".m4a":  TypeAudio,
	".aac":  TypeAudio,
	".flac": TypeAudio,
	".ogg":  TypeAudio,
	".opus": TypeAudio,
	".wav":  TypeAudio,
	".wma":  TypeAudio,
	".txt":  TypeText,
	".md":   TypeText,
	".srt":  TypeText,
	".pdf":  TypePDF,
	".epub": TypeEPUB,
}

// DetectMediaType classifies a path by its extension.
func DetectMediaType(path string) MediaType {
	ext := strings.ToLower(filepath.Ext(path))
	if t, ok := extensionType[ext]; ok {
		return t
	}
	return TypeUnknown
}
