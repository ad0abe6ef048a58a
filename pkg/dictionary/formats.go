package dictionary

import (
	"path/filepath"
	"strings"
)

// FileFormat represents the supported dictionary encodings
type FileFormat int

const (
	FormatUnknown FileFormat = iota
	FormatJSON               // Flat JSON object {"code": "term"}
	FormatMsgpack            // The same flat map encoded as MessagePack
)

// FormatInfo contains metadata about a dictionary file format
type FormatInfo struct {
	Format      FileFormat
	Description string
	Extensions  []string
}

var supportedFormats = []FormatInfo{
	{
		Format:      FormatJSON,
		Description: "JSON code to term object",
		Extensions:  []string{".json"},
	},
	{
		Format:      FormatMsgpack,
		Description: "MessagePack code to term map",
		Extensions:  []string{".msgpack", ".mpk"},
	},
}

func (f FileFormat) String() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatMsgpack:
		return "msgpack"
	default:
		return "unknown"
	}
}

// DetectFileFormat picks the format from the file extension.
// Unknown extensions fall back to JSON, the format the dictionaries ship in.
func DetectFileFormat(filename string) FileFormat {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, info := range supportedFormats {
		for _, e := range info.Extensions {
			if e == ext {
				return info.Format
			}
		}
	}
	return FormatJSON
}

// ListSupportedFormats returns all supported formats
func ListSupportedFormats() []FormatInfo {
	out := make([]FormatInfo, len(supportedFormats))
	copy(out, supportedFormats)
	return out
}
