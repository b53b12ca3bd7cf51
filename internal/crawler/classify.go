package crawler

import (
	"net/url"
	"path"
	"strings"
)

var mimeTypes = map[string]CanonicalType{
	"text/html":       TypeHTML,
	"application/pdf": TypePDF,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   TypeDOCX,
	"application/msword": TypeDOCX,
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": TypePPTX,
	"application/vnd.ms-powerpoint": TypePPTX,
}

var extensions = map[string]CanonicalType{
	".html": TypeHTML,
	".htm":  TypeHTML,
	".pdf":  TypePDF,
	".docx": TypeDOCX,
	".doc":  TypeDOCX,
	".pptx": TypePPTX,
	".ppt":  TypePPTX,
}

var fileExtensions = map[CanonicalType]string{
	TypeHTML: ".html",
	TypePDF:  ".pdf",
	TypeDOCX: ".docx",
	TypePPTX: ".pptx",
}

var mimeForType = map[CanonicalType]string{
	TypeHTML: "text/html; charset=utf-8",
	TypePDF:  "application/pdf",
	TypeDOCX: "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	TypePPTX: "application/vnd.openxmlformats-officedocument.presentationml.presentation",
}

// CanonicalTypeOf classifies a resource. A recognized Content-Type header
// wins over the URL extension. Without one, the extension of the last path
// segment decides; a segment with no extension is treated as HTML. Anything
// else yields TypeNone, which callers treat as "skip".
func CanonicalTypeOf(headerContentType, rawURL string) CanonicalType {
	if mt := mediaType(headerContentType); mt != "" {
		if typ, ok := mimeTypes[mt]; ok {
			return typ
		}
	}

	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	p = strings.ToLower(p)
	for ext, typ := range extensions {
		if strings.HasSuffix(p, ext) {
			return typ
		}
	}
	if !strings.Contains(path.Base("/"+p), ".") {
		return TypeHTML
	}
	return TypeNone
}

// Extension returns the file extension used when storing typ.
func Extension(typ CanonicalType) string {
	return fileExtensions[typ]
}

// MIMEType returns the Content-Type used when storing typ.
func MIMEType(typ CanonicalType) string {
	if mt, ok := mimeForType[typ]; ok {
		return mt
	}
	return "application/octet-stream"
}

func mediaType(header string) string {
	if i := strings.IndexByte(header, ';'); i >= 0 {
		header = header[:i]
	}
	return strings.ToLower(strings.TrimSpace(header))
}
