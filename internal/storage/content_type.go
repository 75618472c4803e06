package storage

import (
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
)

// =============================================================================
// Content Type Detection
// =============================================================================

// exportTypes maps the extensions of archived files to their MIME types.
// mime.TypeByExtension depends on the host's mime tables, which often lack
// xlsx.
var exportTypes = map[string]string{
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".pdf":  "application/pdf",
	".json": "application/json",
	".png":  "image/png",
}

// DetectContentType determines the MIME type of a file.
//
// Detection priority:
// 1. If providedType is non-empty, use it directly
// 2. Known export extensions (xlsx, pdf, json)
// 3. mime.TypeByExtension
// 4. Sniff content from the first 512 bytes of data (if available)
// 5. Fall back to "application/octet-stream"
func DetectContentType(providedType, filename string, data io.Reader) string {
	if providedType != "" {
		return providedType
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if contentType, ok := exportTypes[ext]; ok {
		return contentType
	}
	if contentType := mime.TypeByExtension(ext); contentType != "" {
		return contentType
	}

	if data != nil {
		// Read up to 512 bytes for sniffing (http.DetectContentType requirement)
		buffer := make([]byte, 512)
		n, err := io.ReadFull(data, buffer)
		if err == nil || err == io.EOF || err == io.ErrUnexpectedEOF {
			return http.DetectContentType(buffer[:n])
		}
	}

	return "application/octet-stream"
}

// =============================================================================
// Content Type Validation
// =============================================================================

// IsExport returns true if the content type is one of the archived export
// formats.
func IsExport(contentType string) bool {
	base := baseType(contentType)
	for _, t := range exportTypes {
		if t == base && t != "image/png" {
			return true
		}
	}
	return false
}

// baseType strips parameters such as charset and normalizes case.
func baseType(contentType string) string {
	base := strings.Split(contentType, ";")[0]
	return strings.TrimSpace(strings.ToLower(base))
}
