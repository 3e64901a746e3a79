package fileshare

import (
	"mime"
	"path/filepath"
	"strings"
)

var videoExtensions = set(".mp4", ".avi", ".mov", ".mkv", ".webm", ".flv", ".m4v")
var imageExtensions = set(".jpg", ".jpeg", ".png", ".gif", ".bmp", ".webp", ".tiff", ".avif", ".heic", ".heif")
var svgExtensions = set(".svg")
var pdfExtensions = set(".pdf")
var wordExtensions = set(".docx", ".doc", ".docm", ".dotx", ".dotm", ".odt", ".rtf")
var excelExtensions = set(".xlsx", ".xls", ".xlsm", ".xlsb", ".ods", ".csv", ".tsv")
var markdownExtensions = set(".md", ".markdown", ".mdown", ".mkd", ".mkdn", ".mdx")
var htmlExtensions = set(".html", ".htm")
var codeExtensions = set(
	".py", ".js", ".mjs", ".cjs", ".ts", ".tsx", ".jsx", ".java", ".go", ".rs", ".rb", ".php",
	".cs", ".cpp", ".cxx", ".cc", ".c", ".h", ".hpp", ".lua", ".sql", ".sh", ".bash", ".zsh",
	".ps1", ".bat", ".cmd", ".yaml", ".yml", ".json", ".toml", ".ini", ".cfg", ".conf", ".xml",
	".css", ".scss", ".sass", ".less", ".vue", ".svelte",
)
var textExtensions = set(".txt", ".log", ".text", ".rst", ".asc", ".readme", ".license")
var codeBasenames = set("dockerfile", "makefile", ".env", ".gitignore")

func set(items ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(items))
	for _, it := range items {
		m[it] = struct{}{}
	}
	return m
}

// GetFileType classifies filename by extension into one of the fixed
// categories the original reference implementation uses, per spec.md
// §6.7's supplemented file-type taxonomy.
func GetFileType(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	base := strings.ToLower(filepath.Base(filename))
	switch {
	case has(videoExtensions, ext):
		return "video"
	case has(svgExtensions, ext):
		return "svg"
	case has(imageExtensions, ext):
		return "image"
	case has(pdfExtensions, ext):
		return "pdf"
	case has(wordExtensions, ext):
		return "word"
	case has(excelExtensions, ext):
		return "excel"
	case has(markdownExtensions, ext):
		return "markdown"
	case has(htmlExtensions, ext):
		return "html"
	case has(codeExtensions, ext) || has(codeBasenames, base):
		return "code"
	case has(textExtensions, ext):
		return "text"
	default:
		return "other"
	}
}

func has(m map[string]struct{}, key string) bool {
	_, ok := m[key]
	return ok
}

// GuessMIMEType maps a filename (optionally with a precomputed file type)
// to a content-type string for streaming/download responses.
func GuessMIMEType(name, fileType string) string {
	if fileType == "" {
		fileType = GetFileType(name)
	}
	switch fileType {
	case "code", "text", "markdown":
		return "text/plain; charset=utf-8"
	case "html":
		return "text/html; charset=utf-8"
	case "svg":
		return "image/svg+xml"
	}
	if guessed := mime.TypeByExtension(filepath.Ext(name)); guessed != "" {
		return guessed
	}
	return "application/octet-stream"
}
