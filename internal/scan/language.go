package scan

import (
	"path/filepath"
	"strings"
)

// languageByExtension maps lowercase file extensions to language names. Files
// with extensions outside this table are not cataloged.
var languageByExtension = map[string]string{
	".py":   "Python",
	".ps1":  "PowerShell",
	".psm1": "PowerShell",
	".sh":   "Bash",
	".bat":  "Batch",
	".cmd":  "Batch",
	".sql":  "SQL",
	".js":   "JavaScript",
	".ts":   "TypeScript",
	".yml":  "YAML",
	".yaml": "YAML",
	".json": "JSON",
	".tf":   "Terraform",
	".rb":   "Ruby",
	".pl":   "Perl",
	".php":  "PHP",
	".go":   "Go",
	".rs":   "Rust",
	".java": "Java",
	".cs":   "C#",
	".cpp":  "C++",
	".c":    "C",
	".r":    "R",
}

// DetectLanguage returns the language for a path's extension, or "" when the
// extension is unknown. Unknown is not an error.
func DetectLanguage(path string) string {
	return languageByExtension[strings.ToLower(filepath.Ext(path))]
}

// IsScriptFile reports whether the path carries a recognized script extension.
func IsScriptFile(path string) bool {
	_, ok := languageByExtension[strings.ToLower(filepath.Ext(path))]
	return ok
}
