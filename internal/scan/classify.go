package scan

import (
	"path"
	"strings"
)

// MaxTextBytes is the size above which a file is treated as binary regardless
// of its extension.
const MaxTextBytes int64 = 1 << 20

var binaryExts = toSet(
	// images
	".png", ".jpg", ".jpeg", ".gif", ".bmp", ".ico", ".icns", ".webp", ".tif", ".tiff", ".psd", ".heic", ".avif",
	// archives
	".zip", ".tar", ".gz", ".tgz", ".bz2", ".xz", ".7z", ".rar", ".zst", ".jar", ".war", ".ear", ".nupkg", ".whl",
	// executables and libraries
	".exe", ".dll", ".so", ".dylib", ".bin", ".msi", ".deb", ".rpm", ".apk", ".dmg", ".iso", ".app",
	// compiled objects
	".o", ".a", ".obj", ".lib", ".class", ".pyc", ".pyo", ".pyd", ".wasm", ".beam", ".elc",
	// audio and video
	".mp3", ".mp4", ".wav", ".ogg", ".flac", ".aac", ".m4a", ".avi", ".mov", ".mkv", ".webm", ".wmv",
	// fonts
	".ttf", ".otf", ".woff", ".woff2", ".eot",
	// documents, databases and opaque blobs
	".pdf", ".doc", ".docx", ".xls", ".xlsx", ".ppt", ".pptx", ".db", ".sqlite", ".sqlite3", ".dat", ".pkl", ".npy", ".parquet", ".onnx", ".pt",
)

// minifiedMarkers must end the lowercased base name once its final
// extension is removed, as in app.min.js or 2.8f3a.chunk.js.
var minifiedMarkers = []string{".min", "-min", ".bundle", "-bundle", ".chunk", ".packed"}

var configNames = toSet(
	"package.json", "go.mod", "cargo.toml", "pyproject.toml", "requirements.txt", "requirements-dev.txt",
	"setup.py", "setup.cfg", "pipfile", "gemfile", "pom.xml", "build.gradle", "build.gradle.kts",
	"settings.gradle", "composer.json", "makefile", "dockerfile", "docker-compose.yml", "docker-compose.yaml",
	"compose.yml", "compose.yaml", ".env.example", ".env.sample", "tsconfig.json", "procfile", "cmakelists.txt",
	".nvmrc", ".node-version", ".python-version", ".ruby-version", ".tool-versions", "mix.exs", "deno.json",
	"environment.yml", "justfile", "vagrantfile", "flake.nix", "shell.nix", "tox.ini", "package.swift",
)

var configSuffixes = []string{
	".toml", ".yaml", ".yml", ".ini", ".cfg", ".conf", ".properties", ".config.js", ".config.ts", ".config.mjs", ".config.cjs", ".csproj", ".sln",
}

var configSubstrings = []string{"dockerfile", ".github/workflows/", ".devcontainer/"}

var docNames = toSet("readme", "install", "installation", "setup", "contributing", "building", "development", "getting_started", "getting-started")

var docSuffixes = []string{".md", ".mdx", ".rst", ".adoc", ".txt"}

var docSubstrings = []string{"docs/", "doc/", "documentation/", "wiki/"}

var entryNames = toSet(
	"main.go", "main.py", "__main__.py", "app.py", "manage.py", "wsgi.py", "asgi.py", "cli.py", "server.py",
	"index.js", "index.ts", "index.mjs", "server.js", "server.ts", "app.js", "app.ts", "main.js", "main.ts",
	"main.rs", "lib.rs", "main.java", "application.java", "main.kt", "main.c", "main.cpp", "program.cs",
	"main.swift", "main.dart", "main.rb", "config.ru", "index.php", "main.ex", "main.scala",
)

var entrySubstrings = []string{"cmd/", "bin/", "src/main."}

var sourceExts = toSet(
	".go", ".py", ".js", ".mjs", ".cjs", ".ts", ".tsx", ".jsx", ".rs", ".java", ".kt", ".kts", ".scala",
	".rb", ".php", ".c", ".h", ".cc", ".cpp", ".hpp", ".cs", ".fs", ".swift", ".m", ".dart", ".ex", ".exs",
	".erl", ".clj", ".hs", ".ml", ".lua", ".pl", ".r", ".jl", ".zig", ".nim", ".vue", ".svelte", ".sh",
	".bash", ".ps1", ".sql", ".proto", ".graphql",
)

// Category is a bit set of the predicates a path satisfies.
type Category uint8

const (
	CategoryRootLevel Category = 1 << iota
	CategoryEntryPoint
	CategoryConfig
	CategoryDocumentation
	CategorySource
)

// Has reports whether c includes every bit of other.
func (c Category) Has(other Category) bool { return c&other == other }

func (c Category) String() string {
	if c == 0 {
		return "none"
	}
	names := make([]string, 0, 5)
	for _, it := range []struct {
		bit  Category
		name string
	}{
		{CategoryRootLevel, "root"},
		{CategoryEntryPoint, "entry"},
		{CategoryConfig, "config"},
		{CategoryDocumentation, "docs"},
		{CategorySource, "source"},
	} {
		if c.Has(it.bit) {
			names = append(names, it.name)
		}
	}
	return strings.Join(names, "+")
}

// Classify returns every category p falls into. Categories are independent.
func Classify(p string) Category {
	var c Category
	if IsRootLevel(p) {
		c |= CategoryRootLevel
	}
	if IsEntryPoint(p) {
		c |= CategoryEntryPoint
	}
	if IsConfig(p) {
		c |= CategoryConfig
	}
	if IsDocumentation(p) {
		c |= CategoryDocumentation
	}
	if IsSource(p) {
		c |= CategorySource
	}
	return c
}

// IsBinary reports a denylisted extension or a size above MaxTextBytes.
// A nil size only consults the extension.
func IsBinary(p string, size *int64) bool {
	if size != nil && *size > MaxTextBytes {
		return true
	}
	_, ok := binaryExts[ext(p)]
	return ok
}

func IsMinified(p string) bool {
	base := strings.ToLower(path.Base(p))
	stem := strings.TrimSuffix(base, path.Ext(base))
	if stem == base || stem == "" {
		return false
	}
	for _, m := range minifiedMarkers {
		if strings.HasSuffix(stem, m) {
			return true
		}
	}
	return false
}

func IsConfig(p string) bool {
	lower := strings.ToLower(p)
	if _, ok := configNames[path.Base(lower)]; ok {
		return true
	}
	return hasAnySuffix(lower, configSuffixes) || containsAny(lower, configSubstrings)
}

func IsDocumentation(p string) bool {
	lower := strings.ToLower(p)
	base := path.Base(lower)
	stem := strings.TrimSuffix(base, path.Ext(base))
	if _, ok := docNames[stem]; ok {
		return true
	}
	if containsAny(lower, docSubstrings) {
		return true
	}
	// Plain .txt files are only docs at the top of the tree.
	if strings.HasSuffix(lower, ".txt") {
		return Depth(p) == 0 && !IsConfig(p)
	}
	return hasAnySuffix(lower, docSuffixes)
}

func IsEntryPoint(p string) bool {
	lower := strings.ToLower(p)
	if _, ok := entryNames[path.Base(lower)]; ok {
		return true
	}
	return IsSource(p) && containsAny(lower, entrySubstrings)
}

func IsSource(p string) bool {
	_, ok := sourceExts[ext(p)]
	return ok
}

func IsRootLevel(p string) bool { return Depth(p) == 0 }

// Depth counts path separators; "README.md" is 0, "docs/a.md" is 1.
func Depth(p string) int {
	return strings.Count(strings.Trim(p, "/"), "/")
}

func ext(p string) string {
	return strings.ToLower(path.Ext(p))
}

func toSet(items ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(items))
	for _, it := range items {
		out[it] = struct{}{}
	}
	return out
}

func hasAnySuffix(s string, suffixes []string) bool {
	for _, suf := range suffixes {
		if strings.HasSuffix(s, suf) {
			return true
		}
	}
	return false
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
