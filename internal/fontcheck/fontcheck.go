// Package fontcheck locates a TrueType font with broad Unicode coverage so
// the PDF renderer can print text outside Windows-1252. Without one, the
// renderer falls back to the core Helvetica font.
package fontcheck

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrNotFound means no known Unicode TrueType font is installed.
var ErrNotFound = errors.New("no unicode truetype font found")

// Font is a regular face plus an optional bold face.
type Font struct {
	Family  string
	Regular string
	// Bold is "" when the family has no bold file; callers reuse Regular.
	Bold string
}

// candidate is a family we know renders Latin, Greek and Cyrillic, in
// order of preference. Only .ttf files qualify; TTC and CFF-flavoured OTF
// cannot be embedded.
type candidate struct {
	family  string
	regular string
	bold    string
}

var candidates = []candidate{
	{"DejaVu Sans", "dejavusans.ttf", "dejavusans-bold.ttf"},
	{"Noto Sans", "notosans-regular.ttf", "notosans-bold.ttf"},
	{"Liberation Sans", "liberationsans-regular.ttf", "liberationsans-bold.ttf"},
	{"FreeSans", "freesans.ttf", "freesansbold.ttf"},
	{"Arial Unicode", "arialuni.ttf", ""},
	{"Arial", "arial.ttf", "arialbd.ttf"},
}

// installHints are printed when nothing is found.
var installHints = []string{
	"Debian/Ubuntu: apt-get install -y fonts-dejavu-core",
	"CentOS/RHEL/Fedora: dnf install -y dejavu-sans-fonts",
	"Arch Linux: pacman -S ttf-dejavu",
	"Alpine: apk add font-dejavu",
}

// fontDirs lists the directories searched when fc-list is unavailable.
func fontDirs() []string {
	switch runtime.GOOS {
	case "windows":
		root := os.Getenv("WINDIR")
		if root == "" {
			root = `C:\Windows`
		}
		return []string{filepath.Join(root, "Fonts")}
	case "darwin":
		home, _ := os.UserHomeDir()
		return []string{"/Library/Fonts", "/System/Library/Fonts", filepath.Join(home, "Library", "Fonts")}
	default:
		home, _ := os.UserHomeDir()
		return []string{"/usr/share/fonts", "/usr/local/share/fonts", filepath.Join(home, ".fonts"), filepath.Join(home, ".local", "share", "fonts")}
	}
}

// Finder searches for fonts. The zero value searches the system.
type Finder struct {
	// Dirs overrides the platform font directories.
	Dirs []string
	// SkipFontconfig disables the fc-list lookup.
	SkipFontconfig bool
	Logger         *zap.Logger
}

// Find returns the most preferred installed candidate.
func (f Finder) Find(ctx context.Context) (*Font, error) {
	logger := f.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	files := map[string]string{}
	if !f.SkipFontconfig {
		for _, p := range fontconfigFiles(ctx) {
			addFile(files, p)
		}
	}
	if len(files) == 0 {
		dirs := f.Dirs
		if dirs == nil {
			dirs = fontDirs()
		}
		for _, dir := range dirs {
			scanDir(files, dir)
		}
	}

	for _, c := range candidates {
		regular, ok := files[c.regular]
		if !ok {
			continue
		}
		font := &Font{Family: c.family, Regular: regular}
		if c.bold != "" {
			font.Bold = files[c.bold]
		}
		logger.Info("unicode font found",
			zap.String("family", font.Family),
			zap.String("regular", font.Regular),
			zap.String("bold", font.Bold))
		return font, nil
	}

	logger.Warn("no unicode font found; text outside Windows-1252 will print as '?'",
		zap.Strings("install_hints", installHints))
	return nil, ErrNotFound
}

// Resolve turns a configured font setting into a Font: "" disables Unicode
// fonts, "auto" searches the system, anything else is a path to a .ttf file.
// boldPath is optional.
func Resolve(ctx context.Context, setting, boldPath string, logger *zap.Logger) (*Font, error) {
	switch strings.TrimSpace(setting) {
	case "":
		return nil, nil
	case "auto":
		return Finder{Logger: logger}.Find(ctx)
	}
	if _, err := os.Stat(setting); err != nil {
		return nil, err
	}
	font := &Font{Family: strings.TrimSuffix(filepath.Base(setting), filepath.Ext(setting)), Regular: setting}
	if boldPath != "" {
		if _, err := os.Stat(boldPath); err != nil {
			return nil, err
		}
		font.Bold = boldPath
	}
	return font, nil
}

// fontconfigFiles asks fc-list for every installed font file.
func fontconfigFiles(ctx context.Context) []string {
	fcList, err := exec.LookPath("fc-list")
	if err != nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctx, fcList, "--format", "%{file}\n").Output()
	if err != nil {
		return nil
	}
	return strings.Split(strings.TrimSpace(string(out)), "\n")
}

func scanDir(files map[string]string, dir string) {
	filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			addFile(files, path)
		}
		return nil
	})
}

// addFile indexes path by lowercase base name; the first hit wins.
func addFile(files map[string]string, path string) {
	path = strings.TrimSpace(path)
	if path == "" {
		return
	}
	name := strings.ToLower(filepath.Base(path))
	if filepath.Ext(name) != ".ttf" {
		return
	}
	if _, ok := files[name]; !ok {
		files[name] = path
	}
}
