package voice

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Rule file names inside a pack directory. The TTS file wins when both exist.
const (
	TTSConfigFile = "_ttsconfig.mg"
	ConfigFile    = "_config.mg"

	ttsSuffix = "-tts"
)

// PackKind tells recorded-sample packs from text-to-speech packs.
type PackKind int

const (
	Recorded PackKind = iota
	TTS
)

func (k PackKind) String() string {
	if k == TTS {
		return "tts"
	}
	return "recorded"
}

// Pack is a loaded voice pack. It is not modified after Locate returns it.
type Pack struct {
	ID        string
	Dir       string
	Kind      PackKind
	RuleFile  string
	Payload   string
	SampleDir string
	Language  string
}

// Locator finds voice packs by id.
type Locator interface {
	Locate(id string) (*Pack, error)
	List() ([]string, error)
}

// DirLocator serves packs from sub-directories of Root.
type DirLocator struct {
	Root string
}

// Locate reads the pack directory Root/id.
func (l DirLocator) Locate(id string) (*Pack, error) {
	if id == "" || id != filepath.Base(id) || id == "." || id == ".." {
		return nil, newPackError(PackUnavailable, id, fmt.Errorf("invalid pack id"))
	}
	dir, err := filepath.Abs(filepath.Join(l.Root, id))
	if err != nil {
		return nil, newPackError(PackUnavailable, id, err)
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, newPackError(PackUnavailable, id, err)
	}
	if !info.IsDir() {
		return nil, newPackError(PackUnavailable, id, fmt.Errorf("%s is not a directory", dir))
	}

	ruleFile, kind, ok := ruleFileIn(dir)
	if !ok {
		return nil, newPackError(PackUnavailable, id, fmt.Errorf("no %s or %s in %s", TTSConfigFile, ConfigFile, dir))
	}
	data, err := os.ReadFile(ruleFile)
	if err != nil {
		return nil, newPackError(CorruptRuleBase, id, fmt.Errorf("failed to read %s: %w", ruleFile, err))
	}

	return &Pack{
		ID:        id,
		Dir:       dir,
		Kind:      kind,
		RuleFile:  ruleFile,
		Payload:   string(data),
		SampleDir: dir,
		Language:  FallbackLanguage(id),
	}, nil
}

// List returns the ids of every directory under Root holding a rule file.
func (l DirLocator) List() ([]string, error) {
	entries, err := os.ReadDir(l.Root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, newPackError(PackUnavailable, "", err)
		}
		return nil, fmt.Errorf("failed to list voice packs: %w", err)
	}
	var ids []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, _, ok := ruleFileIn(filepath.Join(l.Root, entry.Name())); ok {
			ids = append(ids, entry.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func ruleFileIn(dir string) (string, PackKind, bool) {
	for _, candidate := range []struct {
		name string
		kind PackKind
	}{{TTSConfigFile, TTS}, {ConfigFile, Recorded}} {
		path := filepath.Join(dir, candidate.name)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, candidate.kind, true
		}
	}
	return "", Recorded, false
}

// FallbackLanguage derives a language from a pack id: "en-gb-formal-tts" becomes "en-gb".
func FallbackLanguage(id string) string {
	lang := strings.Replace(id, ttsSuffix, "", 1)
	lang = strings.Replace(lang, "-formal", "", 1)
	return strings.Replace(lang, "-casual", "", 1)
}
