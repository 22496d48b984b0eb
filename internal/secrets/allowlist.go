package secrets

import (
	"errors"
	"fmt"
	"os"
	"regexp"

	"github.com/BurntSushi/toml"
)

// ErrInvalidAllowlist is returned for unparsable allowlist files.
var ErrInvalidAllowlist = errors.New("invalid allowlist")

// Allowlist holds content patterns that are never redacted.
type Allowlist struct {
	Regexes   []string
	StopWords []string
}

// LoadAllowlist reads the [allowlist] table of a gitleaks-style TOML file.
// A missing file yields an empty allowlist.
func LoadAllowlist(path string) (*Allowlist, error) {
	if path == "" {
		return &Allowlist{}, nil
	}
	var doc struct {
		Allowlist struct {
			Regexes   []string `toml:"regexes"`
			StopWords []string `toml:"stopwords"`
		} `toml:"allowlist"`
	}
	if _, err := toml.DecodeFile(path, &doc); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Allowlist{}, nil
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidAllowlist, path, err)
	}
	for _, p := range doc.Allowlist.Regexes {
		if _, err := regexp.Compile(p); err != nil {
			return nil, fmt.Errorf("%w: pattern %q in %s: %v", ErrInvalidAllowlist, p, path, err)
		}
	}
	return &Allowlist{Regexes: doc.Allowlist.Regexes, StopWords: doc.Allowlist.StopWords}, nil
}

func (a *Allowlist) compile() []*regexp.Regexp {
	if a == nil {
		return nil
	}
	out := make([]*regexp.Regexp, 0, len(a.Regexes))
	for _, p := range a.Regexes {
		out = append(out, regexp.MustCompile(p))
	}
	return out
}
