package libraryserver

import (
	"bufio"
	_ "embed"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
)

var (
	//go:embed wordlists/reserved_usernames.txt
	reservedUsernamesRaw string
	//go:embed wordlists/weak_passwords.txt
	weakPasswordsRaw string
)

// wordSet is a case-insensitive membership set loaded once at startup
// from a word list.
type wordSet map[string]struct{}

// contains reports whether word is in the set, ignoring case and
// surrounding whitespace.
func (ws wordSet) contains(word string) bool {
	_, ok := ws[strings.ToLower(strings.TrimSpace(word))]
	return ok
}

// parseWordList reads one word per line.  Blank lines and lines starting
// with '#' are skipped.
func parseWordList(r io.Reader) (wordSet, error) {
	ws := wordSet{}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ws[strings.ToLower(line)] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.WithStack(err)
	}
	return ws, nil
}

// loadWordListFile parses the word list at path.
func loadWordListFile(path string) (ws wordSet, rerr error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer func() {
		rerr = appendError(rerr, errors.WithStack(f.Close()))
	}()
	return parseWordList(f)
}

// loadWordLists returns the reserved-username and weak-password sets.
// When config points at a word list directory the files there win over
// the embedded defaults.
func loadWordLists(config *Config) (wordSet, wordSet, error) {
	if config.WordListDir == "" {
		reserved, err := parseWordList(strings.NewReader(reservedUsernamesRaw))
		if err != nil {
			return nil, nil, err
		}
		weak, err := parseWordList(strings.NewReader(weakPasswordsRaw))
		if err != nil {
			return nil, nil, err
		}
		return reserved, weak, nil
	}

	reserved, err := loadWordListFile(
		filepath.Join(config.WordListDir, "reserved_usernames.txt"))
	if err != nil {
		return nil, nil, err
	}
	weak, err := loadWordListFile(
		filepath.Join(config.WordListDir, "weak_passwords.txt"))
	if err != nil {
		return nil, nil, err
	}
	return reserved, weak, nil
}
