// Package locale loads the per-locale string tables and resolves keys with a
// fallback to the default locale.
package locale

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/charmbracelet/log"
)

//go:embed language/*.json
var embedded embed.FS

var placeholder = regexp.MustCompile(`\{(\d+)\}`)

// Store holds the loaded tables. The zero value is not usable; call New and Init.
type Store struct {
	fsys   fs.FS
	def    discordgo.Locale
	logger *log.Logger

	mu      sync.RWMutex
	locales []discordgo.Locale
	data    map[discordgo.Locale]map[string]string
}

// New returns a store reading "*.json" tables from the root of fsys.
func New(fsys fs.FS, def discordgo.Locale, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.Default()
	}
	return &Store{
		fsys:   fsys,
		def:    def,
		logger: logger,
		data:   make(map[discordgo.Locale]map[string]string),
	}
}

// Embedded returns a store over the tables compiled into the binary.
func Embedded(def discordgo.Locale, logger *log.Logger) *Store {
	sub, err := fs.Sub(embedded, "language")
	if err != nil {
		panic(err)
	}
	return New(sub, def, logger)
}

// Init discovers and loads the tables. Only files named after a Discord locale
// are considered. A broken default table is fatal; any other broken table is
// skipped.
func (s *Store) Init() error {
	names, err := fs.Glob(s.fsys, "*.json")
	if err != nil {
		return fmt.Errorf("discover locale tables: %w", err)
	}

	data := make(map[discordgo.Locale]map[string]string)
	var locales []discordgo.Locale
	for _, name := range names {
		loc := discordgo.Locale(strings.TrimSuffix(path.Base(name), ".json"))
		if _, ok := discordgo.Locales[loc]; !ok {
			s.logger.Debug("ignoring table for unknown locale", "file", name)
			continue
		}

		table, err := s.load(name)
		if err != nil {
			if loc == s.def {
				return fmt.Errorf("load default locale %s: %w", loc, err)
			}
			s.logger.Warn("skipping locale table", "locale", loc, "err", err)
			continue
		}
		data[loc] = table
		locales = append(locales, loc)
	}

	if _, ok := data[s.def]; !ok {
		return fmt.Errorf("default locale %s: %w", s.def, fs.ErrNotExist)
	}
	slices.Sort(locales)

	s.mu.Lock()
	s.data = data
	s.locales = locales
	s.mu.Unlock()
	return nil
}

func (s *Store) load(name string) (map[string]string, error) {
	raw, err := fs.ReadFile(s.fsys, name)
	if err != nil {
		return nil, err
	}
	table := make(map[string]string)
	if err := json.Unmarshal(raw, &table); err != nil {
		return nil, err
	}
	return table, nil
}

// Default returns the fallback locale.
func (s *Store) Default() discordgo.Locale {
	return s.def
}

// Get resolves key for loc, falling back to the default locale and then to "".
// Every {N} is replaced by args[N]; placeholders without an argument stay as is.
func (s *Store) Get(loc discordgo.Locale, key string, args ...any) string {
	s.mu.RLock()
	if len(s.data) == 0 {
		s.mu.RUnlock()
		return ""
	}
	result, ok := s.data[loc][key]
	if !ok {
		result = s.data[s.def][key]
	}
	s.mu.RUnlock()

	if len(args) == 0 || !strings.Contains(result, "{") {
		return result
	}
	return placeholder.ReplaceAllStringFunc(result, func(match string) string {
		n, err := strconv.Atoi(match[1 : len(match)-1])
		if err != nil || n >= len(args) {
			return match
		}
		return fmt.Sprint(args[n])
	})
}

// Has reports whether key exists in the table of loc itself, without fallback.
func (s *Store) Has(loc discordgo.Locale, key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data[loc][key]
	return ok
}

// Locales returns the loaded locales, optionally without the default one.
func (s *Store) Locales(includeDefault bool) []discordgo.Locale {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]discordgo.Locale, 0, len(s.locales))
	for _, loc := range s.locales {
		if !includeDefault && loc == s.def {
			continue
		}
		out = append(out, loc)
	}
	return out
}

// Localized resolves key for every non-default locale.
func (s *Store) Localized(key string, args ...any) map[discordgo.Locale]string {
	out := make(map[discordgo.Locale]string)
	for _, loc := range s.Locales(false) {
		out[loc] = s.Get(loc, key, args...)
	}
	return out
}

// Entry is a name and description with their translations.
type Entry struct {
	Name                     string
	Description              string
	NameLocalizations        map[discordgo.Locale]string
	DescriptionLocalizations map[discordgo.Locale]string
}

// Command builds an entry from Command_<name>_Name and Command_<name>_Description.
func (s *Store) Command(name string) Entry {
	return s.entry("Command_" + name)
}

// CommandOption builds an entry from Command_<cmd>_Option_<opt>_Name/_Description.
func (s *Store) CommandOption(cmd, opt string) Entry {
	return s.entry("Command_" + cmd + "_Option_" + opt)
}

// OptionChoice returns the display name of a choice and its translations.
func (s *Store) OptionChoice(cmd, opt, choice string) (string, map[discordgo.Locale]string) {
	key := "Command_" + cmd + "_Option_" + opt + "_Choice_" + choice
	return s.Get(s.def, key), s.all(key)
}

func (s *Store) entry(prefix string) Entry {
	return Entry{
		Name:                     s.Get(s.def, prefix+"_Name"),
		Description:              s.Get(s.def, prefix+"_Description"),
		NameLocalizations:        s.all(prefix + "_Name"),
		DescriptionLocalizations: s.all(prefix + "_Description"),
	}
}

func (s *Store) all(key string) map[discordgo.Locale]string {
	out := make(map[discordgo.Locale]string)
	for _, loc := range s.Locales(true) {
		out[loc] = s.Get(loc, key)
	}
	return out
}
