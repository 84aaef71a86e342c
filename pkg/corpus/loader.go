// Package corpus loads workflow documents and anti-pattern rules from the
// directory written by the knowledge-base build pipeline. The loader only
// reads the directory; it never writes to it.
package corpus

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/go-playground/validator/v10"

	"github.com/workflowhub/kbservice/pkg/models"
)

// fieldValidator enforces the validate tags on loaded documents and rules.
var fieldValidator = validator.New(validator.WithRequiredStructEnabled())

// RulesFileName is the single anti-pattern rule file within the corpus root.
const RulesFileName = "anti_patterns.json"

// ErrEmptyCorpus is returned when a load produces zero documents.
var ErrEmptyCorpus = errors.New("corpus contains no loadable documents")

type Loader struct {
	root   string
	logger *slog.Logger
}

func NewLoader(root string, logger *slog.Logger) *Loader {
	return &Loader{
		root:   root,
		logger: logger.With("module", "corpus"),
	}
}

// Root returns the corpus directory the loader reads from.
func (l *Loader) Root() string {
	return l.root
}

// Load reads every workflow JSON file and the anti-pattern rule file beneath
// the corpus root. Individually malformed files are skipped and recorded as
// warnings; the load fails only when zero documents result.
func (l *Loader) Load() (*models.Snapshot, error) {
	fsys := os.DirFS(l.root)

	paths, err := doublestar.Glob(fsys, "**/*.json")
	if err != nil {
		return nil, fmt.Errorf("scanning corpus %s: %w", l.root, err)
	}

	sort.Strings(paths)

	var (
		docs     []models.WorkflowDocument
		rules    []models.AntiPatternRule
		warnings []string
		seen     = make(map[string]string)
		hash     = sha256.New()
	)

	warn := func(file, msg string) {
		warnings = append(warnings, fmt.Sprintf("%s: %s", file, msg))
		l.logger.Warn("Skipping corpus file", "file", file, "reason", msg)
	}

	for _, p := range paths {
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			warn(p, "unreadable: "+err.Error())

			continue
		}

		hash.Write([]byte(p))
		hash.Write(data)

		if path.Base(p) == RulesFileName {
			loaded, err := parseRules(data)
			if err != nil {
				warn(p, "invalid rule file: "+err.Error())

				continue
			}

			rules = append(rules, loaded...)

			continue
		}

		doc, err := parseDocument(p, data)
		if err != nil {
			warn(p, err.Error())

			continue
		}

		if prev, dup := seen[doc.ID]; dup {
			warn(p, fmt.Sprintf("duplicate id %q (already loaded from %s)", doc.ID, prev))

			continue
		}

		seen[doc.ID] = p
		docs = append(docs, doc)
	}

	if len(docs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyCorpus, l.root)
	}

	snap := models.NewSnapshot(docs, rules, hex.EncodeToString(hash.Sum(nil)), warnings)

	l.logger.Info("Corpus loaded",
		"documents", snap.DocumentCount(),
		"rules", len(snap.Rules),
		"warnings", len(snap.Warnings),
		"source_hash", snap.SourceHash[:12],
	)

	return snap, nil
}

func parseDocument(file string, data []byte) (models.WorkflowDocument, error) {
	var doc models.WorkflowDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("invalid JSON: %w", err)
	}

	doc.ID = NormalizeID(doc.ID)
	if doc.ID == "" {
		doc.ID = NormalizeID(strings.TrimSuffix(path.Base(file), ".json"))
	}

	if err := fieldValidator.Struct(doc); err != nil {
		return doc, fmt.Errorf("invalid document: %w", err)
	}

	if doc.Category == models.CategoryWorkflow && len(doc.Steps) == 0 {
		return doc, errors.New("workflow document has no steps")
	}

	return doc, nil
}

func parseRules(data []byte) ([]models.AntiPatternRule, error) {
	var rules []models.AntiPatternRule
	if err := json.Unmarshal(data, &rules); err != nil {
		return nil, err
	}

	valid := make([]models.AntiPatternRule, 0, len(rules))

	for _, rule := range rules {
		if err := fieldValidator.Struct(rule); err != nil {
			return nil, fmt.Errorf("invalid rule %q: %w", rule.ID, err)
		}

		valid = append(valid, rule)
	}

	return valid, nil
}

// NormalizeID lowercases an id and collapses whitespace to hyphens so ids
// are stable regardless of how the build pipeline titled the file.
func NormalizeID(id string) string {
	id = strings.ToLower(strings.TrimSpace(id))

	return strings.Join(strings.Fields(id), "-")
}
