// Package metadata resolves per-document metadata through an ordered fallback
// chain: sidecar file, embedded front matter, filename heuristics, defaults.
// Resolution never fails a document; invalid values degrade with a recorded
// warning.
package metadata

import (
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/wargame-agent/backend/internal/errs"
	"github.com/wargame-agent/backend/internal/storage/models"
	"github.com/wargame-agent/backend/pkg/logger"
)

// SidecarSuffix is appended to the full source filename, e.g. the sidecar for
// report.txt is report.txt.meta.yml.
const SidecarSuffix = ".meta.yml"

var yearRe = regexp.MustCompile(`(19\d{2}|20\d{2}|2100)`)

type fileMeta struct {
	Title      string   `yaml:"title"`
	Collection string   `yaml:"collection"`
	Year       *int     `yaml:"year"`
	Doctrine   string   `yaml:"doctrine"`
	Tags       []string `yaml:"tags"`
}

// Resolution is the outcome of resolving one document. Warnings carry the
// validation failures that were degraded rather than raised.
type Resolution struct {
	Collection string
	Title      string
	Year       *int
	Doctrine   string
	Tags       []string
	Warnings   []errs.ValidationError
}

type Resolver struct{}

func NewResolver() *Resolver {
	return &Resolver{}
}

// Resolve derives metadata for the document at path with the given extracted
// text. When the text carries YAML front matter, the stripped body is
// returned; otherwise body equals text.
func (r *Resolver) Resolve(path, text string) (Resolution, string) {
	var res Resolution

	body, embedded, embedWarn := splitFrontMatter(text)
	if embedWarn != nil {
		res.Warnings = append(res.Warnings, *embedWarn)
	}

	sidecar := r.loadSidecar(path, &res)

	fromName := filenameMeta(path)

	res.Title = firstNonEmpty(sidecar.Title, embedded.Title, fromName.Title)
	res.Collection = firstNonEmpty(sidecar.Collection, embedded.Collection, fromName.Collection, models.CollectionOther)
	res.Year = firstYear(sidecar.Year, embedded.Year, fromName.Year)
	res.Doctrine = firstNonEmpty(sidecar.Doctrine, embedded.Doctrine)
	res.Tags = mergeTags(sidecar.Tags, embedded.Tags)

	r.validate(&res)

	for _, w := range res.Warnings {
		logger.Warn("Metadata degraded to defaults",
			zap.String("path", path),
			zap.String("field", w.Field),
			zap.String("reason", w.Reason),
		)
	}

	return res, body
}

func (r *Resolver) loadSidecar(path string, res *Resolution) fileMeta {
	var meta fileMeta

	raw, err := os.ReadFile(path + SidecarSuffix)
	if err != nil {
		if !os.IsNotExist(err) {
			res.Warnings = append(res.Warnings, errs.ValidationError{Field: "sidecar", Reason: "unreadable: " + err.Error()})
		}
		return meta
	}

	if err := yaml.Unmarshal(raw, &meta); err != nil {
		res.Warnings = append(res.Warnings, errs.ValidationError{Field: "sidecar", Reason: "unparseable: " + err.Error()})
		return fileMeta{}
	}
	return meta
}

func (r *Resolver) validate(res *Resolution) {
	if res.Collection != "" && !models.ValidCollection(res.Collection) {
		res.Warnings = append(res.Warnings, errs.ValidationError{
			Field:  "collection",
			Reason: "unknown collection " + strconv.Quote(res.Collection),
		})
		res.Collection = models.CollectionOther
	}

	if res.Year != nil && (*res.Year < 1900 || *res.Year > 2100) {
		res.Warnings = append(res.Warnings, errs.ValidationError{
			Field:  "year",
			Reason: "outside 1900-2100: " + strconv.Itoa(*res.Year),
		})
		res.Year = nil
	}

	res.Doctrine = strings.ToLower(strings.TrimSpace(res.Doctrine))
	if len(res.Doctrine) > 64 || strings.ContainsAny(res.Doctrine, "\n\r") {
		res.Warnings = append(res.Warnings, errs.ValidationError{
			Field:  "doctrine",
			Reason: "malformed doctrine label",
		})
		res.Doctrine = ""
	}
}

// splitFrontMatter parses a leading YAML block delimited by --- lines. On a
// parse error the text is left intact and a warning is returned.
func splitFrontMatter(text string) (string, fileMeta, *errs.ValidationError) {
	var meta fileMeta

	if !strings.HasPrefix(text, "---\n") && !strings.HasPrefix(text, "---\r\n") {
		return text, meta, nil
	}

	rest := text[strings.IndexByte(text, '\n')+1:]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return text, meta, nil
	}

	block := rest[:end]
	body := rest[end+len("\n---"):]
	if i := strings.IndexByte(body, '\n'); i >= 0 {
		body = body[i+1:]
	} else {
		body = ""
	}

	if err := yaml.Unmarshal([]byte(block), &meta); err != nil {
		warn := errs.ValidationError{Field: "front_matter", Reason: "unparseable: " + err.Error()}
		return text, fileMeta{}, &warn
	}

	return strings.TrimLeft(body, "\n"), meta, nil
}

// filenameMeta applies naming-convention heuristics: a 4-digit year token, a
// collection name embedded in the stem, and a title from the stem itself.
func filenameMeta(path string) fileMeta {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	var meta fileMeta

	if m := yearRe.FindString(stem); m != "" {
		if y, err := strconv.Atoi(m); err == nil && y >= 1900 && y <= 2100 {
			meta.Year = &y
		}
	}

	for _, token := range strings.FieldsFunc(strings.ToLower(stem), func(r rune) bool {
		return r == '-' || r == '_' || r == ' ' || r == '.'
	}) {
		if models.ValidCollection(token) {
			meta.Collection = token
			break
		}
	}

	title := strings.NewReplacer("_", " ", "-", " ").Replace(stem)
	meta.Title = strings.Join(strings.Fields(title), " ")

	return meta
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func firstYear(values ...*int) *int {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}

func mergeTags(tagSets ...[]string) []string {
	seen := make(map[string]bool)
	var merged []string
	for _, tags := range tagSets {
		for _, tag := range tags {
			tag = strings.TrimSpace(tag)
			if tag == "" || seen[tag] {
				continue
			}
			seen[tag] = true
			merged = append(merged, tag)
		}
	}
	return merged
}
