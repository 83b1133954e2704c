// Package ingest implements S1, the Ingestor: scan a directory of
// heterogeneous customs files, checksum and register each one, and bulk
// load its rows into RawRow with provenance. File-format sniffing and
// spreadsheet/CSV parsing are out of scope (spec.md §1) — this package
// consumes an already-tokenized RowReader per file.
package ingest

import (
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/obsrvr/tradeledger/internal/model"
)

// FileSpec is the lazily enumerated description of one input file before
// it is opened for data.
type FileSpec struct {
	Path      string
	Name      string
	Country   string
	Direction model.Direction
	Year      int
	Month     int
	Synthetic bool
}

// pathRegex matches the documented convention
// <root>/<country>/<direction>/<year>/<month>/<filename>.
var pathRegex = regexp.MustCompile(`(?i)([a-z]{2,3})[/\\](import|export)[/\\](\d{4})[/\\](\d{1,2})[/\\]([^/\\]+)$`)

// syntheticRegex matches <country>_(import|export)_YYYYMM*, files the spec
// says to skip with status TEST.
var syntheticRegex = regexp.MustCompile(`(?i)^[a-z]{2,3}_(import|export)_\d{6}`)

var recognizedExt = map[string]bool{".xlsx": true, ".xls": true, ".csv": true}

// Lister enumerates candidate file paths under root; in production this is
// a filepath.WalkDir wrapper, here it is a narrow interface so tests can
// supply a fixed fake tree.
type Lister interface {
	List(root string) ([]string, error)
}

// Scan enumerates files under root, filters by recognized extension,
// derives FileSpec metadata from the path convention, and returns them in
// deterministic (lexicographic path) order.
func Scan(lister Lister, root string) ([]FileSpec, error) {
	paths, err := lister.List(root)
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	specs := make([]FileSpec, 0, len(paths))
	for _, p := range paths {
		ext := strings.ToLower(filepath.Ext(p))
		if !recognizedExt[ext] {
			continue
		}
		name := filepath.Base(p)
		spec := FileSpec{Path: p, Name: name}

		if syntheticRegex.MatchString(name) {
			spec.Synthetic = true
		}

		if m := pathRegex.FindStringSubmatch(filepath.ToSlash(p)); m != nil {
			spec.Country = strings.ToUpper(m[1])
			spec.Direction = model.Direction(strings.ToUpper(m[2]))
			spec.Year, _ = strconv.Atoi(m[3])
			spec.Month, _ = strconv.Atoi(m[4])
		}

		specs = append(specs, spec)
	}
	return specs, nil
}
