package compiler

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"

	"github.com/roach88/aggql/internal/metadata"
)

// LoadModels loads every table declared under `table:` in the CUE package
// at dir and links them into a catalog.
//
// Compile errors of individual tables are collected; the catalog is only
// built when every table compiled.
func LoadModels(dir string) (*metadata.Catalog, []error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, []error{fmt.Errorf("models directory: %w", err)}
	}
	if !info.IsDir() {
		return nil, []error{fmt.Errorf("not a directory: %s", dir)}
	}

	files, err := FindCUEFiles(dir)
	if err != nil {
		return nil, []error{fmt.Errorf("scanning %s: %w", dir, err)}
	}
	if len(files) == 0 {
		return nil, []error{fmt.Errorf("no CUE files found in %s", dir)}
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, []error{fmt.Errorf("no CUE instances loaded")}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, []error{fmt.Errorf("loading CUE files: %w", formatCUEError(inst.Err))}
	}

	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, []error{formatCUEError(err)}
	}
	return CompileCatalog(value)
}

// CompileCatalog compiles the `table:` struct of an already built CUE
// value.
func CompileCatalog(value cue.Value) (*metadata.Catalog, []error) {
	tablesVal := value.LookupPath(cue.ParsePath("table"))
	if !tablesVal.Exists() {
		return nil, []error{fmt.Errorf("no tables found in models")}
	}
	iter, err := tablesVal.Fields()
	if err != nil {
		return nil, []error{formatCUEError(err)}
	}

	var (
		tables []*metadata.Table
		errs   []error
	)
	for iter.Next() {
		t, err := CompileTable(iter.Value())
		if err != nil {
			errs = append(errs, fmt.Errorf("table.%s: %w", iter.Label(), err))
			continue
		}
		tables = append(tables, t)
	}
	if len(errs) > 0 {
		return nil, errs
	}

	cat, err := metadata.NewCatalog(tables...)
	if err != nil {
		return nil, []error{err}
	}
	return cat, nil
}

// FindCUEFiles walks the directory and returns all .cue file paths,
// sorted.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	sort.Strings(files)
	return files, err
}
