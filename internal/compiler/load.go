package compiler

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"

	"github.com/roach88/factrule/internal/ast"
	"github.com/roach88/factrule/internal/ir"
)

// FindCUEFiles walks dir and returns every .cue file path, sorted.
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

// LoadDir builds the CUE package in dir and compiles it into a rule set
// named after the directory. The hash covers every .cue file's relative
// path and contents, so renaming or editing any file changes it.
func LoadDir(dir string) (*ast.RuleSet, error) {
	files, err := FindCUEFiles(dir)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no CUE files found in %s", dir)
	}

	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, fmt.Errorf("no CUE instances loaded from %s", dir)
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, formatCUEError(inst.Err)
	}

	v := cuecontext.New().BuildInstance(inst)
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	rs, err := CompileRuleSet(filepath.Base(filepath.Clean(dir)), v)
	if err != nil {
		return nil, err
	}
	if rs.Hash, err = hashFiles(dir, files); err != nil {
		return nil, err
	}
	return rs, nil
}

func hashFiles(dir string, files []string) (string, error) {
	var buf bytes.Buffer
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return "", fmt.Errorf("hash rule set: %w", err)
		}
		rel, err := filepath.Rel(dir, f)
		if err != nil {
			rel = f
		}
		buf.WriteString(filepath.ToSlash(rel))
		buf.WriteByte(0)
		buf.Write(data)
		buf.WriteByte(0)
	}
	return ir.RuleSetHash(buf.Bytes()), nil
}
