// Package collection batches script execution over sets of image
// files. A Collection is an ordered list of .xcf paths plus helpers
// for path surgery and for running a script either once over the whole
// set or per file, depending on how the script asks for its input.
package collection

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gimpscript/gimpscript"
	"github.com/gimpscript/gimpscript/internal/script"
)

// Extension is the image file extension a collection operates on.
const Extension = ".xcf"

// Script placeholders. A per-file script opens exactly one image via
// the FilePlaceholder; a batch script reads the whole list through the
// files parameter.
const (
	FilePlaceholder = "__file__"
	FilesParameter  = "__files__"
)

var (
	// ErrPathComponentMismatch reports a path replacement where not
	// every file carries the requested prefix and suffix.
	ErrPathComponentMismatch = errors.New("all files must start with the given prefix and end with the given suffix")

	// ErrScriptParameterMissing reports a script that neither opens a
	// single file nor reads the file list parameter.
	ErrScriptParameterMissing = errors.New(
		"either an image file must be opened with open_xcf('" + FilePlaceholder + "') " +
			"or the file list must be retrieved with get_json('" + FilesParameter + "') or for_each_file()")
)

// Collection is an ordered, immutable set of image file paths.
type Collection struct {
	files []string
}

// New creates a collection from an explicit file list.
func New(files []string) *Collection {
	return &Collection{files: append([]string(nil), files...)}
}

// FromPath creates a collection from a path: a directory is searched
// for image files, a trailing '**' searches the tree recursively, a
// pattern is globbed, and a bare filename gets the image extension
// appended.
func FromPath(pathname string) (*Collection, error) {
	switch {
	case strings.HasSuffix(pathname, "**") || strings.HasSuffix(pathname, "**/"):
		root := strings.TrimSuffix(strings.TrimSuffix(pathname, "/"), "**")
		if root == "" {
			root = "."
		}
		return fromTree(root)
	case isDir(pathname):
		pathname = filepath.Join(pathname, "*"+Extension)
	default:
		ext := filepath.Ext(pathname)
		if ext != Extension && ext != "" && !strings.ContainsAny(ext, "*?[") {
			return New(nil), nil
		}
		if ext == "" {
			pathname += Extension
		}
	}

	files, err := filepath.Glob(pathname)
	if err != nil {
		return nil, fmt.Errorf("expand %s: %w", pathname, err)
	}
	sortByDepth(files)
	return New(files), nil
}

func fromTree(root string) (*Collection, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !d.IsDir() && filepath.Ext(path) == Extension {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", root, err)
	}
	sortByDepth(files)
	return New(files), nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// sortByDepth orders shallow paths before deep ones, lexicographic
// within one depth.
func sortByDepth(files []string) {
	sort.Slice(files, func(i, j int) bool {
		di := strings.Count(files[i], string(filepath.Separator))
		dj := strings.Count(files[j], string(filepath.Separator))
		if di != dj {
			return di < dj
		}
		return files[i] < files[j]
	})
}

// Files returns the paths in the collection.
func (c *Collection) Files() []string {
	return append([]string(nil), c.files...)
}

// Len returns the number of files.
func (c *Collection) Len() int {
	return len(c.files)
}

// Prefix returns the common directory prefix of all files including a
// trailing separator. Empty collection yields "".
func (c *Collection) Prefix() string {
	if len(c.files) == 0 {
		return ""
	}
	if len(c.files) == 1 {
		return filepath.Dir(c.files[0]) + "/"
	}
	common := c.files[0]
	for _, file := range c.files[1:] {
		for !strings.HasPrefix(file, common) {
			common = common[:len(common)-1]
			if common == "" {
				return ""
			}
		}
	}
	if isDir(common) {
		if !strings.HasSuffix(common, "/") {
			common += "/"
		}
		return common
	}
	return filepath.Dir(common) + "/"
}

// ReplacePrefix returns a new collection with the prefix swapped on
// every path.
func (c *Collection) ReplacePrefix(prefix, newPrefix string) (*Collection, error) {
	return c.ReplacePathComponents(prefix, newPrefix, "", "")
}

// ReplaceSuffix returns a new collection with the pre-extension suffix
// swapped on every path.
func (c *Collection) ReplaceSuffix(suffix, newSuffix string) (*Collection, error) {
	return c.ReplacePathComponents("", "", suffix, newSuffix)
}

// ReplacePathComponents swaps a leading prefix and a trailing suffix
// on every path. Suffixes are normalized to include the image
// extension. Every file must match both components.
func (c *Collection) ReplacePathComponents(prefix, newPrefix, suffix, newSuffix string) (*Collection, error) {
	if !strings.HasSuffix(suffix, Extension) {
		suffix += Extension
	}
	if !strings.HasSuffix(newSuffix, Extension) {
		newSuffix += Extension
	}

	for _, file := range c.files {
		if !strings.HasPrefix(file, prefix) || !strings.HasSuffix(file, suffix) {
			return nil, ErrPathComponentMismatch
		}
	}

	files := make([]string, len(c.files))
	for i, file := range c.files {
		trimmed := file[len(prefix) : len(file)-len(suffix)]
		files[i] = newPrefix + trimmed + newSuffix
	}
	return New(files), nil
}

// FindByScript returns the files matched by a predicate script.
//
// A script that opens open_xcf('__file__') and answers with
// return_bool runs once per file. A script that reads
// get_json('__files__') and answers with return_json runs once and
// must return the matching paths as a JSON list.
func (c *Collection) FindByScript(ctx context.Context, r *gimpscript.Runner, predicate string, opts ...gimpscript.ExecOption) ([]string, error) {
	switch {
	case strings.Contains(predicate, "open_xcf('"+FilePlaceholder+"')") && strings.Contains(predicate, "return_bool("):
		var matches []string
		for _, file := range c.files {
			perFile := strings.ReplaceAll(predicate, FilePlaceholder, script.EscapeSingleQuotes(file))
			ok, err := r.ExecuteBool(ctx, perFile, opts...)
			if err != nil {
				return nil, fmt.Errorf("predicate on %s: %w", file, err)
			}
			if ok {
				matches = append(matches, file)
			}
		}
		return matches, nil

	case strings.Contains(predicate, "get_json('"+FilesParameter+"')") && strings.Contains(predicate, "return_json("):
		opts = append(opts, gimpscript.WithParameters(map[string]any{FilesParameter: c.files}))
		result, err := r.ExecuteJSON(ctx, predicate, opts...)
		if err != nil {
			return nil, err
		}
		list, ok := result.([]any)
		if !ok {
			return nil, fmt.Errorf("predicate must return a JSON list, got %T", result)
		}
		matches := make([]string, 0, len(list))
		for _, entry := range list {
			path, ok := entry.(string)
			if !ok {
				return nil, fmt.Errorf("predicate must return a JSON list of paths, got element %T", entry)
			}
			matches = append(matches, path)
		}
		return matches, nil
	}

	return nil, ErrScriptParameterMissing
}

// ExecuteAndCollectJSON runs a script over the collection and returns
// its JSON result.
//
// A script that opens open_xcf('__file__') runs once per file; the
// result is a map from path to that file's JSON value. A script that
// reads get_json('__files__') or iterates with for_each_file runs once
// and its JSON value is returned as-is.
func (c *Collection) ExecuteAndCollectJSON(ctx context.Context, r *gimpscript.Runner, code string, opts ...gimpscript.ExecOption) (any, error) {
	switch {
	case strings.Contains(code, "open_xcf('"+FilePlaceholder+"')") && strings.Contains(code, "return_json("):
		results := make(map[string]any, len(c.files))
		for _, file := range c.files {
			perFile := strings.ReplaceAll(code, FilePlaceholder, script.EscapeSingleQuotes(file))
			value, err := r.ExecuteJSON(ctx, perFile, opts...)
			if err != nil {
				return nil, fmt.Errorf("script on %s: %w", file, err)
			}
			results[file] = value
		}
		return results, nil

	case (strings.Contains(code, "get_json('"+FilesParameter+"')") || strings.Contains(code, "for_each_file(")) && strings.Contains(code, "return_json("):
		opts = append(opts, gimpscript.WithParameters(map[string]any{FilesParameter: c.files}))
		return r.ExecuteJSON(ctx, code, opts...)
	}

	return nil, ErrScriptParameterMissing
}
