package scriptbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"github.com/zhangyunhao116/scriptbox/internal/guard"
	"github.com/zhangyunhao116/scriptbox/internal/pathutil"
)

// defaultEntry is the function RunModule calls when WithEntry is not given.
const defaultEntry = "execute"

// maxModuleBytes bounds the size of a module after decompression.
const maxModuleBytes = 16 << 20

var entryRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// RunModule loads the script at path and runs it like Run. When the module
// binds the entry function at top level, the function is called with the
// payload and its return value becomes the result. Files ending in .zst are
// decompressed. With Config.ModuleRoot set, path must resolve inside it.
//
// A path that does not resolve yields a Result of kind module_not_found
// without screening or running anything.
func (r *Runner) RunModule(ctx context.Context, path string, payload any, opts ...Option) (Result, error) {
	if r.closed.Load() {
		return Result{}, ErrRunnerClosed
	}
	if path == "" {
		return Result{}, ErrEmptyModulePath
	}
	o, err := resolveOptions(&r.cfg, opts)
	if err != nil {
		return Result{}, err
	}
	if !entryRe.MatchString(o.entry) {
		return Result{}, fmt.Errorf("%w: %q", ErrInvalidEntry, o.entry)
	}
	payload, err = normalizePayload(payload)
	if err != nil {
		return Result{}, err
	}

	src, err := r.loadModule(path)
	if err != nil {
		start := time.Now()
		res := Result{Kind: KindModuleNotFound, Error: "Module not found: " + path}
		if !errors.Is(err, fs.ErrNotExist) && !errors.Is(err, pathutil.ErrOutsideRoot) {
			res = Result{Kind: KindSandbox, Error: "Module could not be read: " + err.Error()}
		}
		r.logger.Debug("scriptbox: module load failed", "path", path, "error", err)
		return r.finish(res, uuid.NewString(), start, newTracer(o.trace)), nil
	}
	j := job{
		source:   withEntryCall(src, o.entry),
		payload:  payload,
		filename: filepath.Base(strings.TrimSuffix(path, ".zst")),
	}
	return r.execute(ctx, j, o), nil
}

// ValidateModule loads the script at path the way RunModule does and screens
// it without running it. A path that does not resolve, or escapes
// Config.ModuleRoot, yields an error matching ErrModuleNotFound.
func (r *Runner) ValidateModule(path string) (Validation, error) {
	if r.closed.Load() {
		return Validation{}, ErrRunnerClosed
	}
	if path == "" {
		return Validation{}, ErrEmptyModulePath
	}
	src, err := r.loadModule(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, pathutil.ErrOutsideRoot) {
			return Validation{}, fmt.Errorf("%w: %s", ErrModuleNotFound, path)
		}
		return Validation{}, fmt.Errorf("scriptbox: load module: %w", err)
	}
	return validationOf(guard.Scan(src, r.policy.Load())), nil
}

// loadModule resolves path against the module root and reads it.
func (r *Runner) loadModule(path string) (string, error) {
	var (
		resolved string
		err      error
	)
	if r.cfg.ModuleRoot != "" {
		resolved, err = pathutil.ResolveWithin(r.cfg.ModuleRoot, path)
	} else {
		resolved, err = pathutil.Resolve(path)
	}
	if err != nil {
		return "", err
	}
	return readModule(resolved)
}

// readModule reads a module file, decompressing .zst files.
func readModule(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var rd io.Reader = f
	if filepath.Ext(path) == ".zst" {
		d, err := zstd.NewReader(f, zstd.WithDecoderMaxMemory(maxModuleBytes))
		if err != nil {
			return "", fmt.Errorf("create zstd reader: %w", err)
		}
		defer d.Close()
		rd = d
	}
	data, err := io.ReadAll(io.LimitReader(rd, maxModuleBytes+1))
	if err != nil {
		return "", fmt.Errorf("read module %s: %w", path, err)
	}
	if len(data) > maxModuleBytes {
		return "", fmt.Errorf("module %s is larger than %d bytes", path, maxModuleBytes)
	}
	return string(data), nil
}

// withEntryCall appends the call of entry to src when src binds it at top
// level. The type check skips an entry bound to plain data.
func withEntryCall(src, entry string) string {
	if !guard.Binds(src, entry) {
		return src
	}
	var b strings.Builder
	b.WriteString(src)
	if !strings.HasSuffix(src, "\n") {
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "if type(%s) in (\"function\", \"builtin_function_or_method\"):\n", entry)
	fmt.Fprintf(&b, "    result = %s(input_data)\n", entry)
	return b.String()
}
