// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package checkpoints implements saving and loading of the full state of a module.Instance.
//
// Encode / Decode (and Marshal / Unmarshal) convert an Instance to and from a single stream: a
// JSON header describing the cells, followed by the gzip-compressed values. Decoding needs the
// symbolic Module, since only values are stored: the Module is re-compiled and its cells restored.
//
// The Handler manages a directory of checkpoints, keeping the last few. It is created by calling
// Build, followed by the various options and finally Config.Done.
//
// Example: save the state of an Instance after every epoch, keeping the last 3 checkpoints.
//
//	checkpoint, err := checkpoints.Build(inst).Dir(*flagCheckpoint).Keep(3).Done()
//	if err != nil { ... }
//	for epoch := range numEpochs {
//		...
//		must.M(checkpoint.Save())
//	}
//
// And later, to continue from where it stopped:
//
//	inst, err := checkpoints.Build(nil).Dir(*flagCheckpoint).MustDone().LoadLatest(myModule)
package checkpoints

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/gomlx/symbolic/pkg/module"
	"github.com/gomlx/symbolic/pkg/support/fsutil"
	"github.com/pkg/errors"
	"golang.org/x/exp/slices"
	"k8s.io/klog/v2"
)

var (
	// DirPermMode is the default directory creation permission (before umask) used.
	DirPermMode = os.FileMode(0770)

	// ErrNoCheckpoints is returned when loading from a directory without checkpoints.
	ErrNoCheckpoints = errors.New("no checkpoints found")
)

const (
	baseNamePrefix = "checkpoint-"

	// FileSuffix of the checkpoint files in a Handler directory.
	FileSuffix = ".ckpt"
)

// Config for the checkpoints' Handler to be created. This is created with Build() and
// configured with the various methods. Once finished, call Done() and it will output
// a checkpoints.Handler.
type Config struct {
	inst *module.Instance
	err  error

	dir      string
	keep     int
	mustLoad bool
}

// Build a configuration for a checkpoints.Handler of inst. After configuring the Config object
// returned, call `Done` to get the configured checkpoints.Handler.
//
// The Instance can be nil if the Handler is only used to load checkpoints.
func Build(inst *module.Instance) *Config {
	return &Config{inst: inst, keep: 1}
}

// Load creates the configuration to load checkpoints: it's identical to Build(nil), except Done
// will fail if the directory doesn't exist or holds no checkpoints.
func Load() *Config {
	c := Build(nil)
	c.mustLoad = true
	return c
}

func (c *Config) setError(err error) {
	if c.err == nil {
		c.err = err
	}
}

// Dir sets the directory where to save / load the checkpoints. It is created if it doesn't exist.
//
// One must set either Dir or TempDir before building the checkpoints.Handler.
func (c *Config) Dir(dir string) *Config {
	dir, err := fsutil.ReplaceTildeInDir(dir)
	if err != nil {
		c.setError(err)
		return c
	}
	c.dir = dir
	fi, err := os.Stat(dir)
	if err != nil && !os.IsNotExist(err) {
		c.setError(errors.Wrapf(err, "failed to os.Stat(%q)", dir))
		return c
	}
	if err == nil {
		if !fi.IsDir() {
			c.setError(errors.Errorf("checkpoint directory %q exists but it's a normal file, not a directory", dir))
		}
		return c
	}
	if c.mustLoad {
		c.setError(errors.Wrapf(err, "checkpoint directory %q does not exist or cannot be accessed", dir))
		return c
	}
	if err = os.MkdirAll(dir, DirPermMode); err != nil {
		c.setError(errors.Wrapf(err, "trying to create dir %q", dir))
	}
	return c
}

// TempDir creates a temporary directory under dir, with the pattern name, and uses this
// directory to load / save checkpoints. It's a convenience wrapper to os.MkdirTemp.
//
// One must set either Dir or TempDir before building the checkpoints.Handler.
func (c *Config) TempDir(dir, pattern string) *Config {
	newDir, err := os.MkdirTemp(dir, pattern)
	if err != nil {
		c.setError(errors.Wrapf(err, "failed to create os.MkdirTemp(%q, %q)", dir, pattern))
		return c
	}
	c.dir = newDir
	return c
}

// Keep configures the number of checkpoint files to keep. If set to -1, it will never erase older
// checkpoints. The default is 1.
func (c *Config) Keep(n int) *Config {
	c.keep = n
	return c
}

// Done creates a Handler with the current configuration. It returns an error if the configuration is
// invalid or if it's missing information.
func (c *Config) Done() (*Handler, error) {
	if c.err != nil {
		return nil, c.err
	}
	if c.dir == "" {
		return nil, errors.New("directory for checkpoints not configured, use Dir or TempDir")
	}
	if c.keep == 0 {
		return nil, errors.New("Keep(0) would remove every checkpoint saved, use -1 to keep all")
	}
	h := &Handler{config: c}
	list, err := h.List()
	if err != nil {
		return nil, err
	}
	if c.mustLoad && len(list) == 0 {
		return nil, errors.Wrapf(ErrNoCheckpoints, "in %q", c.dir)
	}
	h.count = maxCountFromCheckpoints(list) + 1
	return h, nil
}

// MustDone constructs the checkpoints.Handler. It panics if there was an error.
func (c *Config) MustDone() *Handler {
	h, err := c.Done()
	if err != nil {
		panic(errors.WithMessage(err, "failed to create checkpoints.Handler"))
	}
	return h
}

// Handler saves checkpoints of an Instance to a directory, and loads them back.
//
// Each call to Save creates a new checkpoint file, named with an increasing counter, and then
// removes the oldest ones beyond the configured Keep.
type Handler struct {
	config *Config
	count  int
}

// String implements fmt.Stringer.
func (h *Handler) String() string {
	return fmt.Sprintf("checkpoints.Handler(%q)", h.config.dir)
}

// Dir returns the directory the Handler is configured to. It returns "" if the Handler is nil.
func (h *Handler) Dir() string {
	if h == nil {
		return ""
	}
	return h.config.dir
}

// Save creates a new checkpoint with the current state of the Instance.
//
// The file is first written under a temporary name and then renamed, so a checkpoint file is
// never seen partially written.
//
// If the handler is nil, this is a no-op.
func (h *Handler) Save() error {
	if h == nil {
		return nil
	}
	if h.config.inst == nil {
		return errors.Errorf("%s was built without an Instance, it can only load checkpoints", h)
	}
	tmpFile, err := os.CreateTemp(h.config.dir, ".tmp-"+baseNamePrefix+"*")
	if err != nil {
		return errors.Wrapf(err, "%s: failed to create temporary file", h)
	}
	tmpName := tmpFile.Name()
	defer func() {
		// No-op if the rename succeeded.
		_ = os.Remove(tmpName)
	}()
	err = Encode(tmpFile, h.config.inst)
	closeErr := tmpFile.Close()
	if err != nil {
		return errors.WithMessagef(err, "%s: saving checkpoint", h)
	}
	if closeErr != nil {
		return errors.Wrapf(closeErr, "%s: failed to close %q", h, tmpName)
	}

	fileName := filepath.Join(h.config.dir, fmt.Sprintf("%sn%07d%s", baseNamePrefix, h.count, FileSuffix))
	if err = os.Rename(tmpName, fileName); err != nil {
		return errors.Wrapf(err, "%s: failed to rename %q to %q", h, tmpName, fileName)
	}
	h.count++
	klog.V(1).Infof("%s: saved %q", h, fileName)
	return h.keepNCheckpoints()
}

// List returns the file paths of the checkpoints in the directory, older first.
func (h *Handler) List() ([]string, error) {
	entries, err := os.ReadDir(h.config.dir)
	if err != nil {
		return nil, errors.Wrapf(err, "%s listing checkpoints", h)
	}
	var list []string
	for _, entry := range entries {
		fileName := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(fileName, baseNamePrefix) || !strings.HasSuffix(fileName, FileSuffix) {
			continue
		}
		list = append(list, filepath.Join(h.config.dir, fileName))
	}
	slices.Sort(list)
	return list, nil
}

// LoadLatest restores the most recent checkpoint as a new Instance of m, see Decode.
func (h *Handler) LoadLatest(m *module.Module) (*module.Instance, error) {
	list, err := h.List()
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, errors.Wrapf(ErrNoCheckpoints, "in %q", h.config.dir)
	}
	return LoadFile(list[len(list)-1], m)
}

// LoadFile restores the checkpoint file as a new Instance of m, see Decode.
func LoadFile(filePath string, m *module.Module) (*module.Instance, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open checkpoint %q", filePath)
	}
	defer func() { _ = f.Close() }()
	inst, err := Decode(f, m)
	if err != nil {
		return nil, errors.WithMessagef(err, "loading checkpoint %q", filePath)
	}
	klog.V(1).Infof("loaded checkpoint %q: instance %s", filePath, inst.ID())
	return inst, nil
}

var checkpointCountRegex = regexp.MustCompile(`checkpoint-n(\d+)\.ckpt$`)

// maxCountFromCheckpoints returns the largest counter in the saved checkpoints, or -1 if there
// are none.
func maxCountFromCheckpoints(list []string) int {
	maxCount := -1
	for _, name := range list {
		matches := checkpointCountRegex.FindStringSubmatch(name)
		if len(matches) != 2 {
			continue
		}
		count, err := strconv.Atoi(matches[1])
		if err != nil {
			continue
		}
		maxCount = max(maxCount, count)
	}
	return maxCount
}

// keepNCheckpoints removes the oldest checkpoints beyond the configured number to keep.
func (h *Handler) keepNCheckpoints() error {
	if h.config.keep < 0 {
		return nil
	}
	list, err := h.List()
	if err != nil {
		return err
	}
	if len(list) <= h.config.keep {
		return nil
	}
	for _, fileName := range list[:len(list)-h.config.keep] {
		if err = os.Remove(fileName); err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "%s failed to remove excess checkpoint file %q", h, fileName)
		}
	}
	return nil
}
