package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/starford/notidx/internal/metrics"
	"github.com/starford/notidx/internal/models"
	"github.com/starford/notidx/internal/storage"
)

// Placeholders substituted in OfficeConfig.Args.
const (
	ArgOutDir = "{outdir}"
	ArgInput  = "{input}"
)

// officeExtensions lists the attachment extensions handed to the converter.
var officeExtensions = map[string]struct{}{
	".doc": {}, ".xls": {}, ".ppt": {}, ".docx": {}, ".xlsx": {}, ".pptx": {},
	".pps": {}, ".pdf": {}, ".odt": {}, ".odf": {}, ".ott": {}, ".odm": {},
	".html": {}, ".txt": {}, ".oth": {}, ".ods": {}, ".ots": {}, ".odg": {},
	".otg": {}, ".odp": {}, ".otp": {}, ".odb": {}, ".oxt": {}, ".htm": {},
	".docm": {},
}

// OfficeExtension returns the lower-cased extension of fileName and whether
// the converter accepts it.
func OfficeExtension(fileName string) (string, bool) {
	ext := strings.ToLower(filepath.Ext(fileName))
	_, ok := officeExtensions[ext]
	return ext, ok
}

// OfficeConfig configures the external document converter.
type OfficeConfig struct {
	Enabled bool
	Command string
	// Args may reference ArgOutDir and ArgInput.
	Args []string
	// NotFoundExitCodes are exit codes meaning "the converter is not installed".
	NotFoundExitCodes []int
	Timeout           time.Duration
}

// DefaultOfficeConfig converts with a headless LibreOffice.
func DefaultOfficeConfig() OfficeConfig {
	return OfficeConfig{
		Enabled:           false,
		Command:           "soffice",
		Args:              []string{"--headless", "--convert-to", "txt:Text", "--outdir", ArgOutDir, ArgInput},
		NotFoundExitCodes: []int{255},
		Timeout:           2 * time.Minute,
	}
}

// Capability is the cached availability of the converter.
type Capability int32

const (
	CapabilityUnknown Capability = iota
	CapabilityAvailable
	CapabilityUnavailable
)

func (c Capability) String() string {
	switch c {
	case CapabilityAvailable:
		return "available"
	case CapabilityUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Runner executes name with args and returns its exit code and combined output.
// A non-nil error means the process could not be run or did not exit normally.
type Runner func(ctx context.Context, name string, args ...string) (exitCode int, output []byte, err error)

// ExecRunner runs commands with os/exec.
func ExecRunner(ctx context.Context, name string, args ...string) (int, []byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err == nil {
		return 0, out, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.Exited() {
		return exitErr.ExitCode(), out, nil
	}
	return -1, out, err
}

// Office converts attachments to text with an external tool.
type Office struct {
	cfg      OfficeConfig
	payloads storage.PayloadLocator
	logger   *slog.Logger
	run      Runner
	state    atomic.Int32
}

// OfficeOption configures an Office extractor.
type OfficeOption func(*Office)

// WithRunner replaces the process runner.
func WithRunner(r Runner) OfficeOption {
	return func(o *Office) { o.run = r }
}

// NewOffice returns an office extractor with an unknown capability.
func NewOffice(cfg OfficeConfig, loc storage.PayloadLocator, logger *slog.Logger, opts ...OfficeOption) *Office {
	o := &Office{cfg: cfg, payloads: loc, logger: logger, run: ExecRunner}
	for _, opt := range opts {
		opt(o)
	}
	if !cfg.Enabled {
		o.setCapability(CapabilityUnavailable)
	} else {
		o.setCapability(CapabilityUnknown)
	}
	return o
}

// Capability returns the cached converter availability.
func (o *Office) Capability() Capability {
	return Capability(o.state.Load())
}

// Reset forgets a cached capability so the next extraction probes again.
// It has no effect when the converter is disabled by configuration.
func (o *Office) Reset() {
	if o.cfg.Enabled {
		o.setCapability(CapabilityUnknown)
	}
}

func (o *Office) setCapability(c Capability) {
	o.state.Store(int32(c))
	switch c {
	case CapabilityAvailable:
		metrics.OfficeAvailable.Set(1)
	case CapabilityUnavailable:
		metrics.OfficeAvailable.Set(-1)
	default:
		metrics.OfficeAvailable.Set(0)
	}
}

// Extract converts the resource payload to text.
//
// The conversion runs to completion (bounded by cfg.Timeout) even if ctx is
// cancelled, so a pause never kills an in-flight converter.
func (o *Office) Extract(ctx context.Context, noteLid int64, r models.Resource) (*models.IndexRecord, error) {
	if o.Capability() == CapabilityUnavailable {
		return nil, ErrToolUnavailable
	}
	ext, ok := OfficeExtension(r.FileName)
	if !ok {
		return nil, fmt.Errorf("%w: extension %q", ErrUnsupported, ext)
	}

	input, err := o.locate(r.Lid, ext)
	if err != nil {
		return nil, err
	}

	outDir := o.payloads.ScratchDir()
	outPath := filepath.Join(outDir, strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))+".txt")
	defer os.Remove(outPath)

	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.timeout())
	defer cancel()

	o.logger.Debug("office: converting",
		slog.Int64("resource", r.Lid),
		slog.String("input", input))

	code, output, runErr := o.run(runCtx, o.cfg.Command, o.args(outDir, input)...)
	if errors.Is(runErr, exec.ErrNotFound) || errors.Is(runErr, os.ErrNotExist) || slices.Contains(o.cfg.NotFoundExitCodes, code) {
		o.setCapability(CapabilityUnavailable)
		o.logger.Error("office: converter not found, disabling attachment indexing",
			slog.String("command", o.cfg.Command),
			slog.Int("exit_code", code))
		return nil, ErrToolUnavailable
	}
	if runErr != nil {
		o.logger.Warn("office: converter failed",
			slog.Int64("resource", r.Lid),
			slog.String("error", runErr.Error()))
		return nil, fmt.Errorf("%w: %v", ErrNoOutput, runErr)
	}
	o.logger.Debug("office: converter exited",
		slog.Int("exit_code", code),
		slog.String("output", string(output)))
	o.setCapability(CapabilityAvailable)

	data, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNoOutput, outPath)
	}

	return &models.IndexRecord{
		ItemID:   noteLid,
		SourceID: r.Lid,
		Kind:     models.SourceRecognition,
		Weight:   models.FullWeight,
		Content:  string(data),
	}, nil
}

// locate finds <lid><ext>, falling back to any <lid>.* payload.
func (o *Office) locate(lid int64, ext string) (string, error) {
	path, err := o.payloads.PayloadPath(lid, ext)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	alt, err := o.payloads.FindPayload(lid)
	if err != nil {
		return "", fmt.Errorf("%w: resource %d", ErrPayloadMissing, lid)
	}
	return alt, nil
}

func (o *Office) args(outDir, input string) []string {
	out := make([]string, len(o.cfg.Args))
	for i, a := range o.cfg.Args {
		a = strings.ReplaceAll(a, ArgOutDir, outDir)
		out[i] = strings.ReplaceAll(a, ArgInput, input)
	}
	return out
}

func (o *Office) timeout() time.Duration {
	if o.cfg.Timeout <= 0 {
		return DefaultOfficeConfig().Timeout
	}
	return o.cfg.Timeout
}
