package extract

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/starford/notidx/internal/models"
	"github.com/starford/notidx/internal/storage"
)

func testFS(t *testing.T) *storage.FS {
	t.Helper()
	dir := t.TempDir()
	fs, err := storage.NewFS(filepath.Join(dir, "payload"), filepath.Join(dir, "scratch"))
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return fs
}

func testOfficeConfig() OfficeConfig {
	cfg := DefaultOfficeConfig()
	cfg.Enabled = true
	cfg.Command = "fake-office"
	cfg.Args = []string{ArgOutDir, ArgInput}
	return cfg
}

// convertingRunner writes text to <outdir>/<input base>.txt and records calls.
func convertingRunner(text string, calls *int) Runner {
	return func(_ context.Context, _ string, args ...string) (int, []byte, error) {
		*calls++
		outDir, input := args[0], args[1]
		base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
		if err := os.WriteFile(filepath.Join(outDir, base+".txt"), []byte(text), 0o644); err != nil {
			return -1, nil, err
		}
		return 0, nil, nil
	}
}

func exitRunner(code int, calls *int) Runner {
	return func(context.Context, string, ...string) (int, []byte, error) {
		*calls++
		return code, nil, nil
	}
}

func TestOfficeExtension(t *testing.T) {
	tests := []struct {
		name string
		ext  string
		ok   bool
	}{
		{"report.DOCX", ".docx", true},
		{"sheet.ods", ".ods", true},
		{"archive.tar.gz", ".gz", false},
		{"noext", "", false},
		{"photo.png", ".png", false},
	}
	for _, tc := range tests {
		ext, ok := OfficeExtension(tc.name)
		if ext != tc.ext || ok != tc.ok {
			t.Errorf("OfficeExtension(%q) = %q, %v; want %q, %v", tc.name, ext, ok, tc.ext, tc.ok)
		}
	}
}

func TestOffice_Converts(t *testing.T) {
	fs := testFS(t)
	if _, err := fs.WritePayload(7, ".docx", []byte("binary")); err != nil {
		t.Fatal(err)
	}
	calls := 0
	o := NewOffice(testOfficeConfig(), fs, slog.Default(), WithRunner(convertingRunner("quarterly report", &calls)))

	rec, err := o.Extract(context.Background(), 3, models.Resource{Lid: 7, FileName: "Report.docx"})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	want := models.IndexRecord{ItemID: 3, SourceID: 7, Kind: models.SourceRecognition, Weight: 100, Content: "quarterly report"}
	if *rec != want {
		t.Errorf("record = %+v, want %+v", *rec, want)
	}
	if o.Capability() != CapabilityAvailable {
		t.Errorf("capability = %s, want available", o.Capability())
	}

	entries, err := os.ReadDir(fs.ScratchDir())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("scratch dir not cleaned: %d entries", len(entries))
	}
}

func TestOffice_FallsBackToAnyPayload(t *testing.T) {
	fs := testFS(t)
	if _, err := fs.WritePayload(8, ".bin", []byte("binary")); err != nil {
		t.Fatal(err)
	}
	calls := 0
	o := NewOffice(testOfficeConfig(), fs, slog.Default(), WithRunner(convertingRunner("text", &calls)))

	rec, err := o.Extract(context.Background(), 1, models.Resource{Lid: 8, FileName: "a.doc"})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if rec.Content != "text" {
		t.Errorf("content = %q", rec.Content)
	}
}

func TestOffice_NotFoundDisablesConverter(t *testing.T) {
	fs := testFS(t)
	if _, err := fs.WritePayload(9, ".xls", []byte("binary")); err != nil {
		t.Fatal(err)
	}
	calls := 0
	o := NewOffice(testOfficeConfig(), fs, slog.Default(), WithRunner(exitRunner(255, &calls)))
	r := models.Resource{Lid: 9, FileName: "book.xls"}

	if _, err := o.Extract(context.Background(), 1, r); !errors.Is(err, ErrToolUnavailable) {
		t.Fatalf("err = %v, want ErrToolUnavailable", err)
	}
	if o.Capability() != CapabilityUnavailable {
		t.Fatalf("capability = %s, want unavailable", o.Capability())
	}

	// Cached: no further invocation.
	if _, err := o.Extract(context.Background(), 1, r); !errors.Is(err, ErrToolUnavailable) {
		t.Fatalf("err = %v, want ErrToolUnavailable", err)
	}
	if calls != 1 {
		t.Errorf("runner calls = %d, want 1", calls)
	}

	o.Reset()
	if o.Capability() != CapabilityUnknown {
		t.Errorf("capability after reset = %s, want unknown", o.Capability())
	}
	_, _ = o.Extract(context.Background(), 1, r)
	if calls != 2 {
		t.Errorf("runner calls after reset = %d, want 2", calls)
	}
}

func TestOffice_MissingBinary(t *testing.T) {
	fs := testFS(t)
	if _, err := fs.WritePayload(4, ".odt", []byte("binary")); err != nil {
		t.Fatal(err)
	}
	cfg := testOfficeConfig()
	cfg.Command = filepath.Join(t.TempDir(), "no-such-converter")
	o := NewOffice(cfg, fs, slog.Default())

	_, err := o.Extract(context.Background(), 1, models.Resource{Lid: 4, FileName: "x.odt"})
	if !errors.Is(err, ErrToolUnavailable) {
		t.Fatalf("err = %v, want ErrToolUnavailable", err)
	}
	if o.Capability() != CapabilityUnavailable {
		t.Errorf("capability = %s, want unavailable", o.Capability())
	}
}

func TestOffice_NoOutputIsTransient(t *testing.T) {
	fs := testFS(t)
	if _, err := fs.WritePayload(5, ".ppt", []byte("binary")); err != nil {
		t.Fatal(err)
	}
	calls := 0
	o := NewOffice(testOfficeConfig(), fs, slog.Default(), WithRunner(exitRunner(1, &calls)))

	_, err := o.Extract(context.Background(), 1, models.Resource{Lid: 5, FileName: "deck.ppt"})
	if !errors.Is(err, ErrNoOutput) || !Transient(err) {
		t.Errorf("err = %v, want transient ErrNoOutput", err)
	}
	if o.Capability() != CapabilityAvailable {
		t.Errorf("capability = %s, want available", o.Capability())
	}
}

func TestOffice_Skips(t *testing.T) {
	fs := testFS(t)
	calls := 0

	t.Run("unsupported extension", func(t *testing.T) {
		o := NewOffice(testOfficeConfig(), fs, slog.Default(), WithRunner(exitRunner(0, &calls)))
		_, err := o.Extract(context.Background(), 1, models.Resource{Lid: 1, FileName: "song.mp3"})
		if !errors.Is(err, ErrUnsupported) || Transient(err) {
			t.Errorf("err = %v, want settled ErrUnsupported", err)
		}
	})

	t.Run("missing payload", func(t *testing.T) {
		o := NewOffice(testOfficeConfig(), fs, slog.Default(), WithRunner(exitRunner(0, &calls)))
		_, err := o.Extract(context.Background(), 1, models.Resource{Lid: 99, FileName: "gone.doc"})
		if !errors.Is(err, ErrPayloadMissing) {
			t.Errorf("err = %v, want ErrPayloadMissing", err)
		}
	})

	t.Run("disabled", func(t *testing.T) {
		cfg := testOfficeConfig()
		cfg.Enabled = false
		o := NewOffice(cfg, fs, slog.Default(), WithRunner(exitRunner(0, &calls)))
		_, err := o.Extract(context.Background(), 1, models.Resource{Lid: 1, FileName: "a.doc"})
		if !errors.Is(err, ErrToolUnavailable) {
			t.Errorf("err = %v, want ErrToolUnavailable", err)
		}
		o.Reset()
		if o.Capability() != CapabilityUnavailable {
			t.Errorf("reset must not enable a disabled converter")
		}
	})

	if calls != 0 {
		t.Errorf("runner invoked %d times", calls)
	}
}
