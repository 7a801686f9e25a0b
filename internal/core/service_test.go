package core

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/JonMunkholm/prism/internal/config"
	"github.com/JonMunkholm/prism/internal/engine"
)

type fixedEngine struct{ e engine.Engine }

func (f fixedEngine) Current() engine.Engine { return f.e }

func testUploadConfig() *config.UploadConfig {
	return &config.UploadConfig{
		MaxFileSizeMB: 1,
		MaxConcurrent: 2,
		MaxWaitTime:   time.Second,
		SampleSize:    10,
		Timeout:       time.Minute,
	}
}

func csvFile(name, content string) File {
	return File{Name: name, Size: int64(len(content)), Reader: strings.NewReader(content)}
}

func TestService_Upload(t *testing.T) {
	svc := NewService(testUploadConfig(), nil, nil)
	ctx := context.Background()

	if _, err := svc.Current(); !errors.Is(err, ErrNoDataset) {
		t.Fatalf("Current() before upload error = %v, want ErrNoDataset", err)
	}

	ds, err := svc.Upload(ctx, csvFile("people.csv", "name,age\nAlice,25"))
	if err != nil {
		t.Fatalf("Upload error = %v", err)
	}
	if ds.ID == "" || ds.Format != FormatCSV || ds.FileName != "people.csv" {
		t.Errorf("dataset = %+v", ds)
	}
	if ds.Data.Summary.RowCount != 1 {
		t.Errorf("RowCount = %d, want 1", ds.Data.Summary.RowCount)
	}

	cur, err := svc.Current()
	if err != nil || cur.ID != ds.ID {
		t.Fatalf("Current() = %v, %v", cur, err)
	}

	// A failed upload keeps the previous dataset.
	if _, err := svc.Upload(ctx, csvFile("bad.pdf", "x")); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("Upload(.pdf) error = %v", err)
	}
	cur, _ = svc.Current()
	if cur.ID != ds.ID {
		t.Error("failed upload replaced the current dataset")
	}

	// A new upload replaces it wholesale.
	next, err := svc.Upload(ctx, csvFile("more.json", `[{"x":1}]`))
	if err != nil {
		t.Fatal(err)
	}
	if next.ID == ds.ID {
		t.Error("new upload reused the dataset id")
	}
	cur, _ = svc.Current()
	if cur.ID != next.ID {
		t.Error("current dataset not replaced")
	}
	if ds.Data.Summary.RowCount != 1 {
		t.Error("previous dataset was mutated")
	}

	if !svc.Clear() {
		t.Error("Clear() = false, want true")
	}
	if svc.Clear() {
		t.Error("second Clear() = true, want false")
	}
}

func TestService_UploadNoFile(t *testing.T) {
	svc := NewService(testUploadConfig(), nil, nil)
	if _, err := svc.Upload(context.Background(), File{Name: "x.csv"}); !errors.Is(err, ErrNoFile) {
		t.Errorf("error = %v, want ErrNoFile", err)
	}
}

func TestService_UploadBusy(t *testing.T) {
	cfg := testUploadConfig()
	cfg.MaxConcurrent = 1
	cfg.MaxWaitTime = 10 * time.Millisecond
	svc := NewService(cfg, nil, nil)

	release, err := svc.Limiter().Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	_, err = svc.Upload(context.Background(), csvFile("a.csv", "a\n1"))
	if !errors.Is(err, ErrTooManyUploads) {
		t.Errorf("error = %v, want ErrTooManyUploads", err)
	}
}

func TestService_EngineOperations(t *testing.T) {
	ctx := context.Background()
	stub := engine.NewStub(0)
	if err := stub.Initialize(ctx); err != nil {
		t.Fatal(err)
	}

	t.Run("no engine", func(t *testing.T) {
		svc := NewService(testUploadConfig(), fixedEngine{}, nil)
		if _, err := svc.Upload(ctx, csvFile("a.csv", "a\n1")); err != nil {
			t.Fatal(err)
		}
		if _, err := svc.Process(ctx, engine.ProcessOptions{}); !errors.Is(err, ErrEngineNotLoaded) {
			t.Errorf("Process error = %v, want ErrEngineNotLoaded", err)
		}
		if _, err := svc.Query(ctx, "SELECT 1"); !errors.Is(err, ErrEngineNotLoaded) {
			t.Errorf("Query error = %v, want ErrEngineNotLoaded", err)
		}
	})

	t.Run("no dataset", func(t *testing.T) {
		svc := NewService(testUploadConfig(), fixedEngine{stub}, nil)
		if _, err := svc.Process(ctx, engine.ProcessOptions{}); !errors.Is(err, ErrNoDataset) {
			t.Errorf("Process error = %v, want ErrNoDataset", err)
		}
	})

	t.Run("process current dataset", func(t *testing.T) {
		svc := NewService(testUploadConfig(), fixedEngine{stub}, nil)
		if _, err := svc.Upload(ctx, csvFile("a.csv", "name,age\nAlice,25\nBob,30")); err != nil {
			t.Fatal(err)
		}

		res, err := svc.Process(ctx, engine.ProcessOptions{Type: "summary"})
		if err != nil {
			t.Fatal(err)
		}
		want := []map[string]any{
			{"name": "Alice", "age": "25"},
			{"name": "Bob", "age": "30"},
		}
		if diff := cmp.Diff(want, res.ProcessedData); diff != "" {
			t.Errorf("processed data mismatch (-want +got):\n%s", diff)
		}

		q, err := svc.Query(ctx, "SELECT * FROM data")
		if err != nil {
			t.Fatal(err)
		}
		if q.RowCount != 3 {
			t.Errorf("RowCount = %d, want 3", q.RowCount)
		}
	})
}

func TestService_Shutdown(t *testing.T) {
	svc := NewService(testUploadConfig(), nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := svc.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown() = %v", err)
	}
}
