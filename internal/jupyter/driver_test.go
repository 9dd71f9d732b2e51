package jupyter

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/itsmeharsh/sandboxd/internal/sandbox"
)

// fakeKernel speaks the one-JSON-object-per-line protocol: it answers every
// cell request with a result line and exits on the shutdown message.
const fakeKernel = `
n=0
while read -r line; do
  case "$line" in *'"shutdown":true'*) exit 0;; esac
  n=$((n+1))
  printf '{"execution_count":%d,"status":"ok","stdout":"cell %d done","stderr":""}\n' "$n" "$n"
done
`

// crashAfterTwo dies abruptly after answering the second cell.
const crashAfterTwo = `
n=0
while read -r line; do
  case "$line" in *'"shutdown":true'*) exit 0;; esac
  n=$((n+1))
  printf '{"execution_count":%d,"status":"ok","stdout":"","stderr":""}\n' "$n"
  if [ "$n" -ge 2 ]; then exit 1; fi
done
`

// hangOnSecond stops responding on the second cell.
const hangOnSecond = `
n=0
while read -r line; do
  case "$line" in *'"shutdown":true'*) exit 0;; esac
  n=$((n+1))
  if [ "$n" -ge 2 ]; then sleep 30; fi
  printf '{"execution_count":%d,"status":"ok","stdout":"","stderr":""}\n' "$n"
done
`

func newTestDriver(t *testing.T, kernel string) *Driver {
	t.Helper()
	logger := zerolog.Nop()
	runner := sandbox.NewRunner(sandbox.NewReaper(sandbox.SystemTable{}, &logger), 1<<20, &logger)
	return NewDriver(runner, kernel, t.TempDir(), &logger)
}

func TestRun_AllCellsInOrder(t *testing.T) {
	d := newTestDriver(t, fakeKernel)
	res, err := d.Run(context.Background(), RunJupyterArgs{
		Cells:        []string{"a=1", "b=2", "a+b"},
		CellTimeout:  5 * time.Second,
		TotalTimeout: 30 * time.Second,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Cells) != 3 {
		t.Fatalf("got %d cell results, want 3", len(res.Cells))
	}
	for i, cell := range res.Cells {
		if cell.Ordinal != i+1 {
			t.Errorf("cell %d ordinal = %d", i, cell.Ordinal)
		}
		if cell.Status != "ok" {
			t.Errorf("cell %d status = %q", i, cell.Status)
		}
	}
	if res.Driver.Status != sandbox.StatusFinished {
		t.Errorf("driver status = %s, want Finished (stderr: %s)", res.Driver.Status, res.Driver.Stderr)
	}
	if res.Driver.ReturnCode == nil || *res.Driver.ReturnCode != 0 {
		t.Errorf("driver return code = %v, want 0", res.Driver.ReturnCode)
	}
}

func TestRun_TruncatesWhenKernelDies(t *testing.T) {
	d := newTestDriver(t, crashAfterTwo)
	res, err := d.Run(context.Background(), RunJupyterArgs{
		Cells:        []string{"1", "2", "3", "4", "5"},
		CellTimeout:  5 * time.Second,
		TotalTimeout: 30 * time.Second,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Cells) != 2 {
		t.Fatalf("got %d cell results, want exactly 2", len(res.Cells))
	}
	if res.Driver.Status != sandbox.StatusError {
		t.Errorf("driver status = %s, want Error after mid-sequence crash", res.Driver.Status)
	}
}

func TestRun_CellTimeout(t *testing.T) {
	d := newTestDriver(t, hangOnSecond)
	res, err := d.Run(context.Background(), RunJupyterArgs{
		Cells:        []string{"fast", "stuck", "never"},
		CellTimeout:  300 * time.Millisecond,
		TotalTimeout: 30 * time.Second,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Cells) != 1 {
		t.Fatalf("got %d cell results, want 1", len(res.Cells))
	}
	if res.Driver.Status != sandbox.StatusTimeLimitExceeded {
		t.Errorf("driver status = %s, want TimeLimitExceeded", res.Driver.Status)
	}
}

func TestRun_OverallTimeout(t *testing.T) {
	d := newTestDriver(t, hangOnSecond)
	start := time.Now()
	res, err := d.Run(context.Background(), RunJupyterArgs{
		Cells:        []string{"fast", "stuck"},
		CellTimeout:  time.Minute,
		TotalTimeout: 500 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Driver.Status != sandbox.StatusTimeLimitExceeded {
		t.Errorf("driver status = %s, want TimeLimitExceeded", res.Driver.Status)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("session took %s, want prompt abort after the overall deadline", elapsed)
	}
}

func TestRun_KernelNeverStarts(t *testing.T) {
	d := newTestDriver(t, "exit 7")
	res, err := d.Run(context.Background(), RunJupyterArgs{
		Cells:        []string{"a"},
		CellTimeout:  5 * time.Second,
		TotalTimeout: 30 * time.Second,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Cells) != 0 {
		t.Errorf("got %d cell results, want 0", len(res.Cells))
	}
	if res.Driver.Status != sandbox.StatusError {
		t.Errorf("driver status = %s, want Error", res.Driver.Status)
	}
}

func TestRun_WorkspaceFilesFlow(t *testing.T) {
	// The kernel copies the materialized input to an output file before
	// answering, exercising files-in and fetch-files-out.
	kernel := `
while read -r line; do
  case "$line" in *'"shutdown":true'*) exit 0;; esac
  cp input.txt result.txt
  printf '{"execution_count":1,"status":"ok","stdout":"","stderr":""}\n'
done
`
	d := newTestDriver(t, kernel)
	payload := base64.StdEncoding.EncodeToString([]byte("notebook data"))
	res, err := d.Run(context.Background(), RunJupyterArgs{
		Cells:        []string{"copy"},
		Files:        map[string]*string{"input.txt": &payload},
		FetchFiles:   []string{"result.txt"},
		CellTimeout:  5 * time.Second,
		TotalTimeout: 30 * time.Second,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, ok := res.Files["result.txt"]
	if !ok {
		t.Fatal("result.txt not fetched")
	}
	decoded, _ := base64.StdEncoding.DecodeString(got)
	if string(decoded) != "notebook data" {
		t.Errorf("result.txt = %q", decoded)
	}
}
