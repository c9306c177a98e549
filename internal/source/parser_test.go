package source

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/theirongolddev/kpitarget/internal/model"
)

// writeSubmission creates a temp TOML file and returns a DiscoveredFile for it.
func writeSubmission(t *testing.T, dir, name, body string) DiscoveredFile {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	df, err := Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	return df
}

const fullSubmission = `
year = 2025
location = 3
initiator = 77

[[kpi]]
id = 1
name = "Revenue"

[[kpi]]
id = 2
name = "Basket"
kind = "average"

[[link]]
master = 1
sub = 2
weight = 3

[[target]]
kpi = 1
logic = "month"
profile = "Monthly Progressive"
repartition = { jan = 20, "2" = 80 }

  [target.slot1]
  value = 1200
  manual = true

  [target.slot2]
  formula = "a * 0.1 + b"
  inputs = [ { kpi = 2, slot = 1, var = "a" }, { kpi = 2, slot = 2, var = "b" } ]

  [target.params]
  strength = 0.3

  [[target.events]]
  label = "sale"
  start = "2025-03-01"
  end = "2025-03-07"
  multiplier = 1.5

[[target]]
kpi = 2
  [target.slot1]
  value = 40
`

func TestParseFile_Full(t *testing.T) {
	df := writeSubmission(t, t.TempDir(), "full.toml", fullSubmission)
	res := ParseFile(df)
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	sub := res.Submission

	if sub.Year != 2025 || sub.LocationID != 3 || sub.Initiator == nil || *sub.Initiator != 77 {
		t.Fatalf("header = %d/%d/%v", sub.Year, sub.LocationID, sub.Initiator)
	}
	if len(sub.KPIs) != 2 || sub.KPIs[1].Kind != model.Average {
		t.Fatalf("KPIs = %+v", sub.KPIs)
	}
	if len(sub.Links) != 1 || sub.Links[0].Weight != 3 {
		t.Fatalf("Links = %+v", sub.Links)
	}

	t1 := sub.Targets[1]
	if t1.Logic != model.LogicMonth || t1.Profile != model.ProfileMonthlyProgressive {
		t.Fatalf("logic/profile = %s/%s", t1.Logic, t1.Profile)
	}
	if t1.Repartition.Values["January"] != 20 || t1.Repartition.Values["February"] != 80 {
		t.Fatalf("Repartition = %+v", t1.Repartition)
	}
	if !t1.Slots[0].Manual || *t1.Slots[0].Value != 1200 {
		t.Fatalf("slot1 = %+v", t1.Slots[0])
	}
	s2 := t1.Slots[1]
	if !s2.Formula || s2.Manual || len(s2.Inputs) != 2 || s2.Inputs[1].SourceSlot != model.Slot2 {
		t.Fatalf("slot2 = %+v", s2)
	}
	if *t1.Params.Strength != 0.3 || len(t1.Params.Events) != 1 || t1.Params.Events[0].Multiplier != 1.5 {
		t.Fatalf("params = %+v", t1.Params)
	}

	t2 := sub.Targets[2]
	if t2.Logic != model.LogicAnnual || t2.Profile != model.ProfileEven || *t2.Slots[0].Value != 40 {
		t.Fatalf("defaults not applied: %+v", t2)
	}
}

func TestDecode_ValidationProblems(t *testing.T) {
	body := `
year = 2025
location = 1

[[link]]
master = 1
sub = 2
weight = 0

[[target]]
kpi = 5
logic = "fortnight"

[[target]]
kpi = 6
logic = "Quarter"
repartition = { Q9 = 10 }
  [target.slot1]
  formula = "a + c"
  inputs = [ { kpi = 1, slot = 1, var = "a" }, { kpi = 2, slot = 1, var = "a" }, { kpi = 2, slot = 3, var = "b" } ]

[[target]]
kpi = 7
repartition = { Q1 = 10 }
  [[target.events]]
  start = "2025-13-01"
  end = "2025-12-01"

[[target]]
kpi = 8
  [target.slot1]
  formula = "1 +"

[[target]]
kpi = 8
`
	_, err := Decode(strings.NewReader(body), "bad.toml")
	if !errors.Is(err, ErrInvalidSubmission) {
		t.Fatalf("error = %v, want ErrInvalidSubmission", err)
	}
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("error is %T, want *ValidationError", err)
	}
	for _, want := range []string{
		"weight must be positive",
		`unknown repartition logic "fortnight"`,
		"unknown quarter keys Q9",
		`variable "a" bound twice`,
		"has slot 3",
		`variable "c" has no input`,
		"need Month, Quarter or Week logic",
		`bad start date "2025-13-01"`,
		"syntax error",
		"target 8: defined more than once",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err.Error(), want)
		}
	}
}

func TestDecode_UnknownKey(t *testing.T) {
	_, err := Decode(strings.NewReader("year = 2025\nlocaton = 1\n"), "typo.toml")
	if err == nil || !strings.Contains(err.Error(), `unknown key "locaton"`) {
		t.Fatalf("error = %v, want unknown key", err)
	}
}

func TestScanDir(t *testing.T) {
	dir := t.TempDir()
	writeSubmission(t, dir, "b.toml", "year = 2025\n")
	writeSubmission(t, dir, "nested/a.toml", "year = 2025\n")
	writeSubmission(t, dir, "notes.txt", "ignore me")
	writeSubmission(t, dir, ".hidden/c.toml", "year = 2025\n")

	files, err := ScanDir(dir)
	if err != nil {
		t.Fatalf("ScanDir: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("found %d files, want 2: %+v", len(files), files)
	}
	if filepath.Base(files[0].Path) != "b.toml" || filepath.Base(files[1].Path) != "a.toml" {
		t.Fatalf("order = %s, %s", files[0].Path, files[1].Path)
	}
	if files[0].SizeBytes == 0 || files[0].MtimeNs == 0 {
		t.Fatalf("stat not filled: %+v", files[0])
	}

	missing, err := ScanDir(filepath.Join(dir, "nope"))
	if err != nil || missing != nil {
		t.Fatalf("ScanDir(missing) = %v, %v", missing, err)
	}
}
