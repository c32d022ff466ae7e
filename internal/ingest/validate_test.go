package ingest

import (
	"strings"
	"testing"
	"time"
)

func headerLine() string {
	return strings.Join(ExpectedHeader, ",")
}

func dataRow() string {
	row := []string{
		"0", "1", "100", "0.5",
		"0.1", "0.2", "0.3",
		"1.0", "2.0", "3.0",
		"forward", "rotate", "No", "No",
		"No", "None", "None",
		"No", "",
		"", "camera0", "",
	}
	return strings.Join(row, ",")
}

func TestValidateSessionCSV(t *testing.T) {
	data := headerLine() + "\n" + dataRow() + "\n" + dataRow() + "\n"
	n, err := ValidateSessionCSV(data, 100000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Errorf("row count: expected 2, got %d", n)
	}
}

func TestValidateSessionCSVEmpty(t *testing.T) {
	if _, err := ValidateSessionCSV("", 100000); err == nil {
		t.Error("expected error for empty CSV")
	}
}

func TestValidateSessionCSVHeaderMismatch(t *testing.T) {
	data := "Episode,Step\n0,1\n"
	_, err := ValidateSessionCSV(data, 100000)
	if err == nil || !strings.Contains(err.Error(), "header mismatch") {
		t.Errorf("expected header mismatch error, got %v", err)
	}
}

func TestValidateSessionCSVWrongColumnCount(t *testing.T) {
	data := headerLine() + "\n0,1,100\n"
	_, err := ValidateSessionCSV(data, 100000)
	if err == nil || !strings.Contains(err.Error(), "row 2") {
		t.Errorf("expected row 2 column error, got %v", err)
	}
}

func TestValidateSessionCSVSummaryRowAllowed(t *testing.T) {
	data := headerLine() + "\n" + dataRow() + "\nPositive Goals Collected: 3\n"
	n, err := ValidateSessionCSV(data, 100000)
	if err != nil {
		t.Fatalf("summary row should be allowed: %v", err)
	}
	if n != 2 {
		t.Errorf("row count: expected 2 (summary row counted), got %d", n)
	}
}

func TestValidateSessionCSVNonNumeric(t *testing.T) {
	bad := strings.Replace(dataRow(), "100", "full", 1)
	data := headerLine() + "\n" + bad + "\n"
	_, err := ValidateSessionCSV(data, 100000)
	if err == nil || !strings.Contains(err.Error(), "numeric") {
		t.Errorf("expected numeric validation error, got %v", err)
	}
}

func TestValidateSessionCSVRowCap(t *testing.T) {
	var sb strings.Builder
	sb.WriteString(headerLine() + "\n")
	for i := 0; i < 4; i++ {
		sb.WriteString(dataRow() + "\n")
	}
	_, err := ValidateSessionCSV(sb.String(), 3)
	if err == nil || !strings.Contains(err.Error(), "too many rows") {
		t.Errorf("expected row cap error, got %v", err)
	}
}

func TestValidateSessionCSVNoDataRows(t *testing.T) {
	_, err := ValidateSessionCSV(headerLine()+"\n", 100000)
	if err == nil || !strings.Contains(err.Error(), "no data rows") {
		t.Errorf("expected no-data-rows error, got %v", err)
	}
}

func TestGenerateSessionID(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	id := GenerateSessionID(now)
	if len(id) != 12 {
		t.Fatalf("session id length: expected 12, got %d (%q)", len(id), id)
	}
	for _, c := range id {
		if !strings.ContainsRune("0123456789abcdef", c) {
			t.Fatalf("session id not lowercase hex: %q", id)
		}
	}
	if id != GenerateSessionID(now) {
		t.Error("session id not deterministic for a fixed instant")
	}
	if id == GenerateSessionID(now.Add(time.Second)) {
		t.Error("session id did not change with the clock")
	}
}
