package ingest

import (
	"crypto/md5"
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// ExpectedHeader is the fixed column set emitted by the experiment's
// CSVWriter. Session uploads must match it exactly.
var ExpectedHeader = []string{
	"Episode", "Step", "Health", "Reward",
	"XVelocity", "YVelocity", "ZVelocity",
	"XPosition", "YPosition", "ZPosition",
	"ActionForwardWithDescription", "ActionRotateWithDescription",
	"WasAgentFrozen?", "WasNotificationShown?",
	"WasRewardDispensed?", "DispensedRewardType", "CollectedRewardType",
	"WasSpawnerButtonTriggered?", "CombinedSpawnerInfo",
	"DataZoneMessage", "ActiveCamera", "CombinedRaycastData",
}

// ValidateSessionCSV checks a session upload against the CSVWriter contract:
// an exact header match, per-row column counts (the trailing
// "Positive Goals Collected" summary row is exempt), numeric
// Episode/Step/Health/Reward and velocity/position fields, and a row cap.
// It returns the number of data rows.
func ValidateSessionCSV(data string, maxRows int) (int, error) {
	reader := csv.NewReader(strings.NewReader(data))
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return 0, fmt.Errorf("empty CSV file")
	}
	if err != nil {
		return 0, fmt.Errorf("CSV parsing error: %v", err)
	}
	if !equalHeader(header, ExpectedHeader) {
		return 0, fmt.Errorf("header mismatch: expected %d columns, got %d", len(ExpectedHeader), len(header))
	}

	rowCount := 0
	for rowNum := 2; ; rowNum++ {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("CSV parsing error: %v", err)
		}
		rowCount++
		if rowCount > maxRows {
			return 0, fmt.Errorf("too many rows (max %d)", maxRows)
		}

		if len(row) != len(ExpectedHeader) {
			if strings.HasPrefix(row[0], "Positive Goals Collected") {
				// Summary row appended after the episode data.
				continue
			}
			return 0, fmt.Errorf("row %d: expected %d columns, got %d", rowNum, len(ExpectedHeader), len(row))
		}

		if err := validateNumericFields(row); err != nil {
			return 0, fmt.Errorf("row %d: %v", rowNum, err)
		}
	}

	if rowCount == 0 {
		return 0, fmt.Errorf("no data rows found")
	}
	return rowCount, nil
}

// validateNumericFields checks the typed columns: Episode and Step are
// integers, Health and Reward plus the six velocity/position columns are
// floats.
func validateNumericFields(row []string) error {
	if _, err := strconv.Atoi(row[0]); err != nil {
		return fmt.Errorf("invalid numeric values in required fields")
	}
	if _, err := strconv.Atoi(row[1]); err != nil {
		return fmt.Errorf("invalid numeric values in required fields")
	}
	for i := 2; i < 10; i++ {
		if _, err := strconv.ParseFloat(row[i], 64); err != nil {
			return fmt.Errorf("invalid numeric values in required fields")
		}
	}
	return nil
}

func equalHeader(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

// GenerateSessionID derives a 12-character hex session id from the current
// UTC timestamp, matching the ids minted by the browser client when it
// omits one.
func GenerateSessionID(now time.Time) string {
	sum := md5.Sum([]byte(now.UTC().Format("2006-01-02T15:04:05.999999")))
	return hex.EncodeToString(sum[:])[:12]
}
