package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/benaslater/animal-ai-online-experiment/internal/journal"
)

func gatewayGet(path string, v any) {
	resp, err := http.Get(gatewayURL + path)
	if err != nil {
		fatal("reach gateway: " + err.Error())
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		fatal(fmt.Sprintf("gateway returned %d: %s", resp.StatusCode, body))
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		fatal("decode gateway response: " + err.Error())
	}
}

// cmdUploads lists recent journaled uploads.
func cmdUploads(args []string) {
	limit := 50
	if len(args) > 0 {
		v, err := strconv.Atoi(args[0])
		if err != nil || v <= 0 {
			fatal("usage: uploads [limit]")
		}
		limit = v
	}

	var out struct {
		Uploads []journal.Record `json:"uploads"`
	}
	gatewayGet(fmt.Sprintf("/v1/uploads?limit=%d", limit), &out)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tSTATUS\tUSER\tSESSION\tKEY\tSIZE")
	for _, rec := range out.Uploads {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\n",
			rec.Time.Format(time.RFC3339), rec.Status, rec.User, rec.Session, rec.ObjectKey, rec.Size)
	}
	w.Flush()
}

// cmdStats prints gateway journal and rate-limit stats.
func cmdStats(args []string) {
	if len(args) != 0 {
		fatal("usage: stats")
	}

	var out map[string]any
	gatewayGet("/v1/stats", &out)

	raw, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		fatal(err.Error())
	}
	fmt.Println(string(raw))
}
