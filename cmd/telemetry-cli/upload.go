package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/benaslater/animal-ai-online-experiment/internal/ingest"
	"github.com/benaslater/animal-ai-online-experiment/internal/payload"
	"github.com/benaslater/animal-ai-online-experiment/internal/uploader"
)

func newUploader() *uploader.Uploader {
	up, err := uploader.New(bucket, region, uploader.Credentials{
		AccessKey: accessKey,
		SecretKey: secretKey,
	})
	if err != nil {
		fatal("missing upload configuration: set --bucket/--region/--access-key/--secret-key or the GATEWAY_* environment variables")
	}
	return up
}

// cmdUpload signs and PUTs a whole session CSV, bypassing the gateway.
func cmdUpload(args []string) {
	if len(args) != 2 {
		fatal("usage: upload <user-id> <file.csv>")
	}
	userID, path := args[0], args[1]

	data, err := os.ReadFile(path)
	if err != nil {
		fatal("read " + path + ": " + err.Error())
	}
	rowCount, err := ingest.ValidateSessionCSV(string(data), 100000)
	if err != nil {
		fatal("invalid CSV: " + err.Error())
	}

	sessionID := ingest.GenerateSessionID(time.Now())
	key := payload.SessionObjectKey(userID, sessionID)

	up := newUploader()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	err = up.PutObject(ctx, uploader.Descriptor{
		Key:         key,
		Body:        data,
		ContentType: "text/csv",
		Metadata: map[string]string{
			"session-id": sessionID,
			"row-count":  fmt.Sprint(rowCount),
		},
	})
	if err != nil {
		fatal(err.Error())
	}
	fmt.Printf("uploaded %s (%d rows, %d bytes)\n", key, rowCount, len(data))
}

// cmdRow signs and PUTs a single telemetry row as a two-line CSV.
func cmdRow(args []string) {
	if len(args) < 2 {
		fatal("usage: row <user-id> key=value [key=value ...]")
	}
	userID := args[0]

	var headers, values []string
	for _, pair := range args[1:] {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			fatal("expected key=value, got " + pair)
		}
		headers = append(headers, k)
		values = append(values, v)
	}

	now := time.Now()
	key := payload.RowObjectKey(userID, now)
	body := payload.RowCSV(headers, values)

	up := newUploader()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := up.PutObject(ctx, uploader.Descriptor{
		Key:         key,
		Body:        body,
		ContentType: "text/csv",
	}); err != nil {
		fatal(err.Error())
	}
	fmt.Printf("uploaded %s (%d bytes)\n", key, len(body))
}
