package main

import (
	"fmt"
	"os"
)

var version = "dev"

var (
	gatewayURL string
	bucket     string
	region     string
	accessKey  string
	secretKey  string
)

func init() {
	gatewayURL = envOrDefault("GATEWAY_URL", "http://localhost:8080")
	bucket = envOrDefault("GATEWAY_BUCKET", "")
	region = envOrDefault("GATEWAY_REGION", "eu-west-2")
	accessKey = envOrDefault("GATEWAY_ACCESS_KEY", "")
	secretKey = envOrDefault("GATEWAY_SECRET_KEY", "")
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	// Parse global flags before subcommand
	args := os.Args[1:]
	for len(args) > 0 && len(args[0]) > 0 && args[0][0] == '-' {
		switch args[0] {
		case "--gateway":
			if len(args) < 2 {
				fatal("--gateway requires a value")
			}
			gatewayURL = args[1]
			args = args[2:]
		case "--bucket":
			if len(args) < 2 {
				fatal("--bucket requires a value")
			}
			bucket = args[1]
			args = args[2:]
		case "--region":
			if len(args) < 2 {
				fatal("--region requires a value")
			}
			region = args[1]
			args = args[2:]
		case "--access-key":
			if len(args) < 2 {
				fatal("--access-key requires a value")
			}
			accessKey = args[1]
			args = args[2:]
		case "--secret-key":
			if len(args) < 2 {
				fatal("--secret-key requires a value")
			}
			secretKey = args[1]
			args = args[2:]
		case "--version", "-v":
			fmt.Printf("telemetry-cli %s\n", version)
			os.Exit(0)
		case "--help", "-h":
			printUsage()
			os.Exit(0)
		default:
			fatal("unknown flag: " + args[0])
		}
	}

	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	cmd := args[0]
	rest := args[1:]

	switch cmd {
	case "upload":
		cmdUpload(rest)
	case "row":
		cmdRow(rest)
	case "uploads":
		cmdUploads(rest)
	case "stats":
		cmdStats(rest)
	default:
		fatal("unknown command: " + cmd)
	}
}

func printUsage() {
	fmt.Print(`telemetry-cli - Animal-AI telemetry gateway operator tool

Usage:
  telemetry-cli [global flags] <command> [args]

Commands:
  upload <user-id> <file.csv>   Sign and PUT a session CSV directly to S3
  row <user-id> k=v [k=v ...]   Sign and PUT a single telemetry row to S3
  uploads [limit]               List recent uploads from the gateway journal
  stats                         Show gateway journal and rate-limit stats

Global flags:
  --gateway URL      Gateway base URL (GATEWAY_URL)
  --bucket NAME      S3 bucket for direct uploads (GATEWAY_BUCKET)
  --region NAME      S3 region (GATEWAY_REGION)
  --access-key KEY   AWS access key (GATEWAY_ACCESS_KEY)
  --secret-key KEY   AWS secret key (GATEWAY_SECRET_KEY)
  --version, -v      Print version
  --help, -h         Show this help
`)
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, "error: "+msg)
	os.Exit(1)
}
