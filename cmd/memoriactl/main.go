// Command memoriactl is a debug/batch CLI client for a running memoriad
// instance: ingest a message, run a search, or print store stats.
//
// Grounded on the teacher's cmd/embedctl/main.go (flag-parsed subcommand-ish
// CLI issuing one HTTP request against a locally configured base URL).
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"
)

func main() {
	log.SetFlags(0)
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: memoriactl <ingest|search|stats> [flags]")
		os.Exit(1)
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "ingest":
		runIngest(args)
	case "search":
		runSearch(args)
	case "stats":
		runStats(args)
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q\n", cmd)
		os.Exit(1)
	}
}

func baseFlag(fs *flag.FlagSet) *string {
	return fs.String("base", envOr("MEMORIAD_ADDR", "http://localhost:8088"), "memoriad base URL")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func runIngest(args []string) {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	base := baseFlag(fs)
	scene := fs.String("scene", "assistant", "assistant | group_chat")
	groupID := fs.String("group-id", "", "group id")
	sender := fs.String("sender", "", "sender id")
	role := fs.String("role", "user", "user | assistant")
	messageID := fs.String("message-id", "", "message id (required)")
	content := fs.String("text", "", "message content (use -stdin to read from STDIN)")
	stdin := fs.Bool("stdin", false, "read entire STDIN as message content")
	fs.Parse(args)

	body := *content
	if *stdin {
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			log.Fatalf("read stdin: %v", err)
		}
		body = string(b)
	}
	if *messageID == "" || body == "" {
		log.Fatal("-message-id and message content (-text or -stdin) are required")
	}

	payload := map[string]any{
		"scene": *scene,
		"message": map[string]any{
			"message_id":  *messageID,
			"create_time": time.Now().UTC().Format(time.RFC3339Nano),
			"sender":      *sender,
			"role":        *role,
			"content":     body,
			"group_id":    *groupID,
		},
	}
	post(*base+"/v1/ingest", payload)
}

func runSearch(args []string) {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	base := baseFlag(fs)
	query := fs.String("query", "", "search query text (required)")
	scope := fs.String("scope", "all", "all | personal | group")
	userID := fs.String("user-id", "__all__", "user id filter")
	groupID := fs.String("group-id", "__all__", "group id filter")
	method := fs.String("method", "hybrid", "keyword | vector | hybrid | rrf | agentic")
	topK := fs.Int("top-k", 10, "result count")
	fs.Parse(args)

	if *query == "" {
		log.Fatal("-query is required")
	}
	payload := map[string]any{
		"query": *query, "scope": *scope, "user_id": *userID, "group_id": *groupID,
		"retrieve_method": *method, "top_k": *topK,
	}
	post(*base+"/v1/search", payload)
}

func runStats(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	base := baseFlag(fs)
	userID := fs.String("user-id", "", "user id")
	groupID := fs.String("group-id", "", "group id")
	fs.Parse(args)

	url := fmt.Sprintf("%s/v1/stats?user_id=%s&group_id=%s", *base, *userID, *groupID)
	get(url)
}

func post(url string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		log.Fatalf("marshal request: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		log.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	doAndPrint(req)
}

func get(url string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		log.Fatalf("new request: %v", err)
	}
	doAndPrint(req)
}

func doAndPrint(req *http.Request) {
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	var out bytes.Buffer
	if _, err := io.Copy(&out, resp.Body); err != nil {
		log.Fatalf("read response: %v", err)
	}

	var pretty bytes.Buffer
	if json.Indent(&pretty, out.Bytes(), "", "  ") == nil {
		fmt.Println(pretty.String())
	} else {
		fmt.Println(out.String())
	}
	if resp.StatusCode >= 400 {
		os.Exit(1)
	}
}
