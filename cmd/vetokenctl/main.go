package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"nhooyr.io/websocket"
)

var rpcEndpoint = defaultRPCEndpoint() // Defaults to localhost, can be overridden via VETOKEN_RPC_URL or --rpc flag

func main() {
	args := os.Args[1:]
	var err error
	args, err = applyGlobalFlags(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if len(args) < 1 {
		printUsage()
		return
	}

	command := args[0]
	switch command {
	case "status":
		fetch("/status")
	case "epoch":
		fetch("/epochs/current")
	case "account":
		if len(args) < 2 {
			fmt.Println("Error: Please provide an address.")
			printUsage()
			return
		}
		fetch("/accounts/" + url.PathEscape(args[1]))
	case "receivers":
		fetch("/receivers")
	case "receiver":
		if len(args) < 2 {
			fmt.Println("Error: Please provide a receiver id.")
			printUsage()
			return
		}
		fetch("/receivers/" + url.PathEscape(args[1]))
	case "watch":
		cursor := ""
		if len(args) > 1 {
			cursor = args[1]
		}
		if err := watchEvents(cursor); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
	}
}

func defaultRPCEndpoint() string {
	if v := strings.TrimSpace(os.Getenv("VETOKEN_RPC_URL")); v != "" {
		return v
	}
	return "http://localhost:8080"
}

func applyGlobalFlags(args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--rpc" {
			if i+1 >= len(args) {
				return nil, fmt.Errorf("missing value for --rpc")
			}
			rpcEndpoint = strings.TrimRight(args[i+1], "/")
			i++
			continue
		}
		out = append(out, arg)
	}
	return out, nil
}

func fetch(path string) {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(rpcEndpoint + path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: request failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: reading response: %v\n", err)
		os.Exit(1)
	}
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Error: %s: %s\n", resp.Status, strings.TrimSpace(string(body)))
		os.Exit(1)
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, body, "", "  "); err != nil {
		fmt.Println(strings.TrimSpace(string(body)))
		return
	}
	fmt.Println(pretty.String())
}

// watchEvents tails the node's event stream, printing one JSON event per
// line until interrupted. A cursor resumes after a previously seen sequence.
func watchEvents(cursor string) error {
	target := "ws" + strings.TrimPrefix(rpcEndpoint, "http") + "/ws/events"
	if cursor != "" {
		target += "?cursor=" + url.QueryEscape(cursor)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, target, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", target, err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "watch finished")

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("stream closed: %w", err)
		}
		fmt.Println(strings.TrimSpace(string(data)))
	}
}

func printUsage() {
	fmt.Println("Usage: vetokenctl [--rpc <url>] <command> [arguments]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  status               - Protocol summary: epoch, weights, supply, unallocated")
	fmt.Println("  epoch                - Current epoch window")
	fmt.Println("  account <address>    - Balances, weight, active locks and votes of an account")
	fmt.Println("  receivers            - All registered emission receivers")
	fmt.Println("  receiver <id>        - One receiver: weight, vote share, claimable")
	fmt.Println("  watch [cursor]       - Tail the protocol event stream (optionally from a cursor)")
}
