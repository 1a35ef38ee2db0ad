package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"

	"github.com/spf13/pflag"
)

const usageCommands = `commands:
  health                          liveness and readiness
  status                          system overview
  login USER PASSWORD             print a token for --token
  cameras list
  cameras get ID
  cameras add --name N --device D [--id ID] [--capacity C] [--start]
  cameras delete ID
  cameras start ID
  cameras stop ID
  occupancy ID                    latest result
  history ID [--since RFC3339] [--limit N]
  heatmap ID
  recommendations ID`

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "crowdcount-cli: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("crowdcount-cli", pflag.ContinueOnError)
	fs.SetInterspersed(false)
	var (
		urlF     = fs.StringP("url", "u", envOr("CROWDCOUNT_URL", "http://localhost:8080"), "Server URL")
		tokenF   = fs.StringP("token", "t", os.Getenv("CROWDCOUNT_TOKEN"), "Bearer token")
		timeoutF = fs.Int("timeout", 30, "Request timeout in seconds")
		verboseF = fs.BoolP("verbose", "v", false, "Print requests and responses")
	)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: crowdcount-cli [flags] command [args]\n\n%s\n\nflags:\n%s", usageCommands, fs.FlagUsages())
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errors.New("missing command")
	}

	c, err := newClient(*urlF, *tokenF, *timeoutF, *verboseF)
	if err != nil {
		return err
	}
	return dispatch(context.Background(), c, fs.Args(), out)
}

func dispatch(ctx context.Context, c *client, args []string, out io.Writer) error {
	cmd, rest := args[0], args[1:]
	var result any

	switch cmd {
	case "health":
		var health, ready map[string]string
		if err := c.do(ctx, "GET", "/api/v1/health", nil, nil, &health); err != nil {
			return err
		}
		if err := c.do(ctx, "GET", "/api/v1/ready", nil, nil, &ready); err != nil {
			return err
		}
		result = map[string]string{"health": health["status"], "ready": ready["status"]}

	case "status":
		if err := c.do(ctx, "GET", "/api/v1/system/status", nil, nil, &result); err != nil {
			return err
		}

	case "login":
		if len(rest) != 2 {
			return errors.New("usage: login USER PASSWORD")
		}
		var login struct {
			Token string `json:"token"`
		}
		body := map[string]string{"username": rest[0], "password": rest[1]}
		if err := c.do(ctx, "POST", "/api/v1/auth/login", nil, body, &login); err != nil {
			return err
		}
		_, err := fmt.Fprintln(out, login.Token)
		return err

	case "cameras":
		return cameras(ctx, c, rest, out)

	case "occupancy", "heatmap", "recommendations":
		id, err := single(cmd, rest)
		if err != nil {
			return err
		}
		if err := c.do(ctx, "GET", "/api/v1/"+cmd+"/"+url.PathEscape(id), nil, nil, &result); err != nil {
			return err
		}

	case "history":
		sub := pflag.NewFlagSet("history", pflag.ContinueOnError)
		since := sub.String("since", "", "Only samples at or after this RFC 3339 time")
		limit := sub.Int("limit", 0, "Maximum number of samples")
		if err := sub.Parse(rest); err != nil {
			return err
		}
		id, err := single(cmd, sub.Args())
		if err != nil {
			return err
		}
		q := url.Values{}
		if *since != "" {
			q.Set("since", *since)
		}
		if *limit > 0 {
			q.Set("limit", strconv.Itoa(*limit))
		}
		if err := c.do(ctx, "GET", "/api/v1/occupancy/"+url.PathEscape(id)+"/history", q, nil, &result); err != nil {
			return err
		}

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}

	return printJSON(out, result)
}

func cameras(ctx context.Context, c *client, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errors.New("usage: cameras list|get|add|delete|start|stop")
	}
	sub, rest := args[0], args[1:]
	var result any

	switch sub {
	case "list":
		if err := c.do(ctx, "GET", "/api/v1/cameras", nil, nil, &result); err != nil {
			return err
		}

	case "get":
		id, err := single("cameras get", rest)
		if err != nil {
			return err
		}
		if err := c.do(ctx, "GET", "/api/v1/cameras/"+url.PathEscape(id), nil, nil, &result); err != nil {
			return err
		}

	case "add":
		fs := pflag.NewFlagSet("cameras add", pflag.ContinueOnError)
		var body struct {
			ID       string `json:"id,omitempty"`
			Name     string `json:"name"`
			Device   string `json:"device"`
			Capacity int    `json:"capacity,omitempty"`
			Start    bool   `json:"start,omitempty"`
		}
		fs.StringVar(&body.ID, "id", "", "Camera ID, generated when empty")
		fs.StringVar(&body.Name, "name", "", "Display name")
		fs.StringVar(&body.Device, "device", "", "Device path, RTSP or HTTP URL")
		fs.IntVar(&body.Capacity, "capacity", 0, "Maximum comfortable occupancy")
		fs.BoolVar(&body.Start, "start", false, "Start counting right away")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		if err := c.do(ctx, "POST", "/api/v1/cameras", nil, &body, &result); err != nil {
			return err
		}

	case "delete":
		id, err := single("cameras delete", rest)
		if err != nil {
			return err
		}
		if err := c.do(ctx, "DELETE", "/api/v1/cameras/"+url.PathEscape(id), nil, nil, nil); err != nil {
			return err
		}
		_, err = fmt.Fprintf(out, "deleted %s\n", id)
		return err

	case "start", "stop":
		id, err := single("cameras "+sub, rest)
		if err != nil {
			return err
		}
		if err := c.do(ctx, "POST", "/api/v1/cameras/"+url.PathEscape(id)+"/"+sub, nil, nil, &result); err != nil {
			return err
		}

	default:
		return fmt.Errorf("unknown cameras command %q", sub)
	}

	return printJSON(out, result)
}

func single(cmd string, args []string) (string, error) {
	if len(args) != 1 || args[0] == "" {
		return "", fmt.Errorf("usage: %s ID", cmd)
	}
	return args[0], nil
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
