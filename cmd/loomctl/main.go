// loomctl is a small HTTP client for a running loomd. It covers the
// day-to-day operator loop: create and inspect runs, send messages,
// resolve approvals, follow the event stream, export finished runs.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/joho/godotenv"

	"github.com/weftlab/loom/pkg/config"
	"github.com/weftlab/loom/pkg/models"
)

func main() {
	// Pick up LOOM_URL / LOOM_AUTH_TOKEN from the daemon's config directory
	// so a token-protected loomd works without exporting anything.
	configDir := os.Getenv("LOOM_CONFIG_DIR")
	if configDir == "" {
		configDir = "~/.loom"
	}
	_ = godotenv.Load(filepath.Join(config.ExpandHome(configDir), ".env"))

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "runs":
		cmdRuns(os.Args[2:])
	case "nodes":
		cmdNodes(os.Args[2:])
	case "msg":
		cmdMsg(os.Args[2:])
	case "attach":
		cmdAttach(os.Args[2:])
	case "approvals":
		cmdApprovals(os.Args[2:])
	case "approve":
		cmdResolve(os.Args[2:], true)
	case "deny":
		cmdResolve(os.Args[2:], false)
	case "export":
		cmdExport(os.Args[2:])
	case "status":
		cmdStatus(os.Args[2:])
	case "-h", "--help", "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Print(`loomctl - CLI client for loomd

Usage:
  loomctl runs list
  loomctl runs create [--cwd <path>] [--mode <interactive|auto>] [--global-mode <planning|implementation>]
  loomctl runs show <run_id>
  loomctl runs pause|resume|stop <run_id>
  loomctl runs delete <run_id>
  loomctl nodes add <run_id> [--label <text>] [--role <orchestrator|worker>] [--provider <name>]
  loomctl msg <run_id> --text <msg> [--node <node_id>] [--interrupt]
  loomctl attach <run_id>
  loomctl approvals [--run <run_id>]
  loomctl approve <approval_id>
  loomctl deny <approval_id> [--reason <text>]
  loomctl export <run_id> --out <file.zip>
  loomctl status

Environment:
  LOOM_URL         Base URL for loomd (default http://127.0.0.1:8787)
  LOOM_AUTH_TOKEN  Bearer token (optional, must match loomd)
`)
}

func baseURL(flagURL string) string {
	if strings.TrimSpace(flagURL) != "" {
		return strings.TrimRight(flagURL, "/")
	}
	if env := os.Getenv("LOOM_URL"); env != "" {
		return strings.TrimRight(env, "/")
	}
	return "http://127.0.0.1:8787"
}

func authToken() string { return strings.TrimSpace(os.Getenv("LOOM_AUTH_TOKEN")) }

func httpClient() *http.Client {
	return &http.Client{Timeout: 60 * time.Second}
}

func doJSON(method, url string, body any, out any) error {
	var buf io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		buf = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, url, buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if tok := authToken(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := httpClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func cmdRuns(args []string) {
	if len(args) < 1 {
		die(errors.New("runs requires a subcommand (list|create|show|pause|resume|stop|delete)"))
	}
	switch args[0] {
	case "list":
		cmdRunsList(args[1:])
	case "create":
		cmdRunsCreate(args[1:])
	case "show":
		cmdRunsShow(args[1:])
	case "pause":
		cmdRunsStatus(args[1:], models.RunStatusPaused)
	case "resume":
		cmdRunsStatus(args[1:], models.RunStatusRunning)
	case "stop":
		cmdRunsStatus(args[1:], models.RunStatusStopped)
	case "delete":
		cmdRunsDelete(args[1:])
	default:
		die(fmt.Errorf("unknown runs subcommand: %s", args[0]))
	}
}

func cmdRunsList(args []string) {
	fs := flag.NewFlagSet("runs list", flag.ExitOnError)
	url := fs.String("url", "", "loomd base url")
	_ = fs.Parse(args)

	var resp struct {
		Runs []*models.Run `json:"runs"`
	}
	if err := doJSON("GET", baseURL(*url)+"/api/runs", nil, &resp); err != nil {
		die(err)
	}
	for _, r := range resp.Runs {
		fmt.Printf("%s  %-9s  %-12s  %d nodes  %s\n",
			r.ID, r.Status, r.Mode, len(r.Nodes), r.Cwd)
	}
}

func cmdRunsCreate(args []string) {
	fs := flag.NewFlagSet("runs create", flag.ExitOnError)
	cwd := fs.String("cwd", ".", "workspace directory for the run")
	mode := fs.String("mode", "", "orchestration mode (interactive|auto)")
	globalMode := fs.String("global-mode", "", "global mode (planning|implementation)")
	url := fs.String("url", "", "loomd base url")
	_ = fs.Parse(args)

	abs, err := filepath.Abs(*cwd)
	if err != nil {
		die(err)
	}

	var run models.Run
	err = doJSON("POST", baseURL(*url)+"/api/runs", models.CreateRunRequest{
		Mode:       models.RunMode(*mode),
		GlobalMode: models.GlobalMode(*globalMode),
		Cwd:        abs,
	}, &run)
	if err != nil {
		die(err)
	}
	fmt.Println(run.ID)
}

func cmdRunsShow(args []string) {
	fs := flag.NewFlagSet("runs show", flag.ExitOnError)
	url := fs.String("url", "", "loomd base url")
	_ = fs.Parse(args)
	if fs.NArg() < 1 {
		die(errors.New("usage: loomctl runs show <run_id>"))
	}

	var run models.Run
	if err := doJSON("GET", baseURL(*url)+"/api/runs/"+fs.Arg(0), nil, &run); err != nil {
		die(err)
	}

	fmt.Printf("run      %s\n", run.ID)
	fmt.Printf("status   %s (mode %s, global %s)\n", run.Status, run.Mode, run.GlobalMode)
	fmt.Printf("cwd      %s\n", run.Cwd)
	fmt.Printf("usage    %d in / %d out tokens\n", run.Usage.InputTokens, run.Usage.OutputTokens)
	if len(run.Nodes) > 0 {
		fmt.Println("nodes:")
		for _, n := range run.Nodes {
			fmt.Printf("  %s  %-12s  %-9s  %-12s  inbox %d  %s\n",
				n.ID, n.Label, n.Status, n.Connection.State, n.InboxCount, n.Provider)
		}
	}
	if len(run.Edges) > 0 {
		fmt.Println("edges:")
		for _, e := range run.Edges {
			fmt.Printf("  %s  %s -> %s  (%s)\n", e.ID, e.From, e.To, e.Type)
		}
	}
	if len(run.Approvals) > 0 {
		fmt.Println("pending approvals:")
		for id, a := range run.Approvals {
			fmt.Printf("  %s  node %s  %s\n", id, a.NodeID, a.Tool.Name)
		}
	}
}

func cmdRunsStatus(args []string, status models.RunStatus) {
	fs := flag.NewFlagSet("runs status", flag.ExitOnError)
	url := fs.String("url", "", "loomd base url")
	_ = fs.Parse(args)
	if fs.NArg() < 1 {
		die(fmt.Errorf("usage: loomctl runs %s <run_id>", statusVerb(status)))
	}

	err := doJSON("PATCH", baseURL(*url)+"/api/runs/"+fs.Arg(0),
		models.UpdateRunRequest{Status: &status}, nil)
	if err != nil {
		die(err)
	}
	fmt.Println("ok")
}

func statusVerb(status models.RunStatus) string {
	switch status {
	case models.RunStatusPaused:
		return "pause"
	case models.RunStatusStopped:
		return "stop"
	default:
		return "resume"
	}
}

func cmdRunsDelete(args []string) {
	fs := flag.NewFlagSet("runs delete", flag.ExitOnError)
	url := fs.String("url", "", "loomd base url")
	_ = fs.Parse(args)
	if fs.NArg() < 1 {
		die(errors.New("usage: loomctl runs delete <run_id>"))
	}

	if err := doJSON("DELETE", baseURL(*url)+"/api/runs/"+fs.Arg(0), nil, nil); err != nil {
		die(err)
	}
	fmt.Println("ok")
}

func cmdNodes(args []string) {
	if len(args) < 1 || args[0] != "add" {
		die(errors.New("nodes requires a subcommand (add)"))
	}

	fs := flag.NewFlagSet("nodes add", flag.ExitOnError)
	label := fs.String("label", "", "node label")
	role := fs.String("role", "", "node role (orchestrator|worker)")
	provider := fs.String("provider", "", "provider name (defaults to settings)")
	template := fs.String("template", "", "role template name")
	url := fs.String("url", "", "loomd base url")
	_ = fs.Parse(args[1:])
	if fs.NArg() < 1 {
		die(errors.New("usage: loomctl nodes add <run_id> [--label ...]"))
	}

	var node models.Node
	err := doJSON("POST", baseURL(*url)+"/api/runs/"+fs.Arg(0)+"/nodes", models.NodeConfig{
		Label:        *label,
		Role:         models.NodeRole(*role),
		RoleTemplate: *template,
		Provider:     *provider,
	}, &node)
	if err != nil {
		die(err)
	}
	fmt.Println(node.ID)
}

func cmdMsg(args []string) {
	fs := flag.NewFlagSet("msg", flag.ExitOnError)
	text := fs.String("text", "", "message text")
	node := fs.String("node", "", "target node id (defaults to the orchestrator)")
	interrupt := fs.Bool("interrupt", false, "interrupt the node's current turn")
	url := fs.String("url", "", "loomd base url")
	_ = fs.Parse(args)

	if fs.NArg() < 1 || strings.TrimSpace(*text) == "" {
		die(errors.New("usage: loomctl msg <run_id> --text <msg>"))
	}
	runID := fs.Arg(0)

	var msg models.UserMessage
	err := doJSON("POST", baseURL(*url)+"/api/runs/"+runID+"/messages", models.PostMessageRequest{
		NodeID:    *node,
		Content:   *text,
		Interrupt: *interrupt,
	}, &msg)
	if err != nil {
		die(err)
	}
	fmt.Printf("%s -> node %s\n", msg.ID, msg.NodeID)
}

// cmdAttach subscribes to a run's event channel over WebSocket and prints
// events as they arrive. The server replays the run's history first, so
// attaching late still shows the full picture.
func cmdAttach(args []string) {
	fs := flag.NewFlagSet("attach", flag.ExitOnError)
	url := fs.String("url", "", "loomd base url")
	_ = fs.Parse(args)
	if fs.NArg() < 1 {
		die(errors.New("usage: loomctl attach <run_id>"))
	}
	runID := fs.Arg(0)

	ctx := context.Background()
	wsURL := strings.Replace(baseURL(*url), "http", "ws", 1) + "/ws"

	opts := &websocket.DialOptions{}
	if tok := authToken(); tok != "" {
		opts.HTTPHeader = http.Header{"Authorization": {"Bearer " + tok}}
	}
	conn, _, err := websocket.Dial(ctx, wsURL, opts)
	if err != nil {
		die(err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	sub, _ := json.Marshal(map[string]string{
		"action":  "subscribe",
		"channel": "run:" + runID,
	})
	if err := conn.Write(ctx, websocket.MessageText, sub); err != nil {
		die(err)
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		printEvent(data)
	}
}

func printEvent(data []byte) {
	var ev map[string]any
	if err := json.Unmarshal(data, &ev); err != nil {
		fmt.Println(string(data))
		return
	}
	typ, _ := ev["type"].(string)
	ts, _ := ev["ts"].(string)
	if ts == "" {
		ts = "-"
	}
	fmt.Printf("%s  %-26s  %s\n", ts, typ, eventDetail(ev))
}

// eventDetail pulls a one-line summary out of whichever payload field the
// event carries.
func eventDetail(ev map[string]any) string {
	if m, ok := ev["message"].(map[string]any); ok {
		if content, ok := m["content"].(string); ok {
			return truncate(content)
		}
	}
	if env, ok := ev["envelope"].(map[string]any); ok {
		if p, ok := env["payload"].(map[string]any); ok {
			if content, ok := p["message"].(string); ok {
				return truncate(content)
			}
		}
	}
	if text, ok := ev["text"].(string); ok {
		return truncate(text)
	}
	if patch, ok := ev["patch"].(map[string]any); ok {
		b, _ := json.Marshal(patch)
		return truncate(string(b))
	}
	return "-"
}

func truncate(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) > 100 {
		return s[:97] + "..."
	}
	return s
}

func cmdApprovals(args []string) {
	fs := flag.NewFlagSet("approvals", flag.ExitOnError)
	run := fs.String("run", "", "narrow to one run")
	url := fs.String("url", "", "loomd base url")
	_ = fs.Parse(args)

	path := "/api/approvals"
	if *run != "" {
		path += "?runId=" + *run
	}

	var resp struct {
		Approvals []models.Approval `json:"approvals"`
	}
	if err := doJSON("GET", baseURL(*url)+path, nil, &resp); err != nil {
		die(err)
	}
	for _, a := range resp.Approvals {
		fmt.Printf("%s  run %s  node %s  %s\n", a.ID, a.RunID, a.NodeID, a.Tool.Name)
	}
}

func cmdResolve(args []string, approve bool) {
	fs := flag.NewFlagSet("resolve", flag.ExitOnError)
	reason := fs.String("reason", "", "denial reason")
	url := fs.String("url", "", "loomd base url")
	_ = fs.Parse(args)
	if fs.NArg() < 1 {
		verb := "approve"
		if !approve {
			verb = "deny"
		}
		die(fmt.Errorf("usage: loomctl %s <approval_id>", verb))
	}

	res := models.Approved()
	if !approve {
		res = models.Denied(*reason)
	}

	var resp struct {
		Applied bool `json:"applied"`
	}
	err := doJSON("POST", baseURL(*url)+"/api/approvals/"+fs.Arg(0)+"/resolve", res, &resp)
	if err != nil {
		die(err)
	}
	if resp.Applied {
		fmt.Println("ok")
	} else {
		fmt.Println("no-op: approval was not pending")
	}
}

func cmdExport(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	out := fs.String("out", "", "output zip path")
	url := fs.String("url", "", "loomd base url")
	_ = fs.Parse(args)

	if fs.NArg() < 1 || strings.TrimSpace(*out) == "" {
		die(errors.New("usage: loomctl export <run_id> --out <file.zip>"))
	}
	runID := fs.Arg(0)

	req, err := http.NewRequest("GET", baseURL(*url)+"/api/runs/"+runID+"/export", nil)
	if err != nil {
		die(err)
	}
	if tok := authToken(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	resp, err := httpClient().Do(req)
	if err != nil {
		die(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(resp.Body)
		die(fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(b))))
	}

	f, err := os.Create(*out)
	if err != nil {
		die(err)
	}
	defer f.Close()
	if _, err := io.Copy(f, resp.Body); err != nil {
		die(err)
	}
	fmt.Printf("wrote %s\n", *out)
}

func cmdStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	url := fs.String("url", "", "loomd base url")
	_ = fs.Parse(args)

	var health struct {
		Status  string `json:"status"`
		Version string `json:"version"`
	}
	if err := doJSON("GET", baseURL(*url)+"/health", nil, &health); err != nil {
		die(err)
	}

	var dash struct {
		Runs             int          `json:"runs"`
		Nodes            int          `json:"nodes"`
		PendingApprovals int          `json:"pendingApprovals"`
		TotalUsage       models.Usage `json:"totalUsage"`
		UptimeSeconds    int64        `json:"uptimeSeconds"`
	}
	if err := doJSON("GET", baseURL(*url)+"/api/dashboard", nil, &dash); err != nil {
		die(err)
	}

	fmt.Printf("loomd %s (%s), up %s\n", health.Version, health.Status,
		(time.Duration(dash.UptimeSeconds) * time.Second).String())
	fmt.Printf("runs %d, nodes %d, pending approvals %d\n",
		dash.Runs, dash.Nodes, dash.PendingApprovals)
	fmt.Printf("tokens %d in / %d out\n",
		dash.TotalUsage.InputTokens, dash.TotalUsage.OutputTokens)
}

func die(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}
