// Command dispatch is a CLI client for the dispatchd JSON API.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/alecthomas/kingpin/v2"
)

var (
	app    = kingpin.New("dispatch", "Microtask dispatch client")
	addr   = app.Flag("addr", "Daemon base URL").Default("http://localhost:3200").Envar("DISPATCH_ADDR").String()
	apiKey = app.Flag("api-key", "API key").Envar("DISPATCH_API_KEY").Required().String()

	// Delegator commands
	createCmd       = app.Command("create", "Create a new task")
	createDelegator = createCmd.Flag("delegator", "Delegator ID").Required().String()
	createType      = createCmd.Flag("type", "Task type").Required().String()
	createPriority  = createCmd.Flag("priority", "Priority (lower is more urgent)").Default("10").Int()
	createDesc      = createCmd.Arg("description", "Task description").Required().String()
	createCode      = createCmd.Flag("code", "Existing code to work on").String()
	createParams    = createCmd.Flag("class-params", "Owning class parameters").String()
	createRounds    = createCmd.Flag("max-modifications", "Rework round budget").Int()
	createActivate  = createCmd.Flag("activate", "Activate immediately").Bool()

	listCmd       = app.Command("list", "List tasks")
	listDelegator = listCmd.Flag("delegator", "Filter by delegator ID").String()
	listStatus    = listCmd.Flag("status", "Filter by status").String()
	listLimit     = listCmd.Flag("limit", "Page size").Default("50").Int()
	listOffset    = listCmd.Flag("offset", "Page offset").Default("0").Int()

	showCmd = app.Command("show", "Show task details")
	showID  = showCmd.Arg("id", "Task ID").Required().String()

	workCmd = app.Command("work", "List a task's work items")
	workID  = workCmd.Arg("id", "Task ID").Required().String()

	activateCmd = app.Command("activate", "Submit and start a task")
	activateID  = activateCmd.Arg("id", "Task ID").Required().String()

	acceptCmd = app.Command("accept", "Accept a solved task")
	acceptID  = acceptCmd.Arg("id", "Task ID").Required().String()

	modifyCmd = app.Command("modify", "Request modifications on a solved task")
	modifyID  = modifyCmd.Arg("id", "Task ID").Required().String()

	cancelCmd = app.Command("cancel", "Cancel a task")
	cancelID  = cancelCmd.Arg("id", "Task ID").Required().String()

	pauseCmd = app.Command("pause", "Pause a task")
	pauseID  = pauseCmd.Arg("id", "Task ID").Required().String()

	resumeCmd = app.Command("resume", "Resume a paused task")
	resumeID  = resumeCmd.Arg("id", "Task ID").Required().String()

	// Worker commands
	claimCmd    = app.Command("claim", "Claim the best available work item")
	claimWorker = claimCmd.Flag("worker", "Worker ID").Required().String()

	reportCmd     = app.Command("report", "Report an outcome for a claimed work item")
	reportWork    = reportCmd.Arg("work-id", "Work ID").Required().Int64()
	reportWorker  = reportCmd.Flag("worker", "Worker ID").Required().String()
	reportOutcome = reportCmd.Flag("outcome", "Outcome (SOLVED, FEEDBACK, ...)").Required().String()
	reportResult  = reportCmd.Flag("result", "Result payload").String()

	releaseCmd    = app.Command("release", "Release a claimed work item")
	releaseWork   = releaseCmd.Arg("work-id", "Work ID").Required().Int64()
	releaseWorker = releaseCmd.Flag("worker", "Worker ID").Required().String()

	// Admin commands
	priorityCmd   = app.Command("priority", "Override a work item's priority")
	priorityWork  = priorityCmd.Arg("work-id", "Work ID").Required().Int64()
	priorityValue = priorityCmd.Arg("priority", "New priority").Required().Int()
)

type client struct {
	base   string
	apiKey string
	http   *http.Client
}

func (c *client) do(method, path string, body any) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.base+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-API-Key", c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("%s (%d)", apiErr.Message, resp.StatusCode)
		}
		return nil, fmt.Errorf("request failed with status %d", resp.StatusCode)
	}
	return data, nil
}

func (c *client) post(path string, body any) (json.RawMessage, error) {
	return c.do(http.MethodPost, path, body)
}

func (c *client) get(path string) (json.RawMessage, error) {
	return c.do(http.MethodGet, path, nil)
}

func printJSON(data json.RawMessage) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		fmt.Println(string(data))
		return
	}
	fmt.Println(buf.String())
}

func main() {
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	c := &client{
		base:   *addr,
		apiKey: *apiKey,
		http:   &http.Client{Timeout: 30 * time.Second},
	}

	var (
		data json.RawMessage
		err  error
	)
	switch command {
	case createCmd.FullCommand():
		body := map[string]any{
			"delegator_id": *createDelegator,
			"type":         *createType,
			"priority":     *createPriority,
			"description":  *createDesc,
			"code":         *createCode,
			"class_params": *createParams,
			"activate":     *createActivate,
		}
		if *createRounds > 0 {
			body["max_modifications"] = *createRounds
		}
		data, err = c.post("/api/tasks", body)
	case listCmd.FullCommand():
		data, err = c.get(fmt.Sprintf("/api/tasks?delegator_id=%s&status=%s&limit=%d&offset=%d",
			*listDelegator, *listStatus, *listLimit, *listOffset))
	case showCmd.FullCommand():
		data, err = c.get("/api/tasks/" + *showID)
	case workCmd.FullCommand():
		data, err = c.get("/api/tasks/" + *workID + "/work")
	case activateCmd.FullCommand():
		data, err = c.post("/api/tasks/"+*activateID+"/activate", nil)
	case acceptCmd.FullCommand():
		data, err = c.post("/api/tasks/"+*acceptID+"/accept", nil)
	case modifyCmd.FullCommand():
		data, err = c.post("/api/tasks/"+*modifyID+"/modifications", nil)
	case cancelCmd.FullCommand():
		data, err = c.post("/api/tasks/"+*cancelID+"/cancel", nil)
	case pauseCmd.FullCommand():
		data, err = c.post("/api/tasks/"+*pauseID+"/pause", nil)
	case resumeCmd.FullCommand():
		data, err = c.post("/api/tasks/"+*resumeID+"/resume", nil)
	case claimCmd.FullCommand():
		data, err = c.post("/api/work/claim", map[string]any{"worker_id": *claimWorker})
	case reportCmd.FullCommand():
		data, err = c.post(fmt.Sprintf("/api/work/%d/outcome", *reportWork), map[string]any{
			"worker_id": *reportWorker,
			"outcome":   *reportOutcome,
			"result":    *reportResult,
		})
	case releaseCmd.FullCommand():
		data, err = c.post(fmt.Sprintf("/api/work/%d/release", *releaseWork), map[string]any{
			"worker_id": *releaseWorker,
		})
	case priorityCmd.FullCommand():
		data, err = c.post(fmt.Sprintf("/api/work/%d/priority", *priorityWork), map[string]any{
			"priority": *priorityValue,
		})
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	printJSON(data)
}
