// Command replaytool is an operator CLI over the WAL and its replay loop:
// inspect what's sitting in the WAL and Postgres-write counters, or force a
// single replay cycle without waiting for the background loop's next tick.
// It talks to the same Config/Connect helpers and WAL file cmd/server uses,
// so it must be run against the same DATABASE_URL/WAL_PATH environment.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/llmshotgun/llmshotgun/internal/db"
	"github.com/llmshotgun/llmshotgun/internal/model"
	"github.com/llmshotgun/llmshotgun/internal/persistence"

	"github.com/olekukonko/tablewriter"
	"github.com/shopspring/decimal"
	shared "plandex-shared"
)

func usage() {
	fmt.Fprintln(os.Stderr, "usage: replaytool <status|replay|attempts <request_id>|dlq <list|metrics|resolve|discard>|degradation <list|metrics|recover> ...>")
	fmt.Fprintln(os.Stderr, "  status                       show WAL and database persistence counters")
	fmt.Fprintln(os.Stderr, "  replay                       force a single WAL replay cycle now")
	fmt.Fprintln(os.Stderr, "  attempts <req_id>            show attempt history and estimated cost/usage for a request")
	fmt.Fprintln(os.Stderr, "  dlq list [status]            list dead letter queue items, optionally filtered by status")
	fmt.Fprintln(os.Stderr, "  dlq metrics                  show dead letter queue counters")
	fmt.Fprintln(os.Stderr, "  dlq resolve <id> <reason>    mark a dead letter queue item manually resolved")
	fmt.Fprintln(os.Stderr, "  dlq discard <id> <reason>    discard a dead letter queue item")
	fmt.Fprintln(os.Stderr, "  degradation list             list active degradations and their levels")
	fmt.Fprintln(os.Stderr, "  degradation metrics          show degradation counters")
	fmt.Fprintln(os.Stderr, "  degradation recover [provider]  clear degradation for one provider, or all if omitted")
	fmt.Fprintln(os.Stderr, "  failures [provider]          print documented provider failure examples, for on-call reference")
	fmt.Fprintln(os.Stderr, "  streams                      list in-flight generation streams and how much each has received")
	fmt.Fprintln(os.Stderr, "dlq/degradation subcommands talk to a running server over SERVER_ADDR (default http://localhost:8080)")
}

func serverAddr() string {
	if addr := os.Getenv("SERVER_ADDR"); addr != "" {
		return addr
	}
	return "http://localhost:8080"
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	ctx := context.Background()

	dbCfg := db.LoadConfig()
	sqlDB, err := db.Connect(ctx, dbCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "replaytool: database unavailable, inspecting WAL only: %v\n", err)
	} else {
		defer sqlDB.Close()
	}

	walPath := os.Getenv("WAL_PATH")
	svc, err := persistence.NewService(sqlDB, walPath, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "replaytool: constructing persistence service: %v\n", err)
		os.Exit(1)
	}

	switch flag.Arg(0) {
	case "status":
		printStatus(svc.Status())
	case "replay":
		status := svc.ForceReplay(ctx)
		printReplayStatus(status)
	case "attempts":
		if flag.NArg() != 2 {
			usage()
			os.Exit(2)
		}
		if sqlDB == nil {
			fmt.Fprintln(os.Stderr, "replaytool: attempts requires a database connection")
			os.Exit(1)
		}
		store := db.NewRequestStore(sqlDB)
		attempts, err := store.GetAttempts(ctx, flag.Arg(1))
		if err != nil {
			fmt.Fprintf(os.Stderr, "replaytool: %v\n", err)
			os.Exit(1)
		}
		printAttempts(flag.Arg(1), attempts)
	case "dlq":
		if flag.NArg() < 2 {
			usage()
			os.Exit(2)
		}
		runDLQCommand(flag.Arg(1), flag.Args()[2:])
	case "degradation":
		if flag.NArg() < 2 {
			usage()
			os.Exit(2)
		}
		runDegradationCommand(flag.Arg(1), flag.Args()[2:])
	case "failures":
		provider := ""
		if flag.NArg() == 2 {
			provider = flag.Arg(1)
		}
		printFailureExamples(provider)
	case "streams":
		if err := printStreams(); err != nil {
			fmt.Fprintf(os.Stderr, "replaytool: %v\n", err)
			os.Exit(1)
		}
	default:
		usage()
		os.Exit(2)
	}
}

type streamSessionView struct {
	SessionID        string `json:"sessionId"`
	TokensReceived   int    `json:"tokensReceived"`
	PartialBytes     int    `json:"partialBytes"`
	LastCheckpointAt string `json:"lastCheckpointAt,omitempty"`
}

func printStreams() error {
	resp, err := http.Get(serverAddr() + "/v1/streams")
	if err != nil {
		return fmt.Errorf("reaching server: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	var views []streamSessionView
	if err := json.NewDecoder(resp.Body).Decode(&views); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	if len(views) == 0 {
		fmt.Println("no in-flight streams")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Session", "Tokens", "Bytes", "Last Checkpoint"})
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)
	for _, v := range views {
		table.Append([]string{v.SessionID, fmt.Sprint(v.TokensReceived), fmt.Sprint(v.PartialBytes), v.LastCheckpointAt})
	}
	table.Render()
	return nil
}

// printFailureExamples prints the documented provider failure catalog
// (internal/shared's ProviderFailureExample table), optionally narrowed to
// one provider, as an on-call reference for what a given HTTP code/error
// code from a given provider usually means.
func printFailureExamples(provider string) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Provider", "Type", "HTTP", "Retryable", "Policy (max/initial delay)", "Notes"})
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)

	for _, ex := range shared.GetProviderFailureExamples() {
		if provider != "" && ex.Provider != provider {
			continue
		}
		policy := shared.GetPolicyForFailure(ex.Type)
		if policy == nil {
			policy = shared.GetDefaultPolicy()
		}
		table.Append([]string{
			ex.Provider,
			string(ex.Type),
			fmt.Sprint(ex.HTTPCode),
			fmt.Sprint(ex.Retryable),
			fmt.Sprintf("%s (%d/%s)", policy.Name, policy.MaxAttempts, policy.InitialDelay),
			ex.Notes,
		})
	}
	table.Render()
}

func runDLQCommand(sub string, rest []string) {
	switch sub {
	case "list":
		status := ""
		if len(rest) > 0 {
			status = rest[0]
		}
		items, err := dlqList(status)
		if err != nil {
			fmt.Fprintf(os.Stderr, "replaytool: %v\n", err)
			os.Exit(1)
		}
		printDLQItems(items)
	case "metrics":
		metrics, err := dlqMetrics()
		if err != nil {
			fmt.Fprintf(os.Stderr, "replaytool: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%+v\n", metrics)
	case "resolve":
		if len(rest) != 2 {
			usage()
			os.Exit(2)
		}
		if err := dlqPost("/v1/dlq/resolve", map[string]string{"id": rest[0], "resolution": rest[1], "resolvedBy": "manual"}); err != nil {
			fmt.Fprintf(os.Stderr, "replaytool: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("resolved %s\n", rest[0])
	case "discard":
		if len(rest) != 2 {
			usage()
			os.Exit(2)
		}
		if err := dlqPost("/v1/dlq/discard", map[string]string{"id": rest[0], "reason": rest[1]}); err != nil {
			fmt.Fprintf(os.Stderr, "replaytool: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("discarded %s\n", rest[0])
	default:
		usage()
		os.Exit(2)
	}
}

func dlqList(status string) ([]*model.DeadLetterItem, error) {
	url := serverAddr() + "/v1/dlq"
	if status != "" {
		url += "?status=" + status
	}
	resp, err := http.Get(url)
	if err != nil {
		return nil, fmt.Errorf("reaching server: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server returned %s", resp.Status)
	}
	var items []*model.DeadLetterItem
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return items, nil
}

func dlqMetrics() (model.DLQMetrics, error) {
	var metrics model.DLQMetrics
	resp, err := http.Get(serverAddr() + "/v1/dlq/metrics")
	if err != nil {
		return metrics, fmt.Errorf("reaching server: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return metrics, fmt.Errorf("server returned %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(&metrics); err != nil {
		return metrics, fmt.Errorf("decoding response: %w", err)
	}
	return metrics, nil
}

func dlqPost(path string, body map[string]string) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := http.Post(serverAddr()+path, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("reaching server: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	return nil
}

func runDegradationCommand(sub string, rest []string) {
	switch sub {
	case "list":
		degradations, err := degradationList()
		if err != nil {
			fmt.Fprintf(os.Stderr, "replaytool: %v\n", err)
			os.Exit(1)
		}
		printDegradations(degradations)
	case "metrics":
		metrics, err := degradationMetrics()
		if err != nil {
			fmt.Fprintf(os.Stderr, "replaytool: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%+v\n", metrics)
	case "recover":
		provider := ""
		if len(rest) > 0 {
			provider = rest[0]
		}
		if err := degradationRecover(provider); err != nil {
			fmt.Fprintf(os.Stderr, "replaytool: %v\n", err)
			os.Exit(1)
		}
		if provider == "" {
			fmt.Println("recovered all providers")
		} else {
			fmt.Printf("recovered %s\n", provider)
		}
	default:
		usage()
		os.Exit(2)
	}
}

func degradationList() ([]model.ActiveDegradation, error) {
	resp, err := http.Get(serverAddr() + "/v1/degradation")
	if err != nil {
		return nil, fmt.Errorf("reaching server: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server returned %s", resp.Status)
	}
	var degradations []model.ActiveDegradation
	if err := json.NewDecoder(resp.Body).Decode(&degradations); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return degradations, nil
}

func degradationMetrics() (model.DegradationMetrics, error) {
	var metrics model.DegradationMetrics
	resp, err := http.Get(serverAddr() + "/v1/degradation/metrics")
	if err != nil {
		return metrics, fmt.Errorf("reaching server: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return metrics, fmt.Errorf("server returned %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(&metrics); err != nil {
		return metrics, fmt.Errorf("decoding response: %w", err)
	}
	return metrics, nil
}

func degradationRecover(provider string) error {
	body := map[string]string{}
	if provider != "" {
		body["provider"] = provider
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := http.Post(serverAddr()+"/v1/degradation/recover", "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("reaching server: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	return nil
}

func printDegradations(degradations []model.ActiveDegradation) {
	if len(degradations) == 0 {
		fmt.Println("no active degradations")
		return
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Id", "Level", "Provider", "Reason", "Triggered"})
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)

	for _, d := range degradations {
		provider := d.Provider
		if provider == "" {
			provider = "(global)"
		}
		table.Append([]string{
			d.Id,
			string(d.Level),
			provider,
			d.Reason,
			d.StartedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	table.Render()
}

func printDLQItems(items []*model.DeadLetterItem) {
	if len(items) == 0 {
		fmt.Println("no dead letter queue items")
		return
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Id", "Status", "Provider", "Model", "Failure", "Retries", "Request"})
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)

	for _, item := range items {
		table.Append([]string{
			item.Id,
			string(item.Status),
			item.Provider,
			item.Model,
			string(item.FailureType),
			fmt.Sprint(item.RetryCount),
			item.RequestID,
		})
	}
	table.Render()
}

func printStatus(status persistence.ServiceStatus) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Metric", "Value"})
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)

	table.Append([]string{"total persist calls", fmt.Sprint(status.TotalPersistCalls)})
	table.Append([]string{"successful database writes", fmt.Sprint(status.SuccessfulDatabaseWrites)})
	table.Append([]string{"WAL fallback writes", fmt.Sprint(status.WALFallbackWrites)})
	table.Append([]string{"failed persists", fmt.Sprint(status.FailedPersists)})
	table.Append([]string{"last persist at", status.LastPersistTime.String()})
	table.Append([]string{"WAL path", status.WAL.Path})
	table.Append([]string{"WAL size (bytes)", fmt.Sprint(status.WAL.FileSizeBytes)})
	table.Append([]string{"WAL total writes", fmt.Sprint(status.WAL.TotalWrites)})
	table.Append([]string{"WAL total rotations", fmt.Sprint(status.WAL.TotalRotations)})
	table.Append([]string{"db copy operations", fmt.Sprint(status.Database.TotalCopyOperations)})
	table.Append([]string{"db tokens copied", fmt.Sprint(status.Database.TotalTokensCopied)})
	table.Append([]string{"db copy errors", fmt.Sprint(status.Database.TotalCopyErrors)})
	table.Append([]string{"replay total attempts", fmt.Sprint(status.Replay.TotalAttempts)})
	table.Append([]string{"replay successful cycles", fmt.Sprint(status.Replay.SuccessfulCycles)})
	table.Append([]string{"replay failed cycles", fmt.Sprint(status.Replay.FailedCycles)})
	table.Append([]string{"replay total tokens replayed", fmt.Sprint(status.Replay.TotalReplayed)})
	if status.Replay.LastError != nil {
		table.Append([]string{"replay last error", status.Replay.LastError.Error()})
	}

	table.Render()
}

func printAttempts(requestID string, attempts []shared.Attempt) {
	if len(attempts) == 0 {
		fmt.Printf("no attempts recorded for request %s\n", requestID)
		return
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Seq", "Provider", "Model", "Status", "Tokens (est.)", "Cost (est.)", "Error"})
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)

	var totalCost decimal.Decimal
	for _, a := range attempts {
		table.Append([]string{
			fmt.Sprint(a.AttemptSeq),
			a.Provider,
			a.ModelID,
			string(a.Status),
			fmt.Sprint(a.TokensEstimated),
			a.EstimatedCost.StringFixed(6),
			a.Error,
		})
		totalCost = totalCost.Add(a.EstimatedCost)
	}
	table.Render()
	fmt.Printf("total estimated cost: %s\n", totalCost.StringFixed(6))
}

func printReplayStatus(status persistence.ReplayStatus) {
	fmt.Printf("replay cycle complete: replayed %d tokens so far (attempts=%d successful=%d failed=%d)\n",
		status.TotalReplayed, status.TotalAttempts, status.SuccessfulCycles, status.FailedCycles)
	if status.LastError != nil {
		fmt.Fprintf(os.Stderr, "last error: %v\n", status.LastError)
		os.Exit(1)
	}
}
