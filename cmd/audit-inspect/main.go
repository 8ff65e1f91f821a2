// Command audit-inspect prints the latest audited messages of a Badger audit store.
package main

import (
	"chat-relay/domain"
	"chat-relay/infrastructure/storage"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gookit/color"
	"github.com/mama165/sdk-go/logs"
	"github.com/olekukonko/tablewriter"
)

func main() {
	cfg, err := LoadConfig()
	if err != nil {
		log.Fatal("Invalid configuration: ", err)
	}

	dbPath := flag.String("db", cfg.BadgerFilepath, "Path to the audit badger DB")
	room := flag.String("room", "", "Only this room")
	sender := flag.String("sender", "", "Only this sender")
	flaggedOnly := flag.Bool("flagged", false, "Only flagged messages")
	query := flag.String("q", "", "Words the content must contain")
	limit := flag.Int("limit", cfg.Limit, "Maximum rows, newest first")
	flag.Parse()

	db, err := badger.Open(badger.DefaultOptions(*dbPath).WithReadOnly(true).WithLogger(nil))
	if err != nil {
		log.Fatal("Error while opening Badger: ", err)
	}
	defer db.Close()

	filter := domain.Filter{RoomID: domain.RoomID(*room), SenderID: *sender, Query: *query}
	if *flaggedOnly {
		flagged := true
		filter.Flagged = &flagged
	}

	repository := storage.NewAuditRepository(db, logs.GetLoggerFromLevel(slog.LevelError))
	records, err := repository.List(context.Background(), filter, domain.Page{Limit: *limit})
	if err != nil {
		log.Fatal("Error while reading audit log: ", err)
	}

	color.Enable = cfg.Colours
	render(os.Stdout, records, cfg.ContentWidth)
	fmt.Printf("\n%d message(s)\n", len(records))
}

func render(w io.Writer, records []domain.MessageRecord, contentWidth int) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Created", "Room", "Sender", "Severity", "Terms", "Content"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	for _, r := range records {
		row := []string{
			r.CreatedAt.UTC().Format(time.RFC3339),
			string(r.RoomID),
			r.Sender.UserID,
			r.Classification.Severity.String(),
			strings.Join(r.Classification.MatchedTerms, ","),
			truncate(r.Content, contentWidth),
		}
		if r.Classification.Flagged {
			style := color.Yellow
			if r.Classification.Severity == domain.SeverityHigh {
				style = color.Red
			}
			for i := range row {
				row[i] = style.Render(row[i])
			}
		}
		table.Append(row)
	}
	table.Render()
}

func truncate(s string, width int) string {
	runes := []rune(s)
	if width <= 0 || len(runes) <= width {
		return s
	}
	return string(runes[:width]) + "…"
}
