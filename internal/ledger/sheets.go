// Package ledger appends audit rows to the Google Sheets audit log.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/option"
	sheets "google.golang.org/api/sheets/v4"
)

// timestampLayout formats message creation times for the audit row.
const timestampLayout = "2006-01-02 15:04:05"

// valueInputUserEntered makes the spreadsheet interpret appended cells as if
// a user typed them, so formulas and formatting rules apply.
const valueInputUserEntered = "USER_ENTERED"

// Row builds the fixed 4-column audit record: author, attachment URL,
// verdict, and the message creation time.
func Row(author, url, verdict string, createdAt time.Time) []any {
	return []any{author, url, verdict, createdAt.Format(timestampLayout)}
}

// Appender appends rows to one named range of one spreadsheet.
type Appender struct {
	logger        *slog.Logger
	service       *sheets.Service
	spreadsheetID string
	writeRange    string
}

// NewAppender builds a Sheets client from the token source. Extra client
// options are appended, which lets tests point the service at a stub
// endpoint.
func NewAppender(ctx context.Context, log *slog.Logger, ts oauth2.TokenSource, spreadsheetID, writeRange string, opts ...option.ClientOption) (*Appender, error) {
	if log == nil {
		log = slog.Default()
	}
	if strings.TrimSpace(spreadsheetID) == "" {
		return nil, fmt.Errorf("spreadsheet id is required")
	}
	if strings.TrimSpace(writeRange) == "" {
		return nil, fmt.Errorf("write range is required")
	}

	clientOpts := make([]option.ClientOption, 0, len(opts)+1)
	if ts != nil {
		clientOpts = append(clientOpts, option.WithTokenSource(ts))
	}
	clientOpts = append(clientOpts, opts...)
	service, err := sheets.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}

	return &Appender{
		logger:        log.With(slog.String("component", "ledger")),
		service:       service,
		spreadsheetID: spreadsheetID,
		writeRange:    writeRange,
	}, nil
}

// Append appends the rows to the configured range.
func (a *Appender) Append(ctx context.Context, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}

	_, err := a.service.Spreadsheets.Values.
		Append(a.spreadsheetID, a.writeRange, &sheets.ValueRange{Values: rows}).
		ValueInputOption(valueInputUserEntered).
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("append ledger rows: %w", err)
	}

	a.logger.Info("audit rows appended", slog.Int("rows", len(rows)))
	return nil
}
