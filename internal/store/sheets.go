package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	lbtypes "streakkeeper/internal/types/leaderboard"
	"streakkeeper/internal/types/streak"
)

// Sheet layout. Row 1 of each tab is a header and is never touched.
const (
	streakTab     = "streak"
	streakLastCol = "J"
	ledgerTab     = "ledger"
	ledgerLastCol = "F"
)

// sheetValues is the subset of the Sheets values API the store needs.
// Row indexes are 0-based over the data rows below the header.
type sheetValues interface {
	rows(ctx context.Context, tab, lastCol string) ([][]interface{}, error)
	writeRow(ctx context.Context, tab, lastCol string, index int, row []interface{}) error
	appendRow(ctx context.Context, tab, lastCol string, row []interface{}) error
	replaceRows(ctx context.Context, tab, lastCol string, rows [][]interface{}) error
}

type googleValues struct {
	svc           *sheets.Service
	spreadsheetID string
}

func (g *googleValues) rows(ctx context.Context, tab, lastCol string) ([][]interface{}, error) {
	resp, err := g.svc.Spreadsheets.Values.Get(g.spreadsheetID, fmt.Sprintf("%s!A2:%s", tab, lastCol)).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	return resp.Values, nil
}

func (g *googleValues) writeRow(ctx context.Context, tab, lastCol string, index int, row []interface{}) error {
	n := index + 2
	rng := fmt.Sprintf("%s!A%d:%s%d", tab, n, lastCol, n)
	_, err := g.svc.Spreadsheets.Values.Update(g.spreadsheetID, rng, &sheets.ValueRange{Values: [][]interface{}{row}}).
		ValueInputOption("RAW").Context(ctx).Do()
	return err
}

func (g *googleValues) appendRow(ctx context.Context, tab, lastCol string, row []interface{}) error {
	rng := fmt.Sprintf("%s!A:%s", tab, lastCol)
	_, err := g.svc.Spreadsheets.Values.Append(g.spreadsheetID, rng, &sheets.ValueRange{Values: [][]interface{}{row}}).
		ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	return err
}

func (g *googleValues) replaceRows(ctx context.Context, tab, lastCol string, rows [][]interface{}) error {
	_, err := g.svc.Spreadsheets.Values.Clear(g.spreadsheetID, fmt.Sprintf("%s!A2:%s", tab, lastCol), &sheets.ClearValuesRequest{}).
		Context(ctx).Do()
	if err != nil || len(rows) == 0 {
		return err
	}
	rng := fmt.Sprintf("%s!A2:%s%d", tab, lastCol, len(rows)+1)
	_, err = g.svc.Spreadsheets.Values.Update(g.spreadsheetID, rng, &sheets.ValueRange{Values: rows}).
		ValueInputOption("RAW").Context(ctx).Do()
	return err
}

// SheetsStore keeps one row per guild in the streak tab and one row per
// guild member in the ledger tab.
type SheetsStore struct {
	values sheetValues
	mu     sync.Mutex
}

func NewSheetsStore(ctx context.Context, spreadsheetID, credentialsFile string) (*SheetsStore, error) {
	if spreadsheetID == "" {
		return nil, errors.New("spreadsheet id is not set")
	}
	opts := []option.ClientOption{option.WithScopes(sheets.SpreadsheetsScope)}
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets client: %w", err)
	}
	return &SheetsStore{values: &googleValues{svc: svc, spreadsheetID: spreadsheetID}}, nil
}

func cell(row []interface{}, i int) string {
	if i >= len(row) || row[i] == nil {
		return ""
	}
	return fmt.Sprint(row[i])
}

func recordToRow(guildID string, rec *streak.Record) []interface{} {
	return []interface{}{
		guildID,
		strconv.Itoa(rec.StreakCount),
		rec.StartDate.Display(),
		rec.LastLoggedDate.Display(),
		rec.ReminderTime,
		strconv.Itoa(rec.LongestStreak),
		rec.LongestStreakEndDate.Display(),
		rec.LedgerPeriod,
		encodeConfirmations(rec.Confirmations),
		rec.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func rowToRecord(guildID string, row []interface{}) *streak.Record {
	rec := &streak.Record{
		GuildID:              guildID,
		StreakCount:          parseCount(cell(row, 1)),
		StartDate:            streak.ParseDateOrZero(cell(row, 2)),
		LastLoggedDate:       streak.ParseDateOrZero(cell(row, 3)),
		ReminderTime:         cell(row, 4),
		LongestStreak:        parseCount(cell(row, 5)),
		LongestStreakEndDate: streak.ParseDateOrZero(cell(row, 6)),
		LedgerPeriod:         cell(row, 7),
		Confirmations:        decodeConfirmations(cell(row, 8)),
	}
	rec.UpdatedAt, _ = time.Parse(time.RFC3339, cell(row, 9))
	rec.Normalize()
	return rec
}

func entryToRow(guildID string, e lbtypes.Entry) []interface{} {
	return []interface{}{guildID, e.UserID, e.DisplayName, strconv.Itoa(e.Contributions), e.LastLogDate.Display(), encodeDates(e.CreditedDates)}
}

func rowToEntry(row []interface{}) lbtypes.Entry {
	return lbtypes.Entry{
		UserID:        cell(row, 1),
		DisplayName:   cell(row, 2),
		Contributions: parseCount(cell(row, 3)),
		LastLogDate:   streak.ParseDateOrZero(cell(row, 4)),
		CreditedDates: decodeDates(cell(row, 5)),
	}
}

func findRow(rows [][]interface{}, match func(row []interface{}) bool) int {
	for i, row := range rows {
		if match(row) {
			return i
		}
	}
	return -1
}

func (s *SheetsStore) Load(ctx context.Context, guildID string) (*streak.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.values.rows(ctx, streakTab, streakLastCol)
	if err != nil {
		return nil, fmt.Errorf("failed to read streak sheet: %w", err)
	}
	i := findRow(rows, func(row []interface{}) bool { return cell(row, 0) == guildID })
	if i < 0 {
		return streak.NewRecord(guildID), nil
	}
	return rowToRecord(guildID, rows[i]), nil
}

func (s *SheetsStore) Save(ctx context.Context, guildID string, rec *streak.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.values.rows(ctx, streakTab, streakLastCol)
	if err != nil {
		return fmt.Errorf("failed to read streak sheet: %w", err)
	}
	row := recordToRow(guildID, rec)
	if i := findRow(rows, func(r []interface{}) bool { return cell(r, 0) == guildID }); i >= 0 {
		err = s.values.writeRow(ctx, streakTab, streakLastCol, i, row)
	} else {
		err = s.values.appendRow(ctx, streakTab, streakLastCol, row)
	}
	if err != nil {
		return fmt.Errorf("failed to save streak row: %w", err)
	}
	return nil
}

func (s *SheetsStore) LoadLedger(ctx context.Context, guildID string) ([]lbtypes.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.values.rows(ctx, ledgerTab, ledgerLastCol)
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger sheet: %w", err)
	}
	entries := []lbtypes.Entry{}
	for _, row := range rows {
		if cell(row, 0) != guildID || cell(row, 1) == "" {
			continue
		}
		entries = append(entries, rowToEntry(row))
	}
	return entries, nil
}

// modifyEntry applies fn to a user's ledger row, creating it when missing.
func (s *SheetsStore) modifyEntry(ctx context.Context, guildID, userID string, fn func(e *lbtypes.Entry)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.values.rows(ctx, ledgerTab, ledgerLastCol)
	if err != nil {
		return fmt.Errorf("failed to read ledger sheet: %w", err)
	}
	i := findRow(rows, func(r []interface{}) bool { return cell(r, 0) == guildID && cell(r, 1) == userID })

	e := lbtypes.Entry{UserID: userID}
	if i >= 0 {
		e = rowToEntry(rows[i])
	}
	fn(&e)

	row := entryToRow(guildID, e)
	if i >= 0 {
		err = s.values.writeRow(ctx, ledgerTab, ledgerLastCol, i, row)
	} else {
		err = s.values.appendRow(ctx, ledgerTab, ledgerLastCol, row)
	}
	if err != nil {
		return fmt.Errorf("failed to write ledger row: %w", err)
	}
	return nil
}

func (s *SheetsStore) UpsertLedgerEntry(ctx context.Context, guildID string, u lbtypes.Update) error {
	return s.modifyEntry(ctx, guildID, u.UserID, func(e *lbtypes.Entry) {
		e.Contributions += u.Delta
		if u.DisplayName != "" {
			e.DisplayName = u.DisplayName
		}
		if !u.Date.IsZero() {
			e.LastLogDate = u.Date
			e.CreditedDates = u.CreditedDates
		}
	})
}

func (s *SheetsStore) SetLedgerCount(ctx context.Context, guildID, userID, displayName string, count int) error {
	return s.modifyEntry(ctx, guildID, userID, func(e *lbtypes.Entry) {
		e.Contributions = count
		if displayName != "" {
			e.DisplayName = displayName
		}
	})
}

// ClearLedger rewrites the ledger tab without the guild's rows.
func (s *SheetsStore) ClearLedger(ctx context.Context, guildID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.values.rows(ctx, ledgerTab, ledgerLastCol)
	if err != nil {
		return fmt.Errorf("failed to read ledger sheet: %w", err)
	}
	kept := make([][]interface{}, 0, len(rows))
	for _, row := range rows {
		if cell(row, 0) != guildID {
			kept = append(kept, row)
		}
	}
	if err := s.values.replaceRows(ctx, ledgerTab, ledgerLastCol, kept); err != nil {
		return fmt.Errorf("failed to clear ledger: %w", err)
	}
	return nil
}

func (s *SheetsStore) Ping(ctx context.Context) error {
	_, err := s.values.rows(ctx, streakTab, streakLastCol)
	return err
}

func (s *SheetsStore) Close() error { return nil }
