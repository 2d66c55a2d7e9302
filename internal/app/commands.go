package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jun/invoicescout/internal/adapter"
	"github.com/jun/invoicescout/internal/config"
	"github.com/jun/invoicescout/internal/model"
	"github.com/jun/invoicescout/internal/state"
)

// StatusReport is the offline view of the local state.
type StatusReport struct {
	StatePath       string
	Run             model.RunState
	SheetPrefix     string
	Backend         string
	HasToken        bool
	HasRefreshToken bool
	TokenExpiry     time.Time
}

// Status reads the state file without contacting any service.
func (a *App) Status() (StatusReport, error) {
	f, err := a.State.Load()
	if err != nil {
		return StatusReport{}, fmt.Errorf("load state: %w", err)
	}
	return StatusReport{
		StatePath:       a.State.Path(),
		Run:             f.RunState,
		SheetPrefix:     a.Config.Results.SheetPrefix,
		Backend:         a.Config.Results.Backend,
		HasToken:        f.AccessToken != "" || f.RefreshToken != "",
		HasRefreshToken: f.HasRefreshToken(),
		TokenExpiry:     f.Expiry,
	}, nil
}

// SetupOptions selects the folder and spreadsheet a scan uses. Empty fields
// keep the current selection.
type SetupOptions struct {
	FolderID      string
	SpreadsheetID string
	SheetPrefix   string
}

// Setup verifies the selections against Drive and Sheets and stores them
// with their display names.
func (a *App) Setup(ctx context.Context, opts SetupOptions) (model.RunState, error) {
	var folderName, spreadsheetName string
	if id := strings.TrimSpace(opts.FolderID); id != "" {
		docs, err := a.DocumentStore(ctx)
		if err != nil {
			return model.RunState{}, err
		}
		entry, err := docs.Stat(ctx, id)
		if err != nil {
			return model.RunState{}, fmt.Errorf("look up folder %s: %w", id, err)
		}
		if !entry.IsFolder() {
			return model.RunState{}, fmt.Errorf("%s (%s) is not a folder", entry.Name, id)
		}
		folderName = entry.Name
	}
	if id := strings.TrimSpace(opts.SpreadsheetID); id != "" {
		sheets, err := a.SpreadsheetStore(ctx, id)
		if err != nil {
			return model.RunState{}, err
		}
		title, err := sheets.Title(ctx)
		if err != nil {
			return model.RunState{}, fmt.Errorf("look up spreadsheet %s: %w", id, err)
		}
		spreadsheetName = title
	}

	f, err := a.State.Update(func(f *state.File) error {
		if folderName != "" {
			f.SelectedRoot = strings.TrimSpace(opts.FolderID)
			f.SelectedRootName = folderName
		}
		if spreadsheetName != "" {
			f.SelectedResultStore = strings.TrimSpace(opts.SpreadsheetID)
			f.ResultStoreName = spreadsheetName
		}
		if p := strings.TrimSpace(opts.SheetPrefix); p != "" {
			f.SheetPrefix = p
		}
		return nil
	})
	if err != nil {
		return model.RunState{}, fmt.Errorf("save selection: %w", err)
	}
	a.Config.ApplyRunState(f.RunState)
	return f.RunState, nil
}

// ListFolders returns every Drive folder the account can see.
func (a *App) ListFolders(ctx context.Context) ([]adapter.Entry, error) {
	docs, err := a.DocumentStore(ctx)
	if err != nil {
		return nil, err
	}
	var folders []adapter.Entry
	token := ""
	for {
		page, err := docs.ListFolders(ctx, token)
		if err != nil {
			return nil, err
		}
		folders = append(folders, page.Entries...)
		if page.NextPageToken == "" {
			return folders, nil
		}
		token = page.NextPageToken
	}
}

// Reset forgets the stored credentials, and the selections too unless
// credentialsOnly is set.
func (a *App) Reset(ctx context.Context, credentialsOnly bool) error {
	if !credentialsOnly {
		return a.State.Remove()
	}
	creds, err := a.Credentials(ctx)
	if errors.Is(err, config.ErrMissingConfiguration) {
		_, err = a.State.Update(func(f *state.File) error {
			f.TokenSet = model.TokenSet{}
			return nil
		})
		return err
	}
	if err != nil {
		return err
	}
	return creds.Reset(ctx)
}
