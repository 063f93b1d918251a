package app

import (
	"context"
	"fmt"

	"courtbot/internal/campaign"
	"courtbot/internal/config"
	"courtbot/internal/storage"
	logx "courtbot/pkg/logx"
)

// Offline is the campaign store and its backing storage without any of the
// running machinery. The CLI uses it to edit targets directly.
type Offline struct {
	Campaigns *campaign.Store
	Store     storage.Store
	Driver    string
}

// OpenOffline validates cfgPath and loads the persisted campaign state.
// The caller must Close it.
func OpenOffline(ctx context.Context, cfgPath string, log logx.Logger) (*Offline, error) {
	cfg, err := config.ParseFile(cfgPath)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", cfgPath, err)
	}
	scfg, _ := mapStorageConfig(cfg)
	ccfg, _ := mapCampaignConfig(cfg)

	st, err := storage.Open(ctx, scfg, log)
	if err != nil {
		return nil, err
	}
	cs := campaign.New(ccfg, st, campaign.WithLogger(log))
	if err := cs.Load(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return &Offline{Campaigns: cs, Store: st, Driver: scfg.Driver}, nil
}

func (o *Offline) Close() error { return o.Store.Close() }
