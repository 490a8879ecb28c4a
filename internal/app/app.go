// Package app wires the store and the coordinator registries together. All
// transport surfaces resolve coordinators through an App.
package app

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ubl-proto/ubl/internal/config"
	"github.com/ubl-proto/ubl/internal/ledger"
	"github.com/ubl-proto/ubl/internal/models"
	"github.com/ubl-proto/ubl/internal/room"
	"github.com/ubl-proto/ubl/internal/runtime"
	"github.com/ubl-proto/ubl/internal/store"
	"github.com/ubl-proto/ubl/internal/tenant"
	"github.com/ubl-proto/ubl/internal/workspace"
)

// App holds the store and one registry per coordinator type.
type App struct {
	Store store.Store
	Cfg   *config.Config
	Log   zerolog.Logger

	ledgers    *runtime.Registry[*ledger.Coordinator]
	rooms      *runtime.Registry[*room.Coordinator]
	tenants    *runtime.Registry[*tenant.Coordinator]
	workspaces *runtime.Registry[*workspace.Coordinator]
}

// New builds the registries. Coordinator construction loads durable state, so
// the constructors run against a background context rather than the first
// caller's request context.
func New(st store.Store, cfg *config.Config, log zerolog.Logger) *App {
	a := &App{Store: st, Cfg: cfg, Log: log}

	a.ledgers = runtime.NewRegistry(func(key string) (*ledger.Coordinator, error) {
		parts := strings.SplitN(key, "|", 3)
		return ledger.New(context.Background(), st, log, parts[0], parts[2], ledger.Limits{
			HotLimit:   cfg.HotAtomsLimit,
			DedupLimit: cfg.DedupLimit,
		})
	})
	a.rooms = runtime.NewRegistry(func(key string) (*room.Coordinator, error) {
		parts := strings.SplitN(key, "|", 2)
		ledg, err := a.Ledger(parts[0])
		if err != nil {
			return nil, err
		}
		return room.New(context.Background(), st, log, ledg, parts[0], parts[1], room.Limits{
			HotLimit:        cfg.HotMessagesLimit,
			SeenLimit:       cfg.SeenLimit,
			MaxMessageBytes: cfg.MaxMessageBytes,
		})
	})
	a.tenants = runtime.NewRegistry(func(key string) (*tenant.Coordinator, error) {
		return tenant.New(context.Background(), st, log, a, key)
	})
	a.workspaces = runtime.NewRegistry(func(key string) (*workspace.Coordinator, error) {
		parts := strings.SplitN(key, "|", 3)
		ledg, err := a.Ledger(parts[0])
		if err != nil {
			return nil, err
		}
		return workspace.New(context.Background(), st, log, ledg, parts[0], parts[2])
	})
	return a
}

// Ledger returns the tenant's default ledger shard coordinator.
func (a *App) Ledger(tenantID string) (*ledger.Coordinator, error) {
	return a.ledgers.Get(runtime.LedgerKey(tenantID, ledger.DefaultShard))
}

// Room returns the coordinator for a room.
func (a *App) Room(tenantID, roomID string) (*room.Coordinator, error) {
	return a.rooms.Get(runtime.RoomKey(tenantID, roomID))
}

// Tenant returns the coordinator for a tenant.
func (a *App) Tenant(tenantID string) (*tenant.Coordinator, error) {
	return a.tenants.Get(runtime.TenantKey(tenantID))
}

// Workspace returns the coordinator for a workspace.
func (a *App) Workspace(tenantID, workspaceID string) (*workspace.Coordinator, error) {
	return a.workspaces.Get(runtime.WorkspaceKey(tenantID, workspaceID))
}

// InitRoom initializes a room coordinator on behalf of a tenant coordinator.
func (a *App) InitRoom(ctx context.Context, tenantID, roomID, name, mode string, creator models.Identity, requestID string) error {
	rm, err := a.Room(tenantID, roomID)
	if err != nil {
		return err
	}
	return rm.Init(ctx, name, mode, creator, requestID)
}
