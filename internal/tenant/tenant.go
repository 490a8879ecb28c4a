// Package tenant implements the per-tenant coordinator: the membership
// directory, the room index, and agreement creation.
package tenant

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ubl-proto/ubl/internal/models"
	"github.com/ubl-proto/ubl/internal/runtime"
	"github.com/ubl-proto/ubl/internal/store"
	"github.com/ubl-proto/ubl/internal/ublerr"
)

// GeneralRoomID is auto-created with every tenant.
const GeneralRoomID = "r:general"

// Rooms lets the coordinator initialize room coordinators without owning
// their registry.
type Rooms interface {
	InitRoom(ctx context.Context, tenantID, roomID, name, mode string, creator models.Identity, requestID string) error
}

// state is the durable blob for a tenant.
type state struct {
	Tenant *models.Tenant       `json:"tenant,omitempty"`
	Rooms  []models.RoomSummary `json:"rooms"`
}

// Coordinator is the single writer for one tenant.
type Coordinator struct {
	mu       sync.Mutex
	tenantID string
	key      string
	store    store.Store
	log      zerolog.Logger
	rooms    Rooms

	tenant   *models.Tenant
	roomList []models.RoomSummary
}

// New loads or initializes the coordinator for a tenant.
func New(ctx context.Context, st store.Store, log zerolog.Logger, rooms Rooms, tenantID string) (*Coordinator, error) {
	c := &Coordinator{
		tenantID: tenantID,
		key:      runtime.TenantKey(tenantID),
		store:    st,
		log:      log.With().Str("tenant", tenantID).Logger(),
		rooms:    rooms,
	}
	raw, err := st.LoadState(ctx, c.key)
	if err != nil {
		return nil, ublerr.Wrap(err)
	}
	if raw != nil {
		var s state
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, ublerr.Wrap(err)
		}
		c.tenant = s.Tenant
		c.roomList = s.Rooms
	}
	return c, nil
}

// EnsureTenantAndMember lazily creates the tenant on first touch (the caller
// becomes owner, a tenant_license agreement is recorded, and the general
// room is bootstrapped) and auto-adds later callers as members. Returns the
// tenant and the caller's role.
func (c *Coordinator) EnsureTenantAndMember(ctx context.Context, identity models.Identity, requestID string) (*models.Tenant, string, error) {
	c.mu.Lock()

	if c.tenant == nil {
		now := time.Now().UTC()
		tenantType := models.TenantTypeCustomer
		if c.tenantID == models.PlatformTenantID {
			tenantType = models.TenantTypePlatform
		}
		c.tenant = &models.Tenant{
			TenantID:  c.tenantID,
			Type:      tenantType,
			CreatedAt: now,
			Members: map[string]models.Member{
				identity.UserID: {Role: models.RoleOwner, Email: identity.Email, JoinedAt: now},
			},
			Defaults: models.TenantDefaults{
				RoomMode:        models.RoomModeInternal,
				RetentionDays:   30,
				MaxMessageBytes: 8000,
			},
		}
		if err := c.persistLocked(ctx); err != nil {
			c.tenant = nil
			c.mu.Unlock()
			return nil, "", err
		}
		c.mirrorTenantLocked(ctx)

		license := &models.Agreement{
			ID:        models.TenantAgreementID(c.tenantID),
			Type:      models.AgreementTenantLicense,
			TenantID:  c.tenantID,
			CreatedAt: now,
			CreatedBy: identity.UserID,
			Metadata:  map[string]any{"tenant_type": tenantType},
		}
		if err := c.store.UpsertAgreement(ctx, license); err != nil {
			c.log.Error().Err(err).Msg("tenant license agreement persist failed")
		}
		c.mu.Unlock()

		if _, err := c.CreateRoom(ctx, "general", identity, requestID); err != nil {
			c.log.Error().Err(err).Msg("general room bootstrap failed")
		}

		c.mu.Lock()
		tenant := *c.tenant
		c.mu.Unlock()
		return &tenant, models.RoleOwner, nil
	}

	role := c.tenant.Role(identity.UserID)
	if role == "" {
		role = models.RoleMember
		c.tenant.Members[identity.UserID] = models.Member{
			Role:     role,
			Email:    identity.Email,
			JoinedAt: time.Now().UTC(),
		}
		if err := c.persistLocked(ctx); err != nil {
			delete(c.tenant.Members, identity.UserID)
			c.mu.Unlock()
			return nil, "", err
		}
		c.mirrorTenantLocked(ctx)
	}
	tenant := *c.tenant
	c.mu.Unlock()
	return &tenant, role, nil
}

// CreateRoom creates a room from a human name. A second call with a name
// that slugs to an existing room id returns the existing summary.
func (c *Coordinator) CreateRoom(ctx context.Context, name string, identity models.Identity, requestID string) (*models.RoomSummary, error) {
	slug := models.Slugify(name)
	if slug == "" {
		return nil, ublerr.New(ublerr.InvalidRoomID, "name %q does not yield a valid room id", name)
	}
	roomID := models.RoomPrefix + slug

	c.mu.Lock()
	if c.tenant == nil {
		c.mu.Unlock()
		return nil, ublerr.New(ublerr.NotFound, "tenant %s does not exist", c.tenantID)
	}
	for _, rs := range c.roomList {
		if rs.RoomID == roomID {
			existing := rs
			c.mu.Unlock()
			return &existing, nil
		}
	}

	summary := models.RoomSummary{
		RoomID:    roomID,
		Name:      name,
		Mode:      models.RoomModeInternal,
		CreatedAt: time.Now().UTC(),
	}
	c.roomList = append(c.roomList, summary)
	if err := c.persistLocked(ctx); err != nil {
		c.roomList = c.roomList[:len(c.roomList)-1]
		c.mu.Unlock()
		return nil, err
	}

	if err := c.store.UpsertRoomSummary(ctx, c.tenantID, summary); err != nil {
		c.log.Warn().Err(err).Str("room", roomID).Msg("room summary mirror failed")
	}
	governance := &models.Agreement{
		ID:        models.RoomAgreementID(roomID),
		Type:      models.AgreementRoomGovernance,
		TenantID:  c.tenantID,
		CreatedAt: summary.CreatedAt,
		CreatedBy: identity.UserID,
		Metadata:  map[string]any{"room_id": roomID, "mode": summary.Mode},
	}
	if err := c.store.UpsertAgreement(ctx, governance); err != nil {
		c.log.Error().Err(err).Str("room", roomID).Msg("room governance agreement persist failed")
	}
	c.mu.Unlock()

	if err := c.rooms.InitRoom(ctx, c.tenantID, roomID, name, summary.Mode, identity, requestID); err != nil {
		return nil, err
	}
	return &summary, nil
}

// ListRooms returns the tenant's room index.
func (c *Coordinator) ListRooms() []models.RoomSummary {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.RoomSummary, len(c.roomList))
	copy(out, c.roomList)
	return out
}

// GetRoom returns the summary for a room id.
func (c *Coordinator) GetRoom(roomID string) (*models.RoomSummary, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, rs := range c.roomList {
		if rs.RoomID == roomID {
			out := rs
			return &out, nil
		}
	}
	return nil, ublerr.New(ublerr.NotFound, "room %s not found", roomID)
}

// GetTenant returns the tenant record, or nil before first touch.
func (c *Coordinator) GetTenant() *models.Tenant {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tenant == nil {
		return nil
	}
	t := *c.tenant
	return &t
}

func (c *Coordinator) persistLocked(ctx context.Context) error {
	raw, err := json.Marshal(&state{Tenant: c.tenant, Rooms: c.roomList})
	if err != nil {
		return ublerr.Wrap(err)
	}
	if err := c.store.SaveState(ctx, c.key, raw); err != nil {
		return ublerr.New(ublerr.Internal, "tenant persist failed")
	}
	return nil
}

func (c *Coordinator) mirrorTenantLocked(ctx context.Context) {
	if err := c.store.UpsertTenant(ctx, c.tenant); err != nil {
		c.log.Warn().Err(err).Msg("tenant index mirror failed")
	}
}
