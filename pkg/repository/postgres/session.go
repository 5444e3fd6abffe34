package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/asclepius/pkg/domain/model"
	"github.com/secmon-lab/asclepius/pkg/domain/types"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// sessionData holds the session fields that are not queried on
type sessionData struct {
	Endpoint     string             `json:"endpoint"`
	Capabilities []model.Capability `json:"capabilities"`
	Reachable    bool               `json:"reachable"`
	CheckedAt    time.Time          `json:"checked_at"`
	LastError    string             `json:"last_error,omitempty"`
	AgentModel   string             `json:"agent_model,omitempty"`
	AgentVersion string             `json:"agent_version,omitempty"`
}

// agentRow is one session in the agents table
type agentRow struct {
	ID           string                          `gorm:"column:id;type:text;primaryKey"`
	OwnerID      string                          `gorm:"column:owner_id;type:text;not null;index"`
	Status       string                          `gorm:"column:status;type:text;not null"`
	SessionData  datatypes.JSONType[sessionData] `gorm:"column:session_data;type:jsonb"`
	CreatedAt    time.Time                       `gorm:"column:created_at;not null"`
	LastActive   time.Time                       `gorm:"column:last_active;not null"`
	TerminatedAt *time.Time                      `gorm:"column:terminated_at"`
}

func (agentRow) TableName() string { return "agents" }

func toAgentRow(s *model.AgentSession) *agentRow {
	return &agentRow{
		ID:      string(s.ID),
		OwnerID: string(s.OwnerID),
		Status:  s.Status.String(),
		SessionData: datatypes.NewJSONType(sessionData{
			Endpoint:     s.Endpoint,
			Capabilities: s.Capabilities,
			Reachable:    s.Reachable,
			CheckedAt:    s.CheckedAt,
			LastError:    s.LastError,
			AgentModel:   s.AgentModel,
			AgentVersion: s.AgentVersion,
		}),
		CreatedAt:    s.CreatedAt,
		LastActive:   s.LastActiveAt,
		TerminatedAt: s.TerminatedAt,
	}
}

func (r *agentRow) toModel() *model.AgentSession {
	data := r.SessionData.Data()
	s := &model.AgentSession{
		ID:           model.SessionID(r.ID),
		OwnerID:      types.OwnerID(r.OwnerID),
		Status:       types.AgentStatus(r.Status),
		Endpoint:     data.Endpoint,
		Capabilities: data.Capabilities,
		Reachable:    data.Reachable,
		CheckedAt:    data.CheckedAt.UTC(),
		LastError:    data.LastError,
		AgentModel:   data.AgentModel,
		AgentVersion: data.AgentVersion,
		CreatedAt:    r.CreatedAt.UTC(),
		LastActiveAt: r.LastActive.UTC(),
	}
	if r.TerminatedAt != nil {
		t := r.TerminatedAt.UTC()
		s.TerminatedAt = &t
	}
	return s
}

type sessionRepository struct {
	db *gorm.DB
}

// terminateLiveTx serializes on the owner with a transaction-scoped advisory lock,
// then terminates every live row of that owner
func terminateLiveTx(tx *gorm.DB, ownerID types.OwnerID, at time.Time) ([]*model.AgentSession, error) {
	if err := tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", string(ownerID)).Error; err != nil {
		return nil, goerr.Wrap(err, "failed to lock owner", goerr.V("owner_id", ownerID))
	}

	var rows []agentRow
	if err := tx.Where("owner_id = ? AND status <> ?", string(ownerID), types.AgentStatusTerminated.String()).
		Find(&rows).Error; err != nil {
		return nil, goerr.Wrap(err, "failed to query live sessions", goerr.V("owner_id", ownerID))
	}
	if len(rows) == 0 {
		return []*model.AgentSession{}, nil
	}

	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	if err := tx.Model(&agentRow{}).Where("id IN ?", ids).Updates(map[string]any{
		"status":        types.AgentStatusTerminated.String(),
		"terminated_at": at,
	}).Error; err != nil {
		return nil, goerr.Wrap(err, "failed to terminate sessions", goerr.V("owner_id", ownerID))
	}

	terminated := make([]*model.AgentSession, 0, len(rows))
	for i := range rows {
		s := rows[i].toModel()
		t := at
		s.Status = types.AgentStatusTerminated
		s.TerminatedAt = &t
		terminated = append(terminated, s)
	}
	return terminated, nil
}

func (r *sessionRepository) Replace(ctx context.Context, session *model.AgentSession, terminatedAt time.Time) ([]*model.AgentSession, error) {
	created := session.Copy()
	if created.ID == "" {
		created.ID = model.NewSessionID()
	}

	var terminated []*model.AgentSession
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		terminated, err = terminateLiveTx(tx, created.OwnerID, terminatedAt)
		if err != nil {
			return err
		}
		if err := tx.Create(toAgentRow(created)).Error; err != nil {
			return goerr.Wrap(err, "failed to insert session", goerr.V("id", created.ID))
		}
		return nil
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to replace agent session", goerr.V("owner_id", created.OwnerID))
	}
	return terminated, nil
}

func (r *sessionRepository) GetLive(ctx context.Context, ownerID types.OwnerID) (*model.AgentSession, error) {
	var row agentRow
	err := r.db.WithContext(ctx).
		Where("owner_id = ? AND status <> ?", string(ownerID), types.AgentStatusTerminated.String()).
		Order("created_at DESC").
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, goerr.Wrap(ErrNotFound, "no live agent session", goerr.V("owner_id", ownerID))
		}
		return nil, goerr.Wrap(err, "failed to get live session", goerr.V("owner_id", ownerID))
	}
	return row.toModel(), nil
}

func (r *sessionRepository) Get(ctx context.Context, id model.SessionID) (*model.AgentSession, error) {
	var row agentRow
	if err := r.db.WithContext(ctx).Where("id = ?", string(id)).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, goerr.Wrap(ErrNotFound, "agent session not found", goerr.V("id", id))
		}
		return nil, goerr.Wrap(err, "failed to get session", goerr.V("id", id))
	}
	return row.toModel(), nil
}

// Update locks the live row with SELECT ... FOR UPDATE for the rest of the transaction,
// so concurrent updates of the same session apply one after the other.
func (r *sessionRepository) Update(ctx context.Context, id model.SessionID, mutate func(s *model.AgentSession) bool) (*model.AgentSession, error) {
	var result *model.AgentSession
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row agentRow
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ? AND status <> ?", string(id), types.AgentStatusTerminated.String()).
			Take(&row).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return goerr.Wrap(ErrNotFound, "live agent session not found", goerr.V("id", id))
			}
			return goerr.Wrap(err, "failed to lock session", goerr.V("id", id))
		}

		current := row.toModel()
		changed := current.Copy()
		if !mutate(changed) {
			result = current
			return nil
		}
		changed.ID = id
		result = changed

		updated := toAgentRow(changed)
		if err := tx.Model(&agentRow{}).Where("id = ?", string(id)).Updates(map[string]any{
			"status":        updated.Status,
			"session_data":  updated.SessionData,
			"last_active":   updated.LastActive,
			"terminated_at": updated.TerminatedAt,
		}).Error; err != nil {
			return goerr.Wrap(err, "failed to update session", goerr.V("id", id))
		}
		return nil
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to update agent session", goerr.V("id", id))
	}
	return result, nil
}

func (r *sessionRepository) TerminateLive(ctx context.Context, ownerID types.OwnerID, terminatedAt time.Time) ([]*model.AgentSession, error) {
	var terminated []*model.AgentSession
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		terminated, err = terminateLiveTx(tx, ownerID, terminatedAt)
		return err
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to terminate live sessions", goerr.V("owner_id", ownerID))
	}
	return terminated, nil
}

func (r *sessionRepository) ListLive(ctx context.Context) ([]*model.AgentSession, error) {
	var rows []agentRow
	if err := r.db.WithContext(ctx).
		Where("status <> ?", types.AgentStatusTerminated.String()).
		Order("last_active ASC").
		Find(&rows).Error; err != nil {
		return nil, goerr.Wrap(err, "failed to list live sessions")
	}

	result := make([]*model.AgentSession, 0, len(rows))
	for i := range rows {
		result = append(result, rows[i].toModel())
	}
	return result, nil
}
