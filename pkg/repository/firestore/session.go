package firestore

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/asclepius/pkg/domain/model"
	"github.com/secmon-lab/asclepius/pkg/domain/types"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type sessionDoc struct {
	ID           string     `firestore:"ID"`
	OwnerID      string     `firestore:"OwnerID"`
	Status       string     `firestore:"Status"`
	Endpoint     string     `firestore:"Endpoint"`
	Capabilities []string   `firestore:"Capabilities"`
	Reachable    bool       `firestore:"Reachable"`
	CheckedAt    time.Time  `firestore:"CheckedAt"`
	LastError    string     `firestore:"LastError"`
	AgentModel   string     `firestore:"AgentModel"`
	AgentVersion string     `firestore:"AgentVersion"`
	CreatedAt    time.Time  `firestore:"CreatedAt"`
	LastActiveAt time.Time  `firestore:"LastActiveAt"`
	TerminatedAt *time.Time `firestore:"TerminatedAt"`
}

// ownerLockDoc is read and written inside every Replace/TerminateLive transaction
// so that concurrent starts for the same owner conflict and are serialized.
type ownerLockDoc struct {
	OwnerID       string    `firestore:"OwnerID"`
	LiveSessionID string    `firestore:"LiveSessionID"`
	UpdatedAt     time.Time `firestore:"UpdatedAt"`
}

func toSessionDoc(s *model.AgentSession) *sessionDoc {
	caps := make([]string, len(s.Capabilities))
	for i, c := range s.Capabilities {
		caps[i] = string(c)
	}
	return &sessionDoc{
		ID:           string(s.ID),
		OwnerID:      string(s.OwnerID),
		Status:       string(s.Status),
		Endpoint:     s.Endpoint,
		Capabilities: caps,
		Reachable:    s.Reachable,
		CheckedAt:    s.CheckedAt,
		LastError:    s.LastError,
		AgentModel:   s.AgentModel,
		AgentVersion: s.AgentVersion,
		CreatedAt:    s.CreatedAt,
		LastActiveAt: s.LastActiveAt,
		TerminatedAt: s.TerminatedAt,
	}
}

func fromSessionDoc(d *sessionDoc) *model.AgentSession {
	caps := make([]model.Capability, len(d.Capabilities))
	for i, c := range d.Capabilities {
		caps[i] = model.Capability(c)
	}
	return &model.AgentSession{
		ID:           model.SessionID(d.ID),
		OwnerID:      types.OwnerID(d.OwnerID),
		Status:       types.AgentStatus(d.Status),
		Endpoint:     d.Endpoint,
		Capabilities: caps,
		Reachable:    d.Reachable,
		CheckedAt:    d.CheckedAt,
		LastError:    d.LastError,
		AgentModel:   d.AgentModel,
		AgentVersion: d.AgentVersion,
		CreatedAt:    d.CreatedAt,
		LastActiveAt: d.LastActiveAt,
		TerminatedAt: d.TerminatedAt,
	}
}

func docToSession(doc *firestore.DocumentSnapshot) (*model.AgentSession, error) {
	var d sessionDoc
	if err := doc.DataTo(&d); err != nil {
		return nil, err
	}
	return fromSessionDoc(&d), nil
}

func liveStatuses() []string {
	live := types.LiveAgentStatuses()
	out := make([]string, len(live))
	for i, s := range live {
		out[i] = string(s)
	}
	return out
}

type sessionRepository struct {
	client           *firestore.Client
	collectionPrefix string
}

func newSessionRepository(client *firestore.Client) *sessionRepository {
	return &sessionRepository{client: client}
}

func (r *sessionRepository) collection() *firestore.CollectionRef {
	return r.client.Collection(r.collectionPrefix + CollectionSessions)
}

func (r *sessionRepository) lockRef(ownerID types.OwnerID) *firestore.DocumentRef {
	return r.client.Collection(r.collectionPrefix + CollectionOwnerLocks).Doc(string(ownerID))
}

// terminateLiveTx must run before any write in the transaction
func (r *sessionRepository) terminateLiveTx(tx *firestore.Transaction, ownerID types.OwnerID, at time.Time) ([]*model.AgentSession, error) {
	if _, err := tx.Get(r.lockRef(ownerID)); err != nil && status.Code(err) != codes.NotFound {
		return nil, goerr.Wrap(err, "failed to read owner lock", goerr.V("owner_id", ownerID))
	}

	q := r.collection().
		Where("OwnerID", "==", string(ownerID)).
		Where("Status", "in", liveStatuses())
	docs, err := tx.Documents(q).GetAll()
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query live sessions", goerr.V("owner_id", ownerID))
	}

	terminated := make([]*model.AgentSession, 0, len(docs))
	for _, doc := range docs {
		s, err := docToSession(doc)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to unmarshal session", goerr.V("id", doc.Ref.ID))
		}
		t := at
		s.Status = types.AgentStatusTerminated
		s.TerminatedAt = &t
		terminated = append(terminated, s)
	}

	for _, s := range terminated {
		if err := tx.Set(r.collection().Doc(string(s.ID)), toSessionDoc(s)); err != nil {
			return nil, goerr.Wrap(err, "failed to terminate session", goerr.V("id", s.ID))
		}
	}
	return terminated, nil
}

func (r *sessionRepository) Replace(ctx context.Context, session *model.AgentSession, terminatedAt time.Time) ([]*model.AgentSession, error) {
	created := session.Copy()
	if created.ID == "" {
		created.ID = model.NewSessionID()
	}

	var terminated []*model.AgentSession
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		var err error
		terminated, err = r.terminateLiveTx(tx, created.OwnerID, terminatedAt)
		if err != nil {
			return err
		}

		if err := tx.Create(r.collection().Doc(string(created.ID)), toSessionDoc(created)); err != nil {
			return goerr.Wrap(err, "failed to create session", goerr.V("id", created.ID))
		}
		return tx.Set(r.lockRef(created.OwnerID), &ownerLockDoc{
			OwnerID:       string(created.OwnerID),
			LiveSessionID: string(created.ID),
			UpdatedAt:     terminatedAt,
		})
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to replace agent session", goerr.V("owner_id", created.OwnerID))
	}

	return terminated, nil
}

func (r *sessionRepository) TerminateLive(ctx context.Context, ownerID types.OwnerID, terminatedAt time.Time) ([]*model.AgentSession, error) {
	var terminated []*model.AgentSession
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		var err error
		terminated, err = r.terminateLiveTx(tx, ownerID, terminatedAt)
		if err != nil {
			return err
		}
		return tx.Set(r.lockRef(ownerID), &ownerLockDoc{
			OwnerID:   string(ownerID),
			UpdatedAt: terminatedAt,
		})
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to terminate agent sessions", goerr.V("owner_id", ownerID))
	}
	return terminated, nil
}

func (r *sessionRepository) GetLive(ctx context.Context, ownerID types.OwnerID) (*model.AgentSession, error) {
	iter := r.collection().
		Where("OwnerID", "==", string(ownerID)).
		Where("Status", "in", liveStatuses()).
		OrderBy("CreatedAt", firestore.Desc).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	doc, err := iter.Next()
	if err == iterator.Done {
		return nil, goerr.Wrap(ErrNotFound, "no live agent session", goerr.V("owner_id", ownerID))
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query live session", goerr.V("owner_id", ownerID))
	}

	s, err := docToSession(doc)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal session", goerr.V("id", doc.Ref.ID))
	}
	return s, nil
}

func (r *sessionRepository) Get(ctx context.Context, id model.SessionID) (*model.AgentSession, error) {
	doc, err := r.collection().Doc(string(id)).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, goerr.Wrap(ErrNotFound, "agent session not found", goerr.V("id", id))
		}
		return nil, goerr.Wrap(err, "failed to get agent session", goerr.V("id", id))
	}

	s, err := docToSession(doc)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal session", goerr.V("id", id))
	}
	return s, nil
}

// Update reads and writes the session inside one transaction, so a concurrent
// write to the same document makes the transaction retry with fresh state.
func (r *sessionRepository) Update(ctx context.Context, id model.SessionID, mutate func(s *model.AgentSession) bool) (*model.AgentSession, error) {
	docRef := r.collection().Doc(string(id))

	var result *model.AgentSession
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(docRef)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return goerr.Wrap(ErrNotFound, "agent session not found", goerr.V("id", id))
			}
			return goerr.Wrap(err, "failed to get agent session", goerr.V("id", id))
		}

		current, err := docToSession(snap)
		if err != nil {
			return goerr.Wrap(err, "failed to decode agent session", goerr.V("id", id))
		}
		if !current.IsLive() {
			return goerr.Wrap(ErrNotFound, "live agent session not found", goerr.V("id", id))
		}

		updated := current.Copy()
		if !mutate(updated) {
			result = current
			return nil
		}
		updated.ID = id
		result = updated
		return tx.Set(docRef, toSessionDoc(updated))
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to update agent session", goerr.V("id", id))
	}
	return result, nil
}

func (r *sessionRepository) ListLive(ctx context.Context) ([]*model.AgentSession, error) {
	iter := r.collection().
		Where("Status", "in", liveStatuses()).
		Documents(ctx)
	defer iter.Stop()

	sessions := make([]*model.AgentSession, 0)
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate live sessions")
		}

		s, err := docToSession(doc)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to unmarshal session")
		}
		sessions = append(sessions, s)
	}
	return sessions, nil
}
