package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/arogyalock/consent-api/internal/model"
)

// Errors shared by all store implementations. Services translate these to
// their own sentinels; handlers never see them directly.
var (
	// ErrNotFound means the requested entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrStaleTransition means a conditional state change found the entity
	// already past its expected state. Mutations on a consent artifact are
	// serialized per id: of two concurrent transitions, exactly one commits
	// and the other observes this error.
	ErrStaleTransition = errors.New("stale transition")
	// ErrDuplicateActiveGrant means a live GRANTED artifact already covers
	// the (subject, requester, purpose) triple.
	ErrDuplicateActiveGrant = errors.New("duplicate active grant")
)

type (
	// ConsentRepository is the system of record for consent artifacts.
	ConsentRepository interface {
		Create(ctx context.Context, artifact *model.ConsentArtifact) error
		Get(ctx context.Context, id uuid.UUID) (*model.ConsentArtifact, error)
		// Transition moves an artifact from one status to another with a
		// conditional update; returns ErrStaleTransition when the artifact
		// is no longer in the expected status, and ErrDuplicateActiveGrant
		// when a move to GRANTED would make a second grant for the triple.
		Transition(ctx context.Context, id uuid.UUID, from, to model.ConsentStatus, grantedAt, expiresAt *time.Time) (*model.ConsentArtifact, error)
		// ActiveGrant returns the live GRANTED artifact for the triple, or
		// ErrNotFound.
		ActiveGrant(ctx context.Context, subjectID, requesterID uuid.UUID, purpose string, now time.Time) (*model.ConsentArtifact, error)
		ListForSubject(ctx context.Context, subjectID uuid.UUID) ([]*model.ConsentArtifact, error)
		ListForRequester(ctx context.Context, requesterID uuid.UUID) ([]*model.ConsentArtifact, error)
		// ListForPair returns all artifacts between a subject and a
		// requester, newest first.
		ListForPair(ctx context.Context, subjectID, requesterID uuid.UUID) ([]*model.ConsentArtifact, error)
		// MarkExpired persists lazy expiry observed on read; best-effort.
		MarkExpired(ctx context.Context, id uuid.UUID) error
		// ExpireStale flips every GRANTED artifact past its TTL; used by the
		// sweep worker only, correctness never depends on it.
		ExpireStale(ctx context.Context, now time.Time) (int64, error)
	}

	// AuditRepository is append-only: no update or delete exists beyond the
	// retention sweep.
	AuditRepository interface {
		Create(ctx context.Context, record *model.AuditRecord) error
		List(ctx context.Context, filter *model.AuditFilter) ([]*model.AuditRecord, error)
		GetAggregateStats(ctx context.Context, filter *model.AuditFilter) (*model.AggregateStats, error)
		DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
	}

	// EmergencyRepository appends break-glass disclosure events.
	EmergencyRepository interface {
		Create(ctx context.Context, event *model.EmergencyAccessEvent) error
		ListForSubject(ctx context.Context, subjectID uuid.UUID) ([]*model.EmergencyAccessEvent, error)
	}

	// SubjectRepository resolves patients and their emergency profiles.
	SubjectRepository interface {
		Create(ctx context.Context, subject *model.Subject) error
		Get(ctx context.Context, id uuid.UUID) (*model.Subject, error)
		GetByPublicHandle(ctx context.Context, handle string) (*model.Subject, error)
	}

	// ActorRepository stores credential accounts.
	ActorRepository interface {
		Create(ctx context.Context, account *model.ActorAccount) error
		Get(ctx context.Context, id uuid.UUID) (*model.ActorAccount, error)
		GetByIdentifier(ctx context.Context, identifier string) (*model.ActorAccount, error)
		Update(ctx context.Context, account *model.ActorAccount) error
	}

	// CodeRepository stores one-time codes. Consume is atomic: the code is
	// read and invalidated in a single operation so concurrent verification
	// attempts cannot both succeed.
	CodeRepository interface {
		Store(ctx context.Context, code *model.OneTimeCode) error
		// Consume marks the code used and returns it; ErrNotFound when no
		// matching unused code exists.
		Consume(ctx context.Context, identifier, code string, now time.Time) (*model.OneTimeCode, error)
	}

	NotificationRepository interface {
		Create(ctx context.Context, n *model.Notification) error
		Update(ctx context.Context, n *model.Notification) error
		Get(ctx context.Context, id uuid.UUID) (*model.Notification, error)
	}

	OutboxRepository interface {
		Create(ctx context.Context, event *model.OutboxEvent) error
		GetPendingEvents(ctx context.Context, limit int) ([]*model.OutboxEvent, error)
		UpdateStatus(ctx context.Context, id uuid.UUID, status model.OutboxStatus, errorMessage *string, retryAt *time.Time) error
		DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
	}
)
