package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	ActionCreate    = "create"
	ActionUpdate    = "update"
	ActionDelete    = "delete"
	ActionImport    = "import"
	ActionCalculate = "calculate"
	ActionApprove   = "approve"
	ActionReject    = "reject"
	ActionLogin     = "login"
)

type Event struct {
	ID         string          `json:"id" csv:"id"`
	ActorID    string          `json:"actorId" csv:"actor_user_id"`
	Action     string          `json:"action" csv:"action"`
	EntityType string          `json:"entityType" csv:"entity_type"`
	EntityID   string          `json:"entityId" csv:"entity_id"`
	RequestID  string          `json:"requestId" csv:"request_id"`
	IP         string          `json:"ip" csv:"ip"`
	CreatedAt  time.Time       `json:"createdAt" csv:"created_at"`
	Before     json.RawMessage `json:"before,omitempty" csv:"-"`
	After      json.RawMessage `json:"after,omitempty" csv:"-"`
}

// Recorder is the write side used by the domain services.
type Recorder interface {
	Record(ctx context.Context, companyID, actorID, action, entityType, entityID, requestID, ip string, before, after any) error
}

type Filter struct {
	Action     string
	EntityType string
	ActorUser  string
	EntityID   string
}

type Service struct {
	DB *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Service {
	return &Service{DB: db}
}

func (s *Service) Record(ctx context.Context, companyID, actorID, action, entityType, entityID, requestID, ip string, before, after any) error {
	var beforeJSON, afterJSON []byte
	if before != nil {
		payload, err := json.Marshal(before)
		if err != nil {
			return err
		}
		beforeJSON = payload
	}
	if after != nil {
		payload, err := json.Marshal(after)
		if err != nil {
			return err
		}
		afterJSON = payload
	}

	_, err := s.DB.Exec(ctx, `
    INSERT INTO audit_events (company_id, actor_user_id, action, entity_type, entity_id, before_json, after_json, request_id, ip)
    VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
  `, nullIfEmpty(companyID), nullIfEmpty(actorID), action, entityType, entityID, beforeJSON, afterJSON, requestID, ip)
	return err
}

func (s *Service) Count(ctx context.Context, companyID string, filter Filter) (int, error) {
	query, args := s.buildBaseQuery("SELECT COUNT(1)", companyID, filter)
	var total int
	if err := s.DB.QueryRow(ctx, query, args...).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Service) List(ctx context.Context, companyID string, filter Filter, includeDetails bool, limit, offset int) ([]Event, error) {
	selectCols := "id, COALESCE(actor_user_id::text, ''), action, entity_type, entity_id, request_id, ip, created_at"
	if includeDetails {
		selectCols += ", before_json, after_json"
	}
	query, args := s.buildBaseQuery("SELECT "+selectCols, companyID, filter)
	limitPos := len(args) + 1
	offsetPos := len(args) + 2
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", limitPos, offsetPos)
	args = append(args, limit, offset)

	rows, err := s.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var evt Event
		if includeDetails {
			if err := rows.Scan(&evt.ID, &evt.ActorID, &evt.Action, &evt.EntityType, &evt.EntityID, &evt.RequestID, &evt.IP, &evt.CreatedAt, &evt.Before, &evt.After); err != nil {
				return nil, err
			}
		} else {
			if err := rows.Scan(&evt.ID, &evt.ActorID, &evt.Action, &evt.EntityType, &evt.EntityID, &evt.RequestID, &evt.IP, &evt.CreatedAt); err != nil {
				return nil, err
			}
		}
		out = append(out, evt)
	}
	return out, rows.Err()
}

// ListExport returns every matching event, oldest first.
func (s *Service) ListExport(ctx context.Context, companyID string, filter Filter) ([]Event, error) {
	query, args := s.buildBaseQuery("SELECT id, COALESCE(actor_user_id::text, ''), action, entity_type, entity_id, request_id, ip, created_at", companyID, filter)
	rows, err := s.DB.Query(ctx, query+" ORDER BY created_at ASC", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var evt Event
		if err := rows.Scan(&evt.ID, &evt.ActorID, &evt.Action, &evt.EntityType, &evt.EntityID, &evt.RequestID, &evt.IP, &evt.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, evt)
	}
	return out, rows.Err()
}

// buildBaseQuery scopes to one company; an empty companyID selects the
// system-level events such as tax configuration changes.
func (s *Service) buildBaseQuery(prefix, companyID string, filter Filter) (string, []any) {
	var args []any
	query := prefix + " FROM audit_events WHERE company_id IS NULL"
	if companyID != "" {
		query = prefix + " FROM audit_events WHERE company_id::text = $1"
		args = append(args, companyID)
	}
	if filter.Action != "" {
		query += fmt.Sprintf(" AND action = $%d", len(args)+1)
		args = append(args, filter.Action)
	}
	if filter.EntityType != "" {
		query += fmt.Sprintf(" AND entity_type = $%d", len(args)+1)
		args = append(args, filter.EntityType)
	}
	if filter.ActorUser != "" {
		query += fmt.Sprintf(" AND actor_user_id::text = $%d", len(args)+1)
		args = append(args, filter.ActorUser)
	}
	if filter.EntityID != "" {
		query += fmt.Sprintf(" AND entity_id = $%d", len(args)+1)
		args = append(args, filter.EntityID)
	}
	return query, args
}

func nullIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}

// Actor identifies who performed a mutation.
type Actor struct {
	UserID    string
	RequestID string
	IP        string
}

// Log records an event and only logs a failure; an audit write never fails
// the mutation it describes.
func Log(ctx context.Context, recorder Recorder, companyID string, actor Actor, action, entityType, entityID string, before, after any) {
	if recorder == nil {
		return
	}
	if err := recorder.Record(ctx, companyID, actor.UserID, action, entityType, entityID, actor.RequestID, actor.IP, before, after); err != nil {
		slog.Warn("audit record failed", "err", err, "entity", entityType, "entityId", entityID)
	}
}
