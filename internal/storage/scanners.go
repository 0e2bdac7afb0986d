package storage

import (
	"database/sql"
	"fmt"

	"github.com/ernie/whitelister/internal/domain"
	"github.com/google/uuid"
)

// scanner is satisfied by both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

func scanNullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// scanMember reads one row of
// (space, username, uuid, xuid, requested_by, approved_at)
func scanMember(s scanner) (*domain.MemberRecord, error) {
	var space, username, requestedBy, approvedAt string
	var id, xuid sql.NullString
	if err := s.Scan(&space, &username, &id, &xuid, &requestedBy, &approvedAt); err != nil {
		return nil, fmt.Errorf("scanning member: %w", err)
	}

	ts, err := parseTimestamp(approvedAt)
	if err != nil {
		return nil, fmt.Errorf("member %s: bad approved_at %q: %w", username, approvedAt, err)
	}

	switch domain.Space(space) {
	case domain.SpaceBedrock:
		rec := domain.NewBedrockRecord(username, scanNullStringValue(xuid), requestedBy, ts)
		return &rec, nil
	case domain.SpaceJava:
		parsed := uuid.Nil
		if raw := scanNullStringValue(id); raw != "" {
			parsed, err = uuid.Parse(raw)
			if err != nil {
				return nil, fmt.Errorf("member %s: bad uuid: %w", username, err)
			}
		}
		rec := domain.NewJavaRecord(username, parsed, requestedBy, ts)
		return &rec, nil
	default:
		return nil, fmt.Errorf("member %s: unknown space %q", username, space)
	}
}
