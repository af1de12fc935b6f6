package api

import (
	"context"
	"encoding/json"
	"net"
	"strings"
	"time"

	"passport/cmd/identity/ids"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// Audit actions.
const (
	auditChallengeCreated = "auth.challenge.created"
	auditFactorFailed     = "auth.factor.failed"
	auditFactorVerified   = "auth.factor.verified"
	auditSessionCreated   = "auth.session.created"
	auditLogout           = "auth.logout"
	auditAPIKeyCreated    = "auth.apikey.created"
	auditAPIKeyRotated    = "auth.apikey.rotated"
	auditAPIKeyRevoked    = "auth.apikey.revoked"
	auditSudoGranted      = "auth.sudo.granted"
)

// Execer runs a statement. *pgxpool.Pool satisfies it.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type auditEntry struct {
	action    string
	accountID *uuid.UUID
	sessionID *uuid.UUID
	ip        net.IP
	userAgent string
	meta      map[string]any
}

func (h *Handler) insertAudit(ctx context.Context, now time.Time, e auditEntry) {
	if h == nil || h.audit == nil {
		return
	}

	action := strings.TrimSpace(e.action)
	if action == "" {
		return
	}

	id, err := ids.NewULID(now)
	if err != nil {
		h.log.Error("auth.audit.id.fail", "err", err, "action", action)
		return
	}

	var ipVal any
	if e.ip != nil {
		ipVal = e.ip.String()
	}

	var metaVal *string
	if len(e.meta) > 0 {
		if b, err := json.Marshal(e.meta); err == nil {
			s := string(b)
			metaVal = &s
		}
	}

	_, err = h.audit.Exec(ctx, `
		INSERT INTO passport.audit_log (
			id, account_id, session_id, action, created_at, ip, user_agent, meta
		) VALUES ($1, $2::uuid, $3::uuid, $4, $5, $6::inet, $7, $8::jsonb)
	`, id, uuidOrNil(e.accountID), uuidOrNil(e.sessionID), action, now, ipVal, trimOrNil(e.userAgent), metaVal)
	if err != nil {
		h.log.Error("auth.audit.insert.fail", "err", err, "action", action)
	}
}

func uuidOrNil(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return id.String()
}

func trimOrNil(s string) any {
	v := strings.TrimSpace(s)
	if v == "" {
		return nil
	}
	return v
}
