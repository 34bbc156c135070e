package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"devforum/internal/metrics"
	"devforum/internal/models"
	"devforum/internal/store"
)

// AuditView is an audit row with a human readable summary.
type AuditView struct {
	models.AuditEntry
	Event    string `json:"event"`
	Summary  string `json:"summary"`
	Severity string `json:"severity"`
}

func (s *Service) ListProfiles(ctx context.Context, q models.ProfileQuery) ([]models.Profile, int, error) {
	switch q.Status {
	case "", "pending":
		q.Status = "pending"
	case "approved", "all":
	default:
		return nil, 0, invalid("status", "must be pending, approved or all")
	}
	return s.st.ListProfiles(ctx, q)
}

// ApproveProfile marks a pending member approved and mirrors them into the
// member directory. The directory write happens first so a failure leaves
// the profile pending and the action can be retried.
func (s *Service) ApproveProfile(ctx context.Context, adminID, userID string) (models.Profile, error) {
	p, err := s.st.GetProfile(ctx, userID)
	if err != nil {
		return models.Profile{}, err
	}
	if p.Approved {
		return models.Profile{}, store.ErrConflict
	}
	if err := s.dir.UpsertMember(ctx, p.Email, displayName(p)); err != nil {
		return models.Profile{}, fmt.Errorf("member directory: %w", err)
	}
	p, err = s.st.ApproveProfile(ctx, userID, adminID)
	if err != nil {
		return models.Profile{}, err
	}
	if err := s.sender.SendApproved(ctx, p.Email, p.Name); err != nil {
		s.log.Warn("approval notice failed", "user_id", userID, "error", err)
	}
	s.audit(ctx, adminID, "profile.approve", userID, map[string]string{"email": p.Email})
	metrics.AdminActionsTotal.WithLabelValues("approve").Inc()
	return p, nil
}

// RejectProfile deletes a pending registration together with its identity.
// Administrators must be demoted before they can be removed.
func (s *Service) RejectProfile(ctx context.Context, adminID, userID, reason string) error {
	if adminID == userID {
		return ErrForbidden
	}
	p, err := s.st.GetProfile(ctx, userID)
	if err != nil {
		return err
	}
	isAdmin, err := s.st.HasRole(ctx, userID, models.RoleAdmin)
	if err != nil {
		return err
	}
	if isAdmin {
		return ErrForbidden
	}
	if err := s.st.DeleteUser(ctx, userID); err != nil {
		return err
	}
	s.admin.Invalidate(userID)
	if err := s.dir.DisableMember(ctx, p.Email); err != nil {
		s.log.Warn("member directory disable failed", "user_id", userID, "error", err)
	}
	if err := s.sender.SendRejected(ctx, p.Email); err != nil {
		s.log.Warn("rejection notice failed", "user_id", userID, "error", err)
	}
	s.audit(ctx, adminID, "profile.reject", userID, map[string]string{"email": p.Email, "reason": strings.TrimSpace(reason)})
	metrics.AdminActionsTotal.WithLabelValues("reject").Inc()
	return nil
}

// GrantRole assigns a role. Granting a held role is a no-op.
func (s *Service) GrantRole(ctx context.Context, adminID, userID, role string) error {
	role, err := normalizeRole(role)
	if err != nil {
		return err
	}
	if _, err := s.st.GetUserByID(ctx, userID); err != nil {
		return err
	}
	if err := s.st.GrantRole(ctx, userID, role); err != nil {
		return err
	}
	s.admin.Invalidate(userID)
	s.audit(ctx, adminID, "role.grant", userID, map[string]string{"role": role})
	metrics.AdminActionsTotal.WithLabelValues("grant").Inc()
	return nil
}

// RevokeRole removes a role, refusing to remove the last administrator.
func (s *Service) RevokeRole(ctx context.Context, adminID, userID, role string) error {
	role, err := normalizeRole(role)
	if err != nil {
		return err
	}
	if role == models.RoleAdmin {
		err = s.st.RevokeRoleKeepingOne(ctx, userID, role)
		if errors.Is(err, store.ErrLastHolder) {
			return ErrLastAdmin
		}
	} else {
		err = s.st.RevokeRole(ctx, userID, role)
	}
	if err != nil {
		return err
	}
	s.admin.Invalidate(userID)
	s.audit(ctx, adminID, "role.revoke", userID, map[string]string{"role": role})
	metrics.AdminActionsTotal.WithLabelValues("revoke").Inc()
	return nil
}

func (s *Service) ListAudit(ctx context.Context, q models.AuditQuery) ([]AuditView, error) {
	rows, err := s.st.ListAudit(ctx, q)
	if err != nil {
		return nil, err
	}
	out := make([]AuditView, 0, len(rows))
	for _, e := range rows {
		event, summary, severity := describeAudit(e)
		out = append(out, AuditView{AuditEntry: e, Event: event, Summary: summary, Severity: severity})
	}
	return out, nil
}

func (s *Service) audit(ctx context.Context, actorID, action, target string, meta map[string]string) {
	raw, _ := json.Marshal(meta)
	if err := s.st.InsertAudit(ctx, actorID, action, target, string(raw)); err != nil {
		s.log.Error("audit insert failed", "action", action, "target", target, "error", err)
	}
}

func describeAudit(e models.AuditEntry) (event, summary, severity string) {
	meta := parseAuditMetadata(e.MetadataJSON)
	target := strings.TrimSpace(meta["email"])
	if target == "" {
		target = strings.TrimSpace(e.Target)
	}
	if target == "" {
		target = "(n/a)"
	}
	switch e.Action {
	case "profile.approve":
		return "profile.approved", fmt.Sprintf("Member approved: %s.", target), "ok"
	case "profile.reject":
		if reason := strings.TrimSpace(meta["reason"]); reason != "" {
			return "profile.rejected", fmt.Sprintf("Registration rejected for %s (%s).", target, reason), "warning"
		}
		return "profile.rejected", fmt.Sprintf("Registration rejected for %s.", target), "warning"
	case "role.grant":
		return "role.granted", fmt.Sprintf("Role %s granted to %s.", meta["role"], target), "info"
	case "role.revoke":
		return "role.revoked", fmt.Sprintf("Role %s revoked from %s.", meta["role"], target), "warning"
	case "content.delete":
		return "content.deleted", fmt.Sprintf("Moderator removed %s %s.", meta["kind"], target), "warning"
	default:
		return "audit.event", fmt.Sprintf("Audit event %s on %s.", e.Action, target), "info"
	}
}

func parseAuditMetadata(raw string) map[string]string {
	out := map[string]string{}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return out
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return out
	}
	for key, value := range decoded {
		switch typed := value.(type) {
		case string:
			out[key] = typed
		case float64:
			out[key] = fmt.Sprintf("%.0f", typed)
		default:
			out[key] = fmt.Sprintf("%v", typed)
		}
	}
	return out
}

func normalizeRole(role string) (string, error) {
	role = strings.ToLower(strings.TrimSpace(role))
	if role == "" {
		return "", invalid("role", "is required")
	}
	if role != models.RoleAdmin && role != models.RoleModerator {
		return "", invalid("role", "must be admin or moderator")
	}
	return role, nil
}

func displayName(p models.Profile) string {
	if p.Name != "" {
		return p.Name
	}
	if p.Username != "" {
		return p.Username
	}
	return p.Email
}
