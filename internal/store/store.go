package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"devforum/internal/models"
)

var ErrNotFound = errors.New("not found")
var ErrConflict = errors.New("conflict")

// ErrLastHolder is returned when a guarded revoke would leave a role with
// no holders.
var ErrLastHolder = errors.New("last holder of role")

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store { return &Store{db: db} }

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateUser inserts an identity together with its unapproved profile.
func (s *Store) CreateUser(ctx context.Context, email, passwordHash, name, username string, confirmed bool) (models.User, models.Profile, error) {
	now := time.Now().UTC()
	u := models.User{ID: uuid.NewString(), Email: normalizeEmail(email), PasswordHash: passwordHash, CreatedAt: now}
	if confirmed {
		u.EmailConfirmedAt = &now
	}
	p := models.Profile{ID: u.ID, Email: u.Email, Name: strings.TrimSpace(name), Username: strings.TrimSpace(username), CreatedAt: now, UpdatedAt: now}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.User{}, models.Profile{}, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO users(id,email,password_hash,email_confirmed_at,created_at) VALUES(?,?,?,?,?)`,
		u.ID, u.Email, u.PasswordHash, nullTime(u.EmailConfirmedAt), u.CreatedAt,
	); err != nil {
		return models.User{}, models.Profile{}, mapConstraint(err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO profiles(id,email,name,username,approved,created_at,updated_at) VALUES(?,?,?,?,0,?,?)`,
		p.ID, p.Email, p.Name, nullString(p.Username), p.CreatedAt, p.UpdatedAt,
	); err != nil {
		return models.User{}, models.Profile{}, mapConstraint(err)
	}
	if err := tx.Commit(); err != nil {
		return models.User{}, models.Profile{}, err
	}
	return u, p, nil
}

// EnsureAdmin creates or resets the bootstrap administrator: confirmed,
// approved and holding the admin role.
func (s *Store) EnsureAdmin(ctx context.Context, email, passwordHash string) error {
	email = normalizeEmail(email)
	if email == "" || passwordHash == "" {
		return nil
	}
	u, err := s.GetUserByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		u, _, err = s.CreateUser(ctx, email, passwordHash, "Administrator", "", true)
	} else if err == nil {
		now := time.Now().UTC()
		_, err = s.db.ExecContext(ctx,
			`UPDATE users SET password_hash=?, email_confirmed_at=COALESCE(email_confirmed_at, ?) WHERE id=?`,
			passwordHash, now, u.ID,
		)
	}
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx,
		`UPDATE profiles SET approved=1, approved_at=COALESCE(approved_at, ?), updated_at=? WHERE id=?`,
		now, now, u.ID,
	); err != nil {
		return err
	}
	return s.GrantRole(ctx, u.ID, models.RoleAdmin)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id,email,password_hash,email_confirmed_at,created_at,last_sign_in_at FROM users WHERE email=?`,
		normalizeEmail(email),
	)
	return scanUser(row)
}

func (s *Store) GetUserByID(ctx context.Context, id string) (models.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id,email,password_hash,email_confirmed_at,created_at,last_sign_in_at FROM users WHERE id=?`,
		id,
	)
	return scanUser(row)
}

func scanUser(row rowScanner) (models.User, error) {
	var u models.User
	var confirmed, lastSignIn sql.NullTime
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &confirmed, &u.CreatedAt, &lastSignIn)
	if err == sql.ErrNoRows {
		return models.User{}, ErrNotFound
	}
	if err != nil {
		return models.User{}, err
	}
	u.EmailConfirmedAt = timePtr(confirmed)
	u.LastSignInAt = timePtr(lastSignIn)
	return u, nil
}

func (s *Store) ConfirmUserEmail(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET email_confirmed_at=COALESCE(email_confirmed_at, ?) WHERE id=?`,
		time.Now().UTC(), userID,
	)
	return err
}

func (s *Store) UpdatePasswordHash(ctx context.Context, userID, passwordHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash=? WHERE id=?`, passwordHash, userID)
	return err
}

func (s *Store) TouchUserLastSignIn(ctx context.Context, userID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET last_sign_in_at=? WHERE id=?`, at, userID)
	return err
}

// DeleteUser removes an identity and everything keyed on it.
func (s *Store) DeleteUser(ctx context.Context, userID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, stmt := range []string{
		`DELETE FROM sessions WHERE user_id=?`,
		`DELETE FROM confirm_tokens WHERE user_id=?`,
		`DELETE FROM user_roles WHERE user_id=?`,
		`DELETE FROM profiles WHERE id=?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, userID); err != nil {
			return err
		}
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id=?`, userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

const profileColumns = `id,email,name,username,approved,approved_at,approved_by,created_at,updated_at`

func scanProfile(row rowScanner) (models.Profile, error) {
	var p models.Profile
	var username, approvedBy sql.NullString
	var approvedAt sql.NullTime
	var approved int
	err := row.Scan(&p.ID, &p.Email, &p.Name, &username, &approved, &approvedAt, &approvedBy, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return models.Profile{}, ErrNotFound
	}
	if err != nil {
		return models.Profile{}, err
	}
	p.Approved = approved == 1
	p.ApprovedAt = timePtr(approvedAt)
	if username.Valid {
		p.Username = username.String
	}
	if approvedBy.Valid {
		v := approvedBy.String
		p.ApprovedBy = &v
	}
	return p, nil
}

func (s *Store) GetProfile(ctx context.Context, id string) (models.Profile, error) {
	return scanProfile(s.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id=?`, id))
}

// ListProfiles filters by status (pending, approved, all) and an email /
// name substring. It also returns the unpaged total.
func (s *Store) ListProfiles(ctx context.Context, q models.ProfileQuery) ([]models.Profile, int, error) {
	where := []string{"1=1"}
	args := []any{}
	switch q.Status {
	case "pending":
		where = append(where, "approved=0")
	case "approved":
		where = append(where, "approved=1")
	}
	if v := strings.TrimSpace(q.Q); v != "" {
		where = append(where, "(email LIKE ? OR name LIKE ? OR username LIKE ?)")
		like := "%" + v + "%"
		args = append(args, like, like, like)
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM profiles WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	order := "ASC"
	if strings.EqualFold(q.Order, "desc") {
		order = "DESC"
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE `+cond+` ORDER BY created_at `+order+` LIMIT ? OFFSET ?`,
		append(args, q.Limit, q.Offset)...,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	out := make([]models.Profile, 0, q.Limit)
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}

// ApproveProfile flips a pending profile to approved. An already approved
// profile yields ErrConflict.
func (s *Store) ApproveProfile(ctx context.Context, id, approver string) (models.Profile, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE profiles SET approved=1, approved_at=?, approved_by=?, updated_at=? WHERE id=? AND approved=0`,
		now, approver, now, id,
	)
	if err != nil {
		return models.Profile{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return models.Profile{}, err
	}
	if n == 0 {
		if _, err := s.GetProfile(ctx, id); err != nil {
			return models.Profile{}, err
		}
		return models.Profile{}, ErrConflict
	}
	return s.GetProfile(ctx, id)
}

func (s *Store) UpdateProfile(ctx context.Context, id, name, username string) (models.Profile, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE profiles SET name=?, username=?, updated_at=? WHERE id=?`,
		strings.TrimSpace(name), nullString(strings.TrimSpace(username)), time.Now().UTC(), id,
	)
	if err != nil {
		return models.Profile{}, mapConstraint(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.Profile{}, ErrNotFound
	}
	return s.GetProfile(ctx, id)
}

func (s *Store) ListRoles(ctx context.Context, userID string) ([]models.RoleAssignment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id,role,created_at FROM user_roles WHERE user_id=? ORDER BY role`, userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []models.RoleAssignment{}
	for rows.Next() {
		var r models.RoleAssignment
		if err := rows.Scan(&r.UserID, &r.Role, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) HasRole(ctx context.Context, userID, role string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM user_roles WHERE user_id=? AND role=?`, userID, role,
	).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// GrantRole is idempotent.
func (s *Store) GrantRole(ctx context.Context, userID, role string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_roles(user_id,role,created_at) VALUES(?,?,?) ON CONFLICT(user_id, role) DO NOTHING`,
		userID, role, time.Now().UTC(),
	)
	return mapConstraint(err)
}

func (s *Store) RevokeRole(ctx context.Context, userID, role string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM user_roles WHERE user_id=? AND role=?`, userID, role)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// RevokeRoleKeepingOne removes a role unless userID is its only holder.
// The holder count and the delete are one statement so concurrent revokes
// cannot both pass the check.
func (s *Store) RevokeRoleKeepingOne(ctx context.Context, userID, role string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM user_roles WHERE user_id=? AND role=? AND (SELECT COUNT(1) FROM user_roles WHERE role=?) > 1`,
		userID, role, role,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	held, err := s.HasRole(ctx, userID, role)
	if err != nil {
		return err
	}
	if held {
		return ErrLastHolder
	}
	return ErrNotFound
}

func (s *Store) CreateSession(ctx context.Context, sess models.Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions(id,user_id,refresh_token_hash,ip_hint,user_agent,created_at,refreshed_at,expires_at) VALUES(?,?,?,?,?,?,?,?)`,
		sess.ID, sess.UserID, sess.RefreshTokenHash, sess.IPHint, sess.UserAgent, sess.CreatedAt, sess.RefreshedAt, sess.ExpiresAt,
	)
	return err
}

const sessionColumns = `id,user_id,refresh_token_hash,ip_hint,user_agent,created_at,refreshed_at,expires_at,revoked_at`

func scanSession(row rowScanner) (models.Session, error) {
	var sess models.Session
	var revoked sql.NullTime
	err := row.Scan(&sess.ID, &sess.UserID, &sess.RefreshTokenHash, &sess.IPHint, &sess.UserAgent, &sess.CreatedAt, &sess.RefreshedAt, &sess.ExpiresAt, &revoked)
	if err == sql.ErrNoRows {
		return models.Session{}, ErrNotFound
	}
	if err != nil {
		return models.Session{}, err
	}
	sess.RevokedAt = timePtr(revoked)
	return sess, nil
}

func (s *Store) GetSessionByID(ctx context.Context, id string) (models.Session, error) {
	return scanSession(s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id=?`, id))
}

func (s *Store) GetSessionByRefreshHash(ctx context.Context, hash string) (models.Session, error) {
	return scanSession(s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE refresh_token_hash=?`, hash))
}

// RotateSession swaps the refresh token hash. It fails with ErrConflict if
// oldHash is no longer current, which is how refresh-token reuse shows up.
func (s *Store) RotateSession(ctx context.Context, id, oldHash, newHash string, expiresAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET refresh_token_hash=?, refreshed_at=?, expires_at=? WHERE id=? AND refresh_token_hash=? AND revoked_at IS NULL`,
		newHash, time.Now().UTC(), expiresAt, id, oldHash,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

func (s *Store) RevokeSession(ctx context.Context, id string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET revoked_at=? WHERE id=? AND revoked_at IS NULL`, now, id)
	return err
}

func (s *Store) RevokeUserSessions(ctx context.Context, userID string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET revoked_at=? WHERE user_id=? AND revoked_at IS NULL`, now, userID)
	return err
}

func (s *Store) CreateConfirmToken(ctx context.Context, userID, tokenHash string, expiresAt time.Time) (models.ConfirmToken, error) {
	t := models.ConfirmToken{ID: uuid.NewString(), UserID: userID, TokenHash: tokenHash, ExpiresAt: expiresAt, CreatedAt: time.Now().UTC()}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO confirm_tokens(id,user_id,token_hash,expires_at,created_at) VALUES(?,?,?,?,?)`,
		t.ID, t.UserID, t.TokenHash, t.ExpiresAt, t.CreatedAt,
	)
	return t, err
}

// ConsumeConfirmToken marks a live token used. Used or expired tokens are
// reported as ErrNotFound.
func (s *Store) ConsumeConfirmToken(ctx context.Context, tokenHash string) (models.ConfirmToken, error) {
	var t models.ConfirmToken
	var used sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id,user_id,token_hash,expires_at,used_at,created_at FROM confirm_tokens WHERE token_hash=?`, tokenHash,
	).Scan(&t.ID, &t.UserID, &t.TokenHash, &t.ExpiresAt, &used, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return models.ConfirmToken{}, ErrNotFound
	}
	if err != nil {
		return models.ConfirmToken{}, err
	}
	t.UsedAt = timePtr(used)
	if t.UsedAt != nil || time.Now().UTC().After(t.ExpiresAt) {
		return models.ConfirmToken{}, ErrNotFound
	}
	res, err := s.db.ExecContext(ctx, `UPDATE confirm_tokens SET used_at=? WHERE id=? AND used_at IS NULL`, time.Now().UTC(), t.ID)
	if err != nil {
		return models.ConfirmToken{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ConfirmToken{}, ErrNotFound
	}
	return t, nil
}

func (s *Store) InsertAudit(ctx context.Context, actorID, action, target, metadata string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO admin_audit_log(id,actor_user_id,action,target,metadata_json,created_at) VALUES(?,?,?,?,?,?)`,
		uuid.NewString(), actorID, action, target, metadata, time.Now().UTC(),
	)
	return err
}

func (s *Store) ListAudit(ctx context.Context, q models.AuditQuery) ([]models.AuditEntry, error) {
	where := []string{"1=1"}
	args := []any{}
	if q.Action != "" {
		where = append(where, "a.action=?")
		args = append(args, q.Action)
	}
	if q.Actor != "" {
		where = append(where, "a.actor_user_id=?")
		args = append(args, q.Actor)
	}
	if q.Target != "" {
		where = append(where, "a.target=?")
		args = append(args, q.Target)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT a.id,a.actor_user_id,COALESCE(u.email,''),a.action,a.target,a.metadata_json,a.created_at
		 FROM admin_audit_log a LEFT JOIN users u ON u.id=a.actor_user_id
		 WHERE `+strings.Join(where, " AND ")+` ORDER BY a.created_at DESC LIMIT ? OFFSET ?`,
		append(args, q.Limit, q.Offset)...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]models.AuditEntry, 0, q.Limit)
	for rows.Next() {
		var e models.AuditEntry
		if err := rows.Scan(&e.ID, &e.ActorUserID, &e.ActorEmail, &e.Action, &e.Target, &e.MetadataJSON, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func timePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}

func mapConstraint(err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(strings.ToLower(err.Error()), "unique constraint") {
		return ErrConflict
	}
	return err
}
