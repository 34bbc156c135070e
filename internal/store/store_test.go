package store

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"devforum/internal/db"
	"devforum/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	sqdb, err := db.OpenSQLite(filepath.Join(t.TempDir(), "store.db"), 1, 1, time.Minute)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = sqdb.Close() })
	if err := db.Migrate(sqdb, nil); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return New(sqdb)
}

func TestCreateUserCreatesPendingProfile(t *testing.T) {
	st := newTestStore(t)
	ctx := t.Context()

	u, p, err := st.CreateUser(ctx, " Alice@Example.com ", "hash", "Alice", "alice", false)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if u.Email != "alice@example.com" || u.EmailConfirmedAt != nil {
		t.Fatalf("unexpected user: %+v", u)
	}
	if p.Approved || p.ID != u.ID {
		t.Fatalf("unexpected profile: %+v", p)
	}

	got, err := st.GetProfile(ctx, u.ID)
	if err != nil {
		t.Fatalf("get profile: %v", err)
	}
	if got.Username != "alice" || got.Approved {
		t.Fatalf("stored profile mismatch: %+v", got)
	}

	if _, _, err := st.CreateUser(ctx, "alice@example.com", "hash", "", "", false); !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate email: expected ErrConflict, got %v", err)
	}
	if _, _, err := st.CreateUser(ctx, "other@example.com", "hash", "", "alice", false); !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate username: expected ErrConflict, got %v", err)
	}
}

func TestApproveProfile(t *testing.T) {
	st := newTestStore(t)
	ctx := t.Context()
	u, _, err := st.CreateUser(ctx, "bob@example.com", "hash", "Bob", "", false)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	p, err := st.ApproveProfile(ctx, u.ID, "admin-1")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if !p.Approved || p.ApprovedAt == nil || p.ApprovedBy == nil || *p.ApprovedBy != "admin-1" {
		t.Fatalf("unexpected approved profile: %+v", p)
	}
	if _, err := st.ApproveProfile(ctx, u.ID, "admin-1"); !errors.Is(err, ErrConflict) {
		t.Fatalf("second approve: expected ErrConflict, got %v", err)
	}
	if _, err := st.ApproveProfile(ctx, "missing", "admin-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing profile: expected ErrNotFound, got %v", err)
	}
}

func TestListProfilesFilters(t *testing.T) {
	st := newTestStore(t)
	ctx := t.Context()
	a, _, _ := st.CreateUser(ctx, "a@example.com", "h", "Ann", "", false)
	if _, _, err := st.CreateUser(ctx, "b@example.com", "h", "Ben", "", false); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := st.ApproveProfile(ctx, a.ID, "x"); err != nil {
		t.Fatalf("approve: %v", err)
	}

	pending, total, err := st.ListProfiles(ctx, models.ProfileQuery{Status: "pending", Limit: 10})
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if total != 1 || len(pending) != 1 || pending[0].Email != "b@example.com" {
		t.Fatalf("unexpected pending list: total=%d %+v", total, pending)
	}
	all, total, err := st.ListProfiles(ctx, models.ProfileQuery{Status: "all", Q: "ann", Limit: 10})
	if err != nil {
		t.Fatalf("list search: %v", err)
	}
	if total != 1 || all[0].ID != a.ID {
		t.Fatalf("unexpected search result: %+v", all)
	}
}

func TestDeleteUserRemovesEverything(t *testing.T) {
	st := newTestStore(t)
	ctx := t.Context()
	u, _, _ := st.CreateUser(ctx, "c@example.com", "h", "", "", false)
	now := time.Now().UTC()
	if err := st.CreateSession(ctx, models.Session{ID: "s1", UserID: u.ID, RefreshTokenHash: "rh", CreatedAt: now, RefreshedAt: now, ExpiresAt: now.Add(time.Hour)}); err != nil {
		t.Fatalf("create session: %v", err)
	}
	if err := st.GrantRole(ctx, u.ID, "moderator"); err != nil {
		t.Fatalf("grant: %v", err)
	}

	if err := st.DeleteUser(ctx, u.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := st.GetUserByID(ctx, u.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("user still present: %v", err)
	}
	if _, err := st.GetProfile(ctx, u.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("profile still present: %v", err)
	}
	if _, err := st.GetSessionByID(ctx, "s1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("session still present: %v", err)
	}
	if err := st.DeleteUser(ctx, u.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete: %v", err)
	}
}

func TestRolesGrantRevoke(t *testing.T) {
	st := newTestStore(t)
	ctx := t.Context()
	u, _, _ := st.CreateUser(ctx, "d@example.com", "h", "", "", false)

	for i := 0; i < 2; i++ {
		if err := st.GrantRole(ctx, u.ID, models.RoleAdmin); err != nil {
			t.Fatalf("grant %d: %v", i, err)
		}
	}
	roles, err := st.ListRoles(ctx, u.ID)
	if err != nil || len(roles) != 1 || roles[0].Role != models.RoleAdmin {
		t.Fatalf("roles = %+v, err=%v", roles, err)
	}
	if err := st.RevokeRole(ctx, u.ID, models.RoleAdmin); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if err := st.RevokeRole(ctx, u.ID, models.RoleAdmin); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second revoke: %v", err)
	}
}

func TestRevokeRoleKeepsLastHolder(t *testing.T) {
	st := newTestStore(t)
	ctx := t.Context()
	a, _, _ := st.CreateUser(ctx, "a@example.com", "h", "", "", false)
	b, _, _ := st.CreateUser(ctx, "b@example.com", "h", "", "", false)
	c, _, _ := st.CreateUser(ctx, "c@example.com", "h", "", "", false)
	for _, id := range []string{a.ID, b.ID} {
		if err := st.GrantRole(ctx, id, models.RoleAdmin); err != nil {
			t.Fatalf("grant: %v", err)
		}
	}

	if err := st.RevokeRoleKeepingOne(ctx, c.ID, models.RoleAdmin); !errors.Is(err, ErrNotFound) {
		t.Fatalf("revoke unheld role: expected ErrNotFound, got %v", err)
	}
	if err := st.RevokeRoleKeepingOne(ctx, a.ID, models.RoleAdmin); err != nil {
		t.Fatalf("revoke with another holder: %v", err)
	}
	if err := st.RevokeRoleKeepingOne(ctx, b.ID, models.RoleAdmin); !errors.Is(err, ErrLastHolder) {
		t.Fatalf("revoke last holder: expected ErrLastHolder, got %v", err)
	}
	if held, err := st.HasRole(ctx, b.ID, models.RoleAdmin); err != nil || !held {
		t.Fatalf("last holder lost the role: held=%t err=%v", held, err)
	}
}

func TestConcurrentRevokesLeaveOneHolder(t *testing.T) {
	st := newTestStore(t)
	ctx := t.Context()
	a, _, _ := st.CreateUser(ctx, "a@example.com", "h", "", "", false)
	b, _, _ := st.CreateUser(ctx, "b@example.com", "h", "", "", false)
	ids := []string{a.ID, b.ID}
	for _, id := range ids {
		if err := st.GrantRole(ctx, id, models.RoleAdmin); err != nil {
			t.Fatalf("grant: %v", err)
		}
	}

	errs := make(chan error, len(ids))
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- st.RevokeRoleKeepingOne(ctx, id, models.RoleAdmin)
		}()
	}
	wg.Wait()
	close(errs)

	var ok, refused int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrLastHolder):
			refused++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || refused != 1 {
		t.Fatalf("ok=%d refused=%d, want one of each", ok, refused)
	}
	holders := 0
	for _, id := range ids {
		if held, _ := st.HasRole(ctx, id, models.RoleAdmin); held {
			holders++
		}
	}
	if holders != 1 {
		t.Fatalf("holders = %d, want 1", holders)
	}
}

func TestEnsureAdmin(t *testing.T) {
	st := newTestStore(t)
	ctx := t.Context()
	if err := st.EnsureAdmin(ctx, "root@example.com", "h1"); err != nil {
		t.Fatalf("ensure admin: %v", err)
	}
	if err := st.EnsureAdmin(ctx, "ROOT@example.com", "h2"); err != nil {
		t.Fatalf("ensure admin again: %v", err)
	}
	u, err := st.GetUserByEmail(ctx, "root@example.com")
	if err != nil {
		t.Fatalf("get admin: %v", err)
	}
	if u.PasswordHash != "h2" || u.EmailConfirmedAt == nil {
		t.Fatalf("admin not reset: %+v", u)
	}
	if ok, _ := st.HasRole(ctx, u.ID, models.RoleAdmin); !ok {
		t.Fatalf("admin role missing")
	}
	p, _ := st.GetProfile(ctx, u.ID)
	if !p.Approved {
		t.Fatalf("admin profile not approved")
	}
}

func TestRotateSessionDetectsReuse(t *testing.T) {
	st := newTestStore(t)
	ctx := t.Context()
	u, _, _ := st.CreateUser(ctx, "e@example.com", "h", "", "", false)
	now := time.Now().UTC()
	if err := st.CreateSession(ctx, models.Session{ID: "s1", UserID: u.ID, RefreshTokenHash: "old", CreatedAt: now, RefreshedAt: now, ExpiresAt: now.Add(time.Hour)}); err != nil {
		t.Fatalf("create session: %v", err)
	}
	if err := st.RotateSession(ctx, "s1", "old", "new", now.Add(2*time.Hour)); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if err := st.RotateSession(ctx, "s1", "old", "newer", now.Add(2*time.Hour)); !errors.Is(err, ErrConflict) {
		t.Fatalf("reuse: expected ErrConflict, got %v", err)
	}
	sess, err := st.GetSessionByRefreshHash(ctx, "new")
	if err != nil || sess.ID != "s1" {
		t.Fatalf("lookup rotated: %+v %v", sess, err)
	}
	if err := st.RevokeSession(ctx, "s1"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if err := st.RotateSession(ctx, "s1", "new", "x", now); !errors.Is(err, ErrConflict) {
		t.Fatalf("rotate revoked: expected ErrConflict, got %v", err)
	}
}

func TestConsumeConfirmToken(t *testing.T) {
	st := newTestStore(t)
	ctx := t.Context()
	u, _, _ := st.CreateUser(ctx, "f@example.com", "h", "", "", false)
	if _, err := st.CreateConfirmToken(ctx, u.ID, "live", time.Now().UTC().Add(time.Hour)); err != nil {
		t.Fatalf("create token: %v", err)
	}
	if _, err := st.CreateConfirmToken(ctx, u.ID, "stale", time.Now().UTC().Add(-time.Hour)); err != nil {
		t.Fatalf("create token: %v", err)
	}
	tok, err := st.ConsumeConfirmToken(ctx, "live")
	if err != nil || tok.UserID != u.ID {
		t.Fatalf("consume: %+v %v", tok, err)
	}
	if _, err := st.ConsumeConfirmToken(ctx, "live"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("reuse: %v", err)
	}
	if _, err := st.ConsumeConfirmToken(ctx, "stale"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expired: %v", err)
	}
}

func TestAuditRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := t.Context()
	if err := st.InsertAudit(ctx, "a1", "profile.approve", "u1", `{"x":1}`); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := st.InsertAudit(ctx, "a1", "role.grant", "u2", `{}`); err != nil {
		t.Fatalf("insert: %v", err)
	}
	items, err := st.ListAudit(ctx, models.AuditQuery{Action: "role.grant", Limit: 10})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 1 || items[0].Target != "u2" {
		t.Fatalf("unexpected audit: %+v", items)
	}
}

func TestForumPostsCommentsTags(t *testing.T) {
	st := newTestStore(t)
	ctx := t.Context()
	u, _, _ := st.CreateUser(ctx, "g@example.com", "h", "Gus", "", false)
	cat, err := st.GetCategoryBySlug(ctx, "help")
	if err != nil {
		t.Fatalf("category: %v", err)
	}

	p, err := st.CreatePost(ctx, u.ID, &cat.ID, "Go generics", "How do constraints work?", []string{"go", "generics"})
	if err != nil {
		t.Fatalf("create post: %v", err)
	}
	if _, err := st.CreatePost(ctx, u.ID, nil, "Rust", "borrowck", []string{"rust"}); err != nil {
		t.Fatalf("create post: %v", err)
	}
	if _, err := st.CreateComment(ctx, p.ID, u.ID, "Use type sets."); err != nil {
		t.Fatalf("comment: %v", err)
	}
	if _, err := st.CreateComment(ctx, "missing", u.ID, "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("comment on missing post: %v", err)
	}

	got, err := st.GetPost(ctx, p.ID)
	if err != nil {
		t.Fatalf("get post: %v", err)
	}
	if got.CommentCount != 1 || len(got.Tags) != 2 || got.AuthorName != "Gus" {
		t.Fatalf("unexpected post: %+v", got)
	}

	byTag, err := st.ListPosts(ctx, models.PostQuery{Tag: "go", Limit: 10})
	if err != nil || len(byTag) != 1 || byTag[0].ID != p.ID {
		t.Fatalf("list by tag: %+v %v", byTag, err)
	}
	byCat, err := st.ListPosts(ctx, models.PostQuery{Category: "help", Limit: 10})
	if err != nil || len(byCat) != 1 {
		t.Fatalf("list by category: %+v %v", byCat, err)
	}

	tags, err := st.ListTags(ctx, 10)
	if err != nil || len(tags) != 3 {
		t.Fatalf("tags: %+v %v", tags, err)
	}

	if err := st.DeletePost(ctx, p.ID); err != nil {
		t.Fatalf("delete post: %v", err)
	}
	comments, err := st.ListComments(ctx, p.ID, 10, 0)
	if err != nil || len(comments) != 0 {
		t.Fatalf("comments should cascade: %+v %v", comments, err)
	}
}

func TestInterviewQuestions(t *testing.T) {
	st := newTestStore(t)
	ctx := t.Context()
	u, _, _ := st.CreateUser(ctx, "h@example.com", "h", "", "", false)
	if _, err := st.CreateQuestion(ctx, models.InterviewQuestion{AuthorID: u.ID, Company: "Acme", Role: "SRE", Question: "Explain SLOs"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := st.CreateQuestion(ctx, models.InterviewQuestion{AuthorID: u.ID, Company: "Globex", Question: "Reverse a list"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	items, err := st.ListQuestions(ctx, models.QuestionQuery{Company: "acme", Limit: 10})
	if err != nil || len(items) != 1 || items[0].Role != "SRE" {
		t.Fatalf("list: %+v %v", items, err)
	}
}
