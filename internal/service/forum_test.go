package service

import (
	"errors"
	"testing"

	"devforum/internal/models"
	"devforum/internal/store"
)

func TestPageClamps(t *testing.T) {
	cases := []struct{ limit, offset, wantLimit, wantOffset int }{
		{0, 0, 20, 0},
		{-5, -1, 20, 0},
		{500, 10, 100, 10},
		{15, 3, 15, 3},
	}
	for _, tc := range cases {
		l, o := Page(tc.limit, tc.offset)
		if l != tc.wantLimit || o != tc.wantOffset {
			t.Fatalf("Page(%d,%d) = %d,%d", tc.limit, tc.offset, l, o)
		}
	}
}

func TestCreatePostValidation(t *testing.T) {
	f := newFixture(t)
	author := Principal{UserID: f.signUp(t, "w@example.com").User.ID}
	cases := []struct {
		name  string
		in    PostInput
		field string
	}{
		{"short title", PostInput{Title: "hi", Body: "body"}, "title"},
		{"empty body", PostInput{Title: "A title", Body: "   "}, "body"},
		{"bad tag", PostInput{Title: "A title", Body: "b", Tags: []string{"no spaces allowed"}}, "tags"},
		{"too many tags", PostInput{Title: "A title", Body: "b", Tags: []string{"a", "b", "c", "d", "e", "f"}}, "tags"},
		{"unknown category", PostInput{Title: "A title", Body: "b", Category: "nope"}, "category"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.CreatePost(t.Context(), author, tc.in)
			var verr *ValidationError
			if !errors.As(err, &verr) || verr.Field != tc.field {
				t.Fatalf("expected validation error on %s, got %v", tc.field, err)
			}
		})
	}
}

func TestPostLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	author := Principal{UserID: f.signUp(t, "w@example.com").User.ID}
	other := Principal{UserID: f.signUp(t, "o@example.com").User.ID}
	admin := Principal{UserID: f.admin(t, "boss@example.com")}

	p, err := f.svc.CreatePost(ctx, author, PostInput{
		Category: "help",
		Title:    "Goroutine leak in worker pool",
		Body:     "How do I find it?",
		Tags:     []string{"Go", "go", " concurrency "},
	})
	if err != nil {
		t.Fatalf("create post: %v", err)
	}
	if len(p.Tags) != 2 || p.CategoryID == nil {
		t.Fatalf("unexpected post: %+v", p)
	}

	posts, err := f.svc.ListPosts(ctx, models.PostQuery{Tag: "GO"})
	if err != nil || len(posts) != 1 {
		t.Fatalf("list by tag: %d posts, err=%v", len(posts), err)
	}

	c, err := f.svc.CreateComment(ctx, other, p.ID, "Use pprof goroutine profiles.")
	if err != nil {
		t.Fatalf("comment: %v", err)
	}
	if _, err := f.svc.CreateComment(ctx, other, "missing", "x"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("comment on missing post: expected ErrNotFound, got %v", err)
	}
	comments, err := f.svc.ListComments(ctx, p.ID, 0, 0)
	if err != nil || len(comments) != 1 {
		t.Fatalf("list comments: %d, err=%v", len(comments), err)
	}

	if err := f.svc.DeleteComment(ctx, author, c.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("foreign comment delete: expected ErrForbidden, got %v", err)
	}
	if err := f.svc.DeleteComment(ctx, other, c.ID); err != nil {
		t.Fatalf("own comment delete: %v", err)
	}

	if err := f.svc.DeletePost(ctx, other, p.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("foreign post delete: expected ErrForbidden, got %v", err)
	}
	if err := f.svc.DeletePost(ctx, admin, p.ID); err != nil {
		t.Fatalf("admin delete: %v", err)
	}
	audit, err := f.svc.ListAudit(ctx, models.AuditQuery{Action: "content.delete", Limit: 5})
	if err != nil || len(audit) != 1 || audit[0].Event != "content.deleted" {
		t.Fatalf("moderation audit = %+v, err=%v", audit, err)
	}
}

func TestModeratorMayDeleteContent(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	adminID := f.admin(t, "boss@example.com")
	author := Principal{UserID: f.signUp(t, "w@example.com").User.ID}
	mod := Principal{UserID: f.signUp(t, "mod@example.com").User.ID}

	first, err := f.svc.CreatePost(ctx, author, PostInput{Category: "help", Title: "First", Body: "body"})
	if err != nil {
		t.Fatalf("create post: %v", err)
	}
	second, err := f.svc.CreatePost(ctx, author, PostInput{Category: "help", Title: "Second", Body: "body"})
	if err != nil {
		t.Fatalf("create post: %v", err)
	}

	if err := f.svc.DeletePost(ctx, mod, first.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("delete before grant: expected ErrForbidden, got %v", err)
	}
	if err := f.svc.GrantRole(ctx, adminID, mod.UserID, models.RoleModerator); err != nil {
		t.Fatalf("grant moderator: %v", err)
	}
	if f.svc.IsAdmin(ctx, mod.UserID) {
		t.Fatalf("moderator must not be admin")
	}
	if err := f.svc.DeletePost(ctx, mod, first.ID); err != nil {
		t.Fatalf("moderator delete: %v", err)
	}
	audit, err := f.svc.ListAudit(ctx, models.AuditQuery{Action: "content.delete", Limit: 5})
	if err != nil || len(audit) != 1 || audit[0].ActorUserID != mod.UserID {
		t.Fatalf("moderation audit = %+v, err=%v", audit, err)
	}

	if err := f.svc.RevokeRole(ctx, adminID, mod.UserID, models.RoleModerator); err != nil {
		t.Fatalf("revoke moderator: %v", err)
	}
	if err := f.svc.DeletePost(ctx, mod, second.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("delete after revoke: expected ErrForbidden, got %v", err)
	}
}

func TestQuestions(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	author := Principal{UserID: f.signUp(t, "q@example.com").User.ID}

	if _, err := f.svc.CreateQuestion(ctx, author, QuestionInput{Question: "Explain channels"}); err == nil {
		t.Fatalf("expected missing company to be rejected")
	}
	q, err := f.svc.CreateQuestion(ctx, author, QuestionInput{Company: "Acme", Role: "Backend", Question: "Explain channels"})
	if err != nil {
		t.Fatalf("create question: %v", err)
	}
	list, err := f.svc.ListQuestions(ctx, models.QuestionQuery{Company: "Acme"})
	if err != nil || len(list) != 1 {
		t.Fatalf("list questions: %d, err=%v", len(list), err)
	}
	if err := f.svc.DeleteQuestion(ctx, author, q.ID); err != nil {
		t.Fatalf("delete question: %v", err)
	}
	if err := f.svc.DeleteQuestion(ctx, author, q.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("second delete: expected ErrNotFound, got %v", err)
	}
}
