package service

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"

	"devforum/internal/models"
	"devforum/internal/store"
)

const (
	maxTitleLen    = 200
	maxBodyLen     = 20000
	maxCommentLen  = 5000
	maxTagsPerPost = 5
	maxPageSize    = 100
	defaultPage    = 20
)

var tagRx = regexp.MustCompile(`^[a-z0-9][a-z0-9+#.-]{0,31}$`)

type PostInput struct {
	Category string
	Title    string
	Body     string
	Tags     []string
}

type QuestionInput struct {
	Company  string
	Role     string
	Question string
	Answer   string
}

// Page clamps a limit/offset pair.
func Page(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPage
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func (s *Service) ListCategories(ctx context.Context) ([]models.Category, error) {
	return s.st.ListCategories(ctx)
}

func (s *Service) ListPosts(ctx context.Context, q models.PostQuery) ([]models.Post, error) {
	q.Limit, q.Offset = Page(q.Limit, q.Offset)
	q.Tag = strings.ToLower(strings.TrimSpace(q.Tag))
	return s.st.ListPosts(ctx, q)
}

func (s *Service) GetPost(ctx context.Context, id string) (models.Post, error) {
	return s.st.GetPost(ctx, id)
}

func (s *Service) CreatePost(ctx context.Context, actor Principal, in PostInput) (models.Post, error) {
	title := strings.TrimSpace(in.Title)
	if n := utf8.RuneCountInString(title); n < 3 || n > maxTitleLen {
		return models.Post{}, invalid("title", "must be 3-200 characters")
	}
	body := strings.TrimSpace(in.Body)
	if body == "" || utf8.RuneCountInString(body) > maxBodyLen {
		return models.Post{}, invalid("body", "must be 1-20000 characters")
	}
	tags, err := normalizeTags(in.Tags)
	if err != nil {
		return models.Post{}, err
	}
	var categoryID *string
	if slug := strings.TrimSpace(in.Category); slug != "" {
		c, err := s.st.GetCategoryBySlug(ctx, slug)
		if errors.Is(err, store.ErrNotFound) {
			return models.Post{}, invalid("category", "unknown category")
		}
		if err != nil {
			return models.Post{}, err
		}
		categoryID = &c.ID
	}
	return s.st.CreatePost(ctx, actor.UserID, categoryID, title, body, tags)
}

func (s *Service) DeletePost(ctx context.Context, actor Principal, id string) error {
	p, err := s.st.GetPost(ctx, id)
	if err != nil {
		return err
	}
	if err := s.authorize(ctx, actor, p.AuthorID); err != nil {
		return err
	}
	if err := s.st.DeletePost(ctx, id); err != nil {
		return err
	}
	s.moderated(ctx, actor, p.AuthorID, "post", id)
	return nil
}

func (s *Service) ListComments(ctx context.Context, postID string, limit, offset int) ([]models.Comment, error) {
	if _, err := s.st.GetPost(ctx, postID); err != nil {
		return nil, err
	}
	limit, offset = Page(limit, offset)
	return s.st.ListComments(ctx, postID, limit, offset)
}

func (s *Service) CreateComment(ctx context.Context, actor Principal, postID, body string) (models.Comment, error) {
	body = strings.TrimSpace(body)
	if body == "" || utf8.RuneCountInString(body) > maxCommentLen {
		return models.Comment{}, invalid("body", "must be 1-5000 characters")
	}
	return s.st.CreateComment(ctx, postID, actor.UserID, body)
}

func (s *Service) DeleteComment(ctx context.Context, actor Principal, id string) error {
	c, err := s.st.GetComment(ctx, id)
	if err != nil {
		return err
	}
	if err := s.authorize(ctx, actor, c.AuthorID); err != nil {
		return err
	}
	if err := s.st.DeleteComment(ctx, id); err != nil {
		return err
	}
	s.moderated(ctx, actor, c.AuthorID, "comment", id)
	return nil
}

func (s *Service) ListTags(ctx context.Context, limit int) ([]models.Tag, error) {
	limit, _ = Page(limit, 0)
	return s.st.ListTags(ctx, limit)
}

func (s *Service) ListQuestions(ctx context.Context, q models.QuestionQuery) ([]models.InterviewQuestion, error) {
	q.Limit, q.Offset = Page(q.Limit, q.Offset)
	return s.st.ListQuestions(ctx, q)
}

func (s *Service) CreateQuestion(ctx context.Context, actor Principal, in QuestionInput) (models.InterviewQuestion, error) {
	q := models.InterviewQuestion{
		AuthorID: actor.UserID,
		Company:  strings.TrimSpace(in.Company),
		Role:     strings.TrimSpace(in.Role),
		Question: strings.TrimSpace(in.Question),
		Answer:   strings.TrimSpace(in.Answer),
	}
	if q.Company == "" || len(q.Company) > 100 {
		return models.InterviewQuestion{}, invalid("company", "must be 1-100 characters")
	}
	if len(q.Role) > 100 {
		return models.InterviewQuestion{}, invalid("role", "must be at most 100 characters")
	}
	if q.Question == "" || utf8.RuneCountInString(q.Question) > maxCommentLen {
		return models.InterviewQuestion{}, invalid("question", "must be 1-5000 characters")
	}
	if utf8.RuneCountInString(q.Answer) > maxBodyLen {
		return models.InterviewQuestion{}, invalid("answer", "must be at most 20000 characters")
	}
	return s.st.CreateQuestion(ctx, q)
}

func (s *Service) DeleteQuestion(ctx context.Context, actor Principal, id string) error {
	q, err := s.st.GetQuestion(ctx, id)
	if err != nil {
		return err
	}
	if err := s.authorize(ctx, actor, q.AuthorID); err != nil {
		return err
	}
	if err := s.st.DeleteQuestion(ctx, id); err != nil {
		return err
	}
	s.moderated(ctx, actor, q.AuthorID, "question", id)
	return nil
}

// authorize lets authors manage their own content and admins or
// moderators manage any.
func (s *Service) authorize(ctx context.Context, actor Principal, authorID string) error {
	if actor.UserID == "" {
		return ErrForbidden
	}
	if actor.UserID == authorID || s.IsAdmin(ctx, actor.UserID) {
		return nil
	}
	mod, err := s.st.HasRole(ctx, actor.UserID, models.RoleModerator)
	if err != nil {
		return err
	}
	if mod {
		return nil
	}
	return ErrForbidden
}

func (s *Service) moderated(ctx context.Context, actor Principal, authorID, kind, id string) {
	if actor.UserID == authorID {
		return
	}
	s.audit(ctx, actor.UserID, "content.delete", id, map[string]string{"kind": kind, "author_id": authorID})
}

func normalizeTags(raw []string) ([]string, error) {
	seen := map[string]bool{}
	out := make([]string, 0, len(raw))
	for _, t := range raw {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		if !tagRx.MatchString(t) {
			return nil, invalid("tags", "tag "+t+" is not valid")
		}
		seen[t] = true
		out = append(out, t)
	}
	if len(out) > maxTagsPerPost {
		return nil, invalid("tags", "at most 5 tags per post")
	}
	return out, nil
}
